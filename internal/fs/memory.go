package fs

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	isDir bool
	data  []byte
	mtime int64
}

// Memory is an in-memory Adapter. Modification times come from its clock,
// which tests can replace to control ordering.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
	root    string
}

// MemoryOption configures a Memory adapter.
type MemoryOption func(*Memory)

// WithClock sets the time source used for modification times.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// WithRoot sets the value returned by Root.
func WithRoot(root string) MemoryOption {
	return func(m *Memory) {
		m.root = root
	}
}

// NewMemory returns an empty in-memory tree.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*memEntry),
		now:     time.Now,
		root:    "memory",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Root() string { return m.root }

func (m *Memory) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return false, pathErr("exists", p, err)
	}
	if clean == "" {
		return true, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[clean]
	return ok, nil
}

func (m *Memory) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return nil, pathErr("read", p, err)
	}
	if clean == "" {
		return nil, pathErr("read", clean, ErrIsDir)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[clean]
	if !ok {
		return nil, pathErr("read", clean, ErrNotFound)
	}
	if e.isDir {
		return nil, pathErr("read", clean, ErrIsDir)
	}
	return append([]byte(nil), e.data...), nil
}

func (m *Memory) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return pathErr("write", p, err)
	}
	if clean == "" {
		return pathErr("write", p, ErrInvalidPath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[clean]; ok && e.isDir {
		return pathErr("write", clean, ErrIsDir)
	}
	now := m.now().UnixMilli()
	if err := m.mkdirsLocked(ancestors(clean), now); err != nil {
		return pathErr("write", clean, err)
	}
	m.entries[clean] = &memEntry{data: append([]byte(nil), data...), mtime: now}
	return nil
}

func (m *Memory) mkdirsLocked(dirs []string, now int64) error {
	for _, dir := range dirs {
		e, ok := m.entries[dir]
		if !ok {
			m.entries[dir] = &memEntry{isDir: true, mtime: now}
			continue
		}
		if !e.isDir {
			return ErrNotDir
		}
	}
	return nil
}

func (m *Memory) List(ctx context.Context, p string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return nil, pathErr("list", p, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if clean != "" {
		e, ok := m.entries[clean]
		if !ok {
			return nil, pathErr("list", clean, ErrNotFound)
		}
		if !e.isDir {
			return nil, pathErr("list", clean, ErrNotDir)
		}
	}

	out := []FileInfo{}
	for key, e := range m.entries {
		if parentOf(key) != clean {
			continue
		}
		out = append(out, e.info(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return pathErr("delete", p, err)
	}
	if clean == "" {
		return pathErr("delete", p, ErrInvalidPath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := clean + "/"
	for key := range m.entries {
		if key == clean || strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *Memory) EnsureDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return pathErr("mkdir", p, err)
	}
	if clean == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mkdirsLocked(append(ancestors(clean), clean), m.now().UnixMilli()); err != nil {
		return pathErr("mkdir", clean, err)
	}
	return nil
}

func (m *Memory) Stat(ctx context.Context, p string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return FileInfo{}, pathErr("stat", p, err)
	}
	if clean == "" {
		return FileInfo{IsDir: true}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[clean]
	if !ok {
		return FileInfo{}, pathErr("stat", clean, ErrNotFound)
	}
	return e.info(clean), nil
}

// SetModTime overrides the modification time of an existing path.
func (m *Memory) SetModTime(p string, t time.Time) error {
	clean, err := CleanPath(p)
	if err != nil {
		return pathErr("touch", p, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[clean]
	if !ok {
		return pathErr("touch", clean, ErrNotFound)
	}
	e.mtime = t.UnixMilli()
	return nil
}

func (e *memEntry) info(p string) FileInfo {
	fi := FileInfo{
		Name:       path.Base(p),
		Path:       p,
		IsDir:      e.isDir,
		ModifiedAt: e.mtime,
	}
	if !e.isDir {
		fi.Size = int64(len(e.data))
	}
	return fi
}
