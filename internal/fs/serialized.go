package fs

import (
	"context"
	"sync"
)

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// SerializedAdapter orders writes and deletes per path. Reads pass through.
type SerializedAdapter struct {
	Adapter

	mu    sync.Mutex
	locks map[string]*pathLock
}

// Serialized wraps a so that mutations of one path never overlap. Wrapping
// an already serialized adapter returns it unchanged.
func Serialized(a Adapter) *SerializedAdapter {
	if s, ok := a.(*SerializedAdapter); ok {
		return s
	}
	return &SerializedAdapter{
		Adapter: a,
		locks:   make(map[string]*pathLock),
	}
}

// Unwrap returns the underlying adapter.
func (s *SerializedAdapter) Unwrap() Adapter { return s.Adapter }

// Dir forwards to the underlying adapter when it is directory-backed.
func (s *SerializedAdapter) Dir() string {
	if d, ok := s.Adapter.(DirBacked); ok {
		return d.Dir()
	}
	return ""
}

func (s *SerializedAdapter) lock(p string) func() {
	key, err := CleanPath(p)
	if err != nil {
		key = p
	}

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &pathLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *SerializedAdapter) Write(ctx context.Context, p string, data []byte) error {
	unlock := s.lock(p)
	defer unlock()
	return s.Adapter.Write(ctx, p, data)
}

func (s *SerializedAdapter) Delete(ctx context.Context, p string) error {
	unlock := s.lock(p)
	defer unlock()
	return s.Adapter.Delete(ctx, p)
}

// Update reads the file at p, passes its content to fn (nil when the file
// does not exist) and writes the result, holding the path lock throughout.
func (s *SerializedAdapter) Update(ctx context.Context, p string, fn func(old []byte) ([]byte, error)) error {
	_, err := s.UpdateStat(ctx, p, fn)
	return err
}

// UpdateStat is Update returning the info of the written file. The stat is
// taken before the path lock is released, so it describes this write and
// not a later one.
func (s *SerializedAdapter) UpdateStat(ctx context.Context, p string, fn func(old []byte) ([]byte, error)) (FileInfo, error) {
	unlock := s.lock(p)
	defer unlock()

	old, err := s.Adapter.Read(ctx, p)
	if err != nil && !IsNotFound(err) {
		return FileInfo{}, err
	}
	data, err := fn(old)
	if err != nil {
		return FileInfo{}, err
	}
	if err := s.Adapter.Write(ctx, p, data); err != nil {
		return FileInfo{}, err
	}
	return s.Adapter.Stat(ctx, p)
}

// WriteStat writes data to p and returns the info of the written file,
// both under the path lock.
func (s *SerializedAdapter) WriteStat(ctx context.Context, p string, data []byte) (FileInfo, error) {
	unlock := s.lock(p)
	defer unlock()

	if err := s.Adapter.Write(ctx, p, data); err != nil {
		return FileInfo{}, err
	}
	return s.Adapter.Stat(ctx, p)
}
