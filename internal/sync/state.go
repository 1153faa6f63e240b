package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	gosync "sync"

	"github.com/flowy-gtd/flowy/internal/conflict"
	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
)

const (
	// MetaDir holds engine metadata inside the local tree. It is never
	// synced.
	MetaDir = ".gtd"

	// StatePath is the persisted sync state.
	StatePath = MetaDir + "/sync-state.json"

	// basePrefix holds the last agreed content of task files, used for
	// three-way merges.
	basePrefix = MetaDir + "/base/"

	currentStateVersion = 1
)

// IsManaged reports whether p takes part in sync. Engine metadata does not.
func IsManaged(p string) bool {
	return p != MetaDir && !strings.HasPrefix(p, MetaDir+"/")
}

// stateFile is the on-disk form of State.
type stateFile struct {
	Version  int                          `json:"version"`
	Remote   string                       `json:"remote,omitempty"`
	LastSync int64                        `json:"lastSync,omitempty"`
	Files    map[string]conflict.Baseline `json:"files"`
}

// State is the sync metadata persisted next to the managed tree: the
// baseline of every path transferred successfully and the time of the last
// completed sync. It is safe for concurrent use.
type State struct {
	mu       gosync.Mutex
	remote   string
	lastSync int64
	files    map[string]conflict.Baseline
	bases    map[string][]byte // pending base snapshots, nil value = delete
}

// NewState returns an empty state for the given remote.
func NewState(remote string) *State {
	return &State{
		remote: remote,
		files:  make(map[string]conflict.Baseline),
		bases:  make(map[string][]byte),
	}
}

// LoadState reads the state from the adapter. A missing or unreadable file
// yields an empty state, as does a state recorded against another remote:
// baselines of one server say nothing about another.
func LoadState(ctx context.Context, a fs.Adapter, remote string) (*State, error) {
	s := NewState(remote)
	data, err := a.Read(ctx, StatePath)
	if fs.IsNotFound(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return s, &format.FormatError{Path: StatePath, Err: err}
	}
	if f.Remote != remote {
		return s, nil
	}
	s.lastSync = f.LastSync
	for p, b := range f.Files {
		s.files[p] = b
	}
	return s, nil
}

// Remote identifies the server the baselines belong to.
func (s *State) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// LastSync returns the completion time of the last sync in epoch ms.
func (s *State) LastSync() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// Baseline returns the recorded baseline for p, or nil.
func (s *State) Baseline(p string) *conflict.Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[p]
	if !ok {
		return nil
	}
	return &b
}

// Paths lists every path with a baseline.
func (s *State) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Record stores the baseline of p after a successful transfer. content is
// what both sides now hold; it is kept for task files only.
func (s *State) Record(p string, local, remote int64, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = conflict.Baseline{Local: local, Remote: remote}
	if format.KindOf(p) == format.KindTasks {
		s.bases[p] = append([]byte(nil), content...)
	}
}

// Forget drops p after it was deleted on both sides.
func (s *State) Forget(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, p)
	if format.KindOf(p) == format.KindTasks {
		s.bases[p] = nil
	}
}

// MarkSynced sets the last sync time.
func (s *State) MarkSynced(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = ms
}

// LoadBase fills in the content of a task file baseline.
func (s *State) LoadBase(ctx context.Context, a fs.Adapter, p string, b *conflict.Baseline) {
	if b == nil || format.KindOf(p) != format.KindTasks {
		return
	}
	s.mu.Lock()
	pending, ok := s.bases[p]
	s.mu.Unlock()
	if ok {
		b.Content = pending
		return
	}
	if data, err := a.Read(ctx, basePrefix+p); err == nil {
		b.Content = data
	}
}

// Save writes the state and any pending base snapshots.
func (s *State) Save(ctx context.Context, a fs.Adapter) error {
	s.mu.Lock()
	f := stateFile{
		Version:  currentStateVersion,
		Remote:   s.remote,
		LastSync: s.lastSync,
		Files:    make(map[string]conflict.Baseline, len(s.files)),
	}
	for p, b := range s.files {
		f.Files[p] = conflict.Baseline{Local: b.Local, Remote: b.Remote}
	}
	bases := s.bases
	s.bases = make(map[string][]byte)
	s.mu.Unlock()

	for p, content := range bases {
		target := path.Clean(basePrefix + p)
		var err error
		if content == nil {
			err = a.Delete(ctx, target)
		} else {
			err = a.Write(ctx, target, content)
		}
		if err != nil {
			s.restoreBases(bases)
			return fmt.Errorf("failed to save base snapshot of %s: %w", p, err)
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync state: %w", err)
	}
	if err := a.Write(ctx, StatePath, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}

// restoreBases re-queues snapshots that could not be saved, keeping any
// recorded since.
func (s *State) restoreBases(bases map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, content := range bases {
		if _, newer := s.bases[p]; !newer {
			s.bases[p] = content
		}
	}
}
