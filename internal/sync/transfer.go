package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/flowy-gtd/flowy/internal/conflict"
	"github.com/flowy-gtd/flowy/internal/fs"
)

// errLocalChanged is returned when a local file changed between listing and
// writing. The path is picked up again by the next sync.
var errLocalChanged = errors.New("local file changed during sync")

type outcome int

const (
	outcomeNone outcome = iota
	outcomePushed
	outcomePulled
	outcomeMerged
	outcomeConflicted
	outcomeDeleted
	outcomeUnchanged
)

type result struct {
	kind       outcome
	resolution conflict.Resolution
	copies     []string
}

func (r result) count(s *Summary) {
	switch r.kind {
	case outcomePushed:
		s.Pushed++
	case outcomePulled:
		s.Pulled++
	case outcomeMerged:
		s.Merged++
	case outcomeConflicted:
		s.Conflicted++
	case outcomeDeleted:
		s.Deleted++
	case outcomeUnchanged:
		s.Unchanged++
	}
	s.ConflictCopies = append(s.ConflictCopies, r.copies...)
}

// statWriter is implemented by fs.SerializedAdapter. Its writes report the
// info of the file they wrote, taken under the path lock.
type statWriter interface {
	UpdateStat(ctx context.Context, p string, fn func(old []byte) ([]byte, error)) (fs.FileInfo, error)
	WriteStat(ctx context.Context, p string, data []byte) (fs.FileInfo, error)
}

// transfer applies plan entries of one sync. Each path is handled by one
// goroutine at a time.
type transfer struct {
	engine      *Engine
	remote      Remote
	state       *State
	localFiles  map[string]fs.FileInfo
	remoteFiles map[string]fs.FileInfo

	mu       gosync.Mutex
	reserved map[string]bool
}

func (t *transfer) apply(ctx context.Context, entry PlanEntry) (result, error) {
	switch entry.Direction {
	case conflict.Push:
		return t.push(ctx, entry)
	case conflict.Pull:
		return t.pull(ctx, entry)
	case conflict.DeleteLocal:
		if err := t.engine.local.Delete(ctx, entry.Path); err != nil {
			return result{}, fmt.Errorf("failed to delete local file: %w", err)
		}
		t.state.Forget(entry.Path)
		return result{kind: outcomeDeleted}, nil
	case conflict.DeleteRemote:
		err := t.engine.retry(ctx, "delete "+entry.Path, func() error {
			return t.remote.Delete(ctx, entry.Path)
		})
		if err != nil {
			return result{}, fmt.Errorf("failed to delete remote file: %w", err)
		}
		t.state.Forget(entry.Path)
		return result{kind: outcomeDeleted}, nil
	case conflict.Conflict:
		return t.resolve(ctx, entry)
	default:
		return result{kind: outcomeUnchanged}, nil
	}
}

func (t *transfer) push(ctx context.Context, entry PlanEntry) (result, error) {
	data, err := t.engine.local.Read(ctx, entry.Path)
	if err != nil {
		return result{}, fmt.Errorf("failed to read local file: %w", err)
	}
	remoteAt, err := t.put(ctx, entry.Path, data)
	if err != nil {
		return result{}, err
	}
	t.state.Record(entry.Path, entry.Local.ModifiedAt, remoteAt, data)
	return result{kind: outcomePushed}, nil
}

func (t *transfer) pull(ctx context.Context, entry PlanEntry) (result, error) {
	data, err := t.get(ctx, entry.Path)
	if err != nil {
		return result{}, err
	}

	var expect []byte
	if entry.Local != nil {
		if expect, err = t.engine.local.Read(ctx, entry.Path); err != nil {
			return result{}, fmt.Errorf("failed to read local file: %w", err)
		}
	}
	localAt, err := t.writeLocal(ctx, entry.Path, data, expect)
	if err != nil {
		return result{}, err
	}
	t.state.Record(entry.Path, localAt, entry.Remote.ModifiedAt, data)
	return result{kind: outcomePulled}, nil
}

func (t *transfer) resolve(ctx context.Context, entry PlanEntry) (result, error) {
	p := entry.Path
	localData, err := t.engine.local.Read(ctx, p)
	if err != nil {
		return result{}, fmt.Errorf("failed to read local file: %w", err)
	}
	remoteData, err := t.get(ctx, p)
	if err != nil {
		return result{}, err
	}

	local := conflict.FileState{Exists: true, Content: localData, ModifiedAt: entry.Local.ModifiedAt}
	remote := conflict.FileState{Exists: true, Content: remoteData, ModifiedAt: entry.Remote.ModifiedAt}
	base := t.state.Baseline(p)
	t.state.LoadBase(ctx, t.engine.local, p, base)

	d, err := conflict.Resolve(p, local, remote, base, t.engine.cfg.Policy)
	if err != nil {
		return result{resolution: d.Resolution}, err
	}

	res := result{resolution: d.Resolution}
	switch d.Resolution {
	case conflict.Identical:
		res.kind = outcomeUnchanged
	case conflict.Merged:
		res.kind = outcomeMerged
	default:
		res.kind = outcomeConflicted
	}

	if d.Copy != nil {
		copyPath, err := t.writeCopy(ctx, p, d.Copy)
		if err != nil {
			return res, err
		}
		res.copies = append(res.copies, copyPath)
		t.engine.cfg.Logger.Printf("Conflict on %s resolved as %s, kept losing version at %s", p, d.Resolution, copyPath)
	}

	localAt := entry.Local.ModifiedAt
	if d.WriteLocal {
		if localAt, err = t.writeLocal(ctx, p, d.Content, localData); err != nil {
			return res, err
		}
	}
	remoteAt := entry.Remote.ModifiedAt
	if d.WriteRemote {
		if remoteAt, err = t.put(ctx, p, d.Content); err != nil {
			return res, err
		}
	}
	t.state.Record(p, localAt, remoteAt, d.Content)
	return res, nil
}

// writeCopy stores a losing version on both sides under a free name.
func (t *transfer) writeCopy(ctx context.Context, p string, c *conflict.Copy) (string, error) {
	target, err := t.reserveCopyPath(ctx, p, c)
	if err != nil {
		return "", err
	}
	fi, err := writeStat(ctx, t.engine.local, target, c.Content)
	if err != nil {
		return "", fmt.Errorf("failed to write conflict copy: %w", err)
	}
	remoteAt, err := t.put(ctx, target, c.Content)
	if err != nil {
		// The copy is safe locally; the next sync pushes it.
		t.engine.cfg.Logger.Printf("WARNING: conflict copy %s not uploaded: %v", target, err)
		return target, nil
	}
	t.state.Record(target, fi.ModifiedAt, remoteAt, c.Content)
	return target, nil
}

func (t *transfer) reserveCopyPath(ctx context.Context, p string, c *conflict.Copy) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for n := 0; n < 100; n++ {
		candidate := c.Path
		if n > 0 {
			candidate = conflict.CopyPathN(p, c.ModifiedAt, n)
		}
		if t.reserved[candidate] {
			continue
		}
		if _, ok := t.localFiles[candidate]; ok {
			continue
		}
		if _, ok := t.remoteFiles[candidate]; ok {
			continue
		}
		exists, err := t.engine.local.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		t.reserved[candidate] = true
		return candidate, nil
	}
	return "", fmt.Errorf("no free conflict copy name for %s", p)
}

// writeLocal replaces p with data unless the file no longer holds expect
// (nil for a file that did not exist).
// It returns the new local modification time.
func (t *transfer) writeLocal(ctx context.Context, p string, data, expect []byte) (int64, error) {
	a := t.engine.local
	if w, ok := a.(statWriter); ok {
		fi, err := w.UpdateStat(ctx, p, func(old []byte) ([]byte, error) {
			if !bytes.Equal(old, expect) {
				return nil, errLocalChanged
			}
			return data, nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to write local file: %w", err)
		}
		return fi.ModifiedAt, nil
	}

	fi, err := writeStat(ctx, a, p, data)
	if err != nil {
		return 0, fmt.Errorf("failed to write local file: %w", err)
	}
	return fi.ModifiedAt, nil
}

// writeStat writes data to p and returns the info of the written file.
func writeStat(ctx context.Context, a fs.Adapter, p string, data []byte) (fs.FileInfo, error) {
	if w, ok := a.(statWriter); ok {
		return w.WriteStat(ctx, p, data)
	}
	if err := a.Write(ctx, p, data); err != nil {
		return fs.FileInfo{}, err
	}
	return a.Stat(ctx, p)
}

// put uploads data and returns the resulting remote modification time.
func (t *transfer) put(ctx context.Context, p string, data []byte) (int64, error) {
	err := t.engine.retry(ctx, "put "+p, func() error {
		return t.remote.Put(ctx, p, data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload: %w", err)
	}
	var fi fs.FileInfo
	err = t.engine.retry(ctx, "stat "+p, func() error {
		var err error
		fi, err = t.remote.Stat(ctx, p)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to stat uploaded file: %w", err)
	}
	return fi.ModifiedAt, nil
}

// get downloads p fully before anything is written locally.
func (t *transfer) get(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := t.engine.retry(ctx, "get "+p, func() error {
		var err error
		data, err = t.remote.Get(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	return data, nil
}
