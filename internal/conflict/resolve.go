package conflict

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/flowy-gtd/flowy/internal/format"
)

// Resolution says how a conflict was settled.
type Resolution int

const (
	// NotConflicting means Detect did not report a conflict.
	NotConflicting Resolution = iota
	// Identical means both sides already hold the same bytes.
	Identical
	// Merged means a structural merge combined both sides without loss.
	Merged
	// LocalWins means the later local version was kept and the remote one
	// preserved as a conflict copy.
	LocalWins
	// RemoteWins means the later remote version was kept and the local one
	// preserved as a conflict copy.
	RemoteWins
)

func (r Resolution) String() string {
	switch r {
	case NotConflicting:
		return "none"
	case Identical:
		return "identical"
	case Merged:
		return "merged"
	case LocalWins:
		return "local-wins"
	case RemoteWins:
		return "remote-wins"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// MarshalText renders the resolution for JSON output.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Policy tunes conflict handling.
type Policy struct {
	// Strict refuses last-write-wins and fails with ErrConflictUnresolved
	// whenever a conflict cannot be merged cleanly.
	Strict bool
}

// Copy is a preserved losing version. ModifiedAt is the loser's
// modification time the path was derived from.
type Copy struct {
	Path       string
	Content    []byte
	ModifiedAt int64
}

// Decision is the full outcome for one path.
type Decision struct {
	Direction  Direction
	Resolution Resolution

	// Content is what both sides should hold afterwards. It is nil for
	// deletes and for paths that need no change.
	Content []byte

	// WriteLocal and WriteRemote mark the sides whose content differs from
	// Content and must be written.
	WriteLocal  bool
	WriteRemote bool

	// Copy is set when a losing version must be preserved.
	Copy *Copy

	// Collisions lists task ids edited differently on both sides.
	Collisions []string
}

// Resolve decides what to do with p. For anything but a conflict the
// decision follows Detect directly. A conflict is settled by comparing
// content, then by merging task files, then by last-write-wins on
// modification time with the remote side winning ties.
func Resolve(p string, local, remote FileState, base *Baseline, policy Policy) (Decision, error) {
	dir := Detect(local, remote, base)
	d := Decision{Direction: dir}

	switch dir {
	case Push:
		d.Content = local.Content
		d.WriteRemote = true
		return d, nil
	case Pull:
		d.Content = remote.Content
		d.WriteLocal = true
		return d, nil
	case Conflict:
	default:
		return d, nil
	}

	if bytes.Equal(local.Content, remote.Content) {
		d.Resolution = Identical
		d.Content = local.Content
		return d, nil
	}

	remoteWins := remote.ModifiedAt >= local.ModifiedAt

	if format.KindOf(p) == format.KindTasks {
		if merged, collisions, ok := mergeTaskFiles(p, local, remote, base, remoteWins); ok {
			d.Content = merged
			d.Collisions = collisions
			if len(collisions) == 0 {
				d.Resolution = Merged
				d.finish(local, remote)
				return d, nil
			}
			if policy.Strict {
				return d, fmt.Errorf("%s: %d tasks edited on both sides: %w", p, len(collisions), ErrConflictUnresolved)
			}
			d.setWinner(p, local, remote, remoteWins)
			d.finish(local, remote)
			return d, nil
		}
	}

	if policy.Strict {
		return d, fmt.Errorf("%s: %w", p, ErrConflictUnresolved)
	}
	if remoteWins {
		d.Content = remote.Content
	} else {
		d.Content = local.Content
	}
	d.setWinner(p, local, remote, remoteWins)
	d.finish(local, remote)
	return d, nil
}

func (d *Decision) setWinner(p string, local, remote FileState, remoteWins bool) {
	if remoteWins {
		d.Resolution = RemoteWins
		d.Copy = &Copy{Path: CopyPath(p, local.ModifiedAt), Content: local.Content, ModifiedAt: local.ModifiedAt}
		return
	}
	d.Resolution = LocalWins
	d.Copy = &Copy{Path: CopyPath(p, remote.ModifiedAt), Content: remote.Content, ModifiedAt: remote.ModifiedAt}
}

func (d *Decision) finish(local, remote FileState) {
	d.WriteLocal = !bytes.Equal(d.Content, local.Content)
	d.WriteRemote = !bytes.Equal(d.Content, remote.Content)
}

func baseTasks(p string, base *Baseline) ([]format.Task, bool) {
	if base == nil || len(base.Content) == 0 {
		return nil, false
	}
	tasks, err := format.DeserializeTasks(p, base.Content)
	if err != nil {
		return nil, false
	}
	return tasks, true
}

// mergeTaskFiles merges two task files, three-way when the baseline kept
// its content, the winning side taking every collision. ok is false when
// either side does not parse.
func mergeTaskFiles(p string, local, remote FileState, base *Baseline, remoteWins bool) ([]byte, []string, bool) {
	lt, err := format.DeserializeTasks(p, local.Content)
	if err != nil {
		return nil, nil, false
	}
	rt, err := format.DeserializeTasks(p, remote.Content)
	if err != nil {
		return nil, nil, false
	}

	prefer := format.PreferLocal
	if remoteWins {
		prefer = format.PreferRemote
	}
	var (
		merged     []format.Task
		collisions []string
	)
	if bt, ok := baseTasks(p, base); ok {
		merged, collisions = format.MergeTasksWithBase(bt, lt, rt, prefer)
	} else {
		merged, collisions = format.MergeTasksPreferring(lt, rt, prefer)
	}

	updatedAt := local.ModifiedAt
	if remote.ModifiedAt > updatedAt {
		updatedAt = remote.ModifiedAt
	}
	data, err := format.SerializeTasks(merged, updatedAt)
	if err != nil {
		return nil, nil, false
	}
	return data, collisions, true
}

const copyStampLayout = "20060102-150405"

// CopyPath derives the path that preserves a losing version modified at
// modifiedAt (epoch ms): name.ext becomes name.conflict-YYYYMMDD-HHMMSS.ext
// in UTC.
func CopyPath(p string, modifiedAt int64) string {
	return copyPath(p, modifiedAt, 0)
}

// CopyPathN is CopyPath with a numeric suffix for disambiguation. n == 0
// yields CopyPath.
func CopyPathN(p string, modifiedAt int64, n int) string {
	return copyPath(p, modifiedAt, n)
}

func copyPath(p string, modifiedAt int64, n int) string {
	dir, name := path.Split(p)
	ext := path.Ext(name)
	if ext == name {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)

	marker := ".conflict-" + time.UnixMilli(modifiedAt).UTC().Format(copyStampLayout)
	if n > 0 {
		marker += fmt.Sprintf("-%d", n)
	}
	return dir + stem + marker + ext
}
