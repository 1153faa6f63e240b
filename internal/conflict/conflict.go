// Package conflict decides how a file that exists locally, remotely or on
// both sides is brought back in sync.
//
// Every function here is pure: the decision depends only on the two file
// states and the recorded baseline, never on the wall clock, so the same
// inputs always produce the same Decision.
package conflict

import (
	"errors"
	"fmt"
)

// ErrConflictUnresolved is returned by Resolve under a strict policy when a
// conflict cannot be merged without discarding one side.
var ErrConflictUnresolved = errors.New("conflict cannot be resolved automatically")

// FileState is one side of a file. ModifiedAt is epoch milliseconds on that
// side's clock.
type FileState struct {
	Exists     bool
	Content    []byte
	ModifiedAt int64
}

// Baseline holds the modification times observed on each side at the end of
// the last successful transfer of a path. Each side is only ever compared
// against its own clock.
type Baseline struct {
	Local  int64 `json:"local"`
	Remote int64 `json:"remote"`

	// Content is the content both sides agreed on, when the caller kept
	// it. Task merges use it to tell one-sided edits from collisions.
	Content []byte `json:"-"`
}

// Direction is the action needed to reconcile a path.
type Direction int

const (
	None Direction = iota
	Push
	Pull
	DeleteLocal
	DeleteRemote
	Conflict
)

func (d Direction) String() string {
	switch d {
	case None:
		return "none"
	case Push:
		return "push"
	case Pull:
		return "pull"
	case DeleteLocal:
		return "delete-local"
	case DeleteRemote:
		return "delete-remote"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MarshalText renders the direction for JSON output.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Detect compares both sides against the baseline.
//
// A side has advanced when its modification time is later than the one
// recorded in base. A file missing on one side was deleted there when a
// baseline exists and the surviving side has not advanced; an edit always
// beats a delete. Without a baseline a one-sided file is new and a file on
// both sides is a conflict for the content to settle.
func Detect(local, remote FileState, base *Baseline) Direction {
	switch {
	case !local.Exists && !remote.Exists:
		return None

	case local.Exists && !remote.Exists:
		if base == nil || local.ModifiedAt > base.Local {
			return Push
		}
		return DeleteLocal

	case !local.Exists && remote.Exists:
		if base == nil || remote.ModifiedAt > base.Remote {
			return Pull
		}
		return DeleteRemote
	}

	if base == nil {
		return Conflict
	}
	localAdvanced := local.ModifiedAt > base.Local
	remoteAdvanced := remote.ModifiedAt > base.Remote
	switch {
	case localAdvanced && remoteAdvanced:
		return Conflict
	case localAdvanced:
		return Push
	case remoteAdvanced:
		return Pull
	default:
		return None
	}
}
