package sync

import (
	"errors"

	"github.com/flowy-gtd/flowy/internal/conflict"
	"github.com/flowy-gtd/flowy/internal/webdav"
)

// Errors returned by the engine.
//
//	if errors.Is(err, sync.ErrAlreadySyncing) {
//	    // a sync is running; its result arrives through Subscribe
//	}
var (
	// ErrAlreadySyncing is returned by SyncAll and Configure while a sync
	// is in progress.
	ErrAlreadySyncing = errors.New("sync already in progress")

	// ErrNotConfigured is returned by SyncAll and Plan before a remote has
	// been configured.
	ErrNotConfigured = errors.New("sync remote not configured")
)

// IsUserActionRequired reports whether err cannot go away without the user
// doing something: fixing credentials, configuring a server or resolving a
// conflict by hand.
func IsUserActionRequired(err error) bool {
	return errors.Is(err, webdav.ErrAuth) ||
		errors.Is(err, webdav.ErrNoURL) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, conflict.ErrConflictUnresolved)
}
