package store

import "errors"

// Errors returned by the store.
//
//	if errors.Is(err, store.ErrClosed) {
//	    // the application is shutting down
//	}
var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidEntity is returned when a task, journal or project is
	// missing a required field.
	ErrInvalidEntity = errors.New("invalid entity")
)
