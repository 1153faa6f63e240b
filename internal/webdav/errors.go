package webdav

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/studio-b12/gowebdav"

	"github.com/flowy-gtd/flowy/internal/fs"
)

// Errors returned by Client operations.
//
// They arrive wrapped in an *Error carrying the operation and status:
//
//	if errors.Is(err, webdav.ErrAuth) {
//	    // ask the user for new credentials
//	}
var (
	// ErrAuth is returned when the server rejects the credentials
	// (401 or 403).
	ErrAuth = errors.New("webdav authentication failed")

	// ErrNetwork is returned for transport failures and for responses
	// that say the server is temporarily unable to answer (408, 429, 5xx).
	ErrNetwork = errors.New("webdav server unreachable")

	// ErrProtocol is returned for any other unexpected status.
	ErrProtocol = errors.New("unexpected webdav response")

	// ErrNoURL is returned by Dial when Options.URL is empty.
	ErrNoURL = errors.New("webdav url is required")
)

// Error describes a failed request.
type Error struct {
	Op     string
	Path   string
	Status int // 0 when no response was received
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webdav %s %s: %d %s: %v", e.Op, e.Path, e.Status, http.StatusText(e.Status), e.Err)
	}
	return fmt.Sprintf("webdav %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient network failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// classify maps a gowebdav error onto the package sentinels. 404 becomes
// fs.ErrNotFound so callers treat a missing remote file like a missing
// local one.
func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gowebdav.ErrAuthChanged) {
		return &Error{Op: op, Path: p, Err: ErrAuth}
	}

	var se gowebdav.StatusError
	if !errors.As(err, &se) {
		return &Error{Op: op, Path: p, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}

	switch code := se.Status; {
	case code == http.StatusNotFound:
		return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotFound}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &Error{Op: op, Path: p, Status: code, Err: ErrAuth}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &Error{Op: op, Path: p, Status: code, Err: ErrNetwork}
	default:
		return &Error{Op: op, Path: p, Status: code, Err: ErrProtocol}
	}
}
