package fs

import (
	"errors"
	"fmt"
)

// Common errors returned by adapters.
//
// Adapters wrap them in a *PathError; check with errors.Is:
//
//	if errors.Is(err, fs.ErrNotFound) {
//	    // first run, nothing written yet
//	}
var (
	// ErrNotFound is returned when a file or directory does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidPath is returned for paths that escape the adapter root or
	// that cannot name a file.
	ErrInvalidPath = errors.New("invalid path")

	// ErrIsDir is returned when a file operation targets a directory.
	ErrIsDir = errors.New("is a directory")

	// ErrNotDir is returned when a directory operation targets a file.
	ErrNotDir = errors.New("not a directory")

	// ErrUnknownPlatform is returned by Open when no backend is registered
	// for the requested platform.
	ErrUnknownPlatform = errors.New("no backend registered for platform")
)

// PathError records the operation and logical path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

func pathErr(op, p string, err error) error {
	return &PathError{Op: op, Path: p, Err: err}
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
