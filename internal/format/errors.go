package format

import (
	"errors"
	"fmt"
)

// ErrMissingID is returned when a decoded entity has no id.
var ErrMissingID = errors.New("missing id")

// ErrInvalidID is returned for an id that cannot name a file.
var ErrInvalidID = errors.New("invalid id")

// FormatError reports a file whose content could not be decoded.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed file %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

func formatErr(path string, err error) error {
	return &FormatError{Path: path, Err: err}
}
