package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a folder, message or id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned for operations a backend cannot perform.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// OutOfBoundsError is returned when a listing page starts past the last
// message. Page is zero-based.
type OutOfBoundsError struct {
	Page int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("cannot list envelopes: page %d out of bounds", e.Page+1)
}

// IsOutOfBounds reports whether err carries an *OutOfBoundsError.
func IsOutOfBounds(err error) bool {
	var oob *OutOfBoundsError
	return errors.As(err, &oob)
}
