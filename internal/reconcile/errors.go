package reconcile

import (
	"errors"
	"fmt"
)

// ErrSyncNotEnabled is returned for accounts without sync enabled.
var ErrSyncNotEnabled = errors.New("synchronization not enabled")

// SetupError aborts a pass before any change reached a backend or the
// cache.
type SetupError struct {
	Op      string
	Account string
	Err     error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("cannot %s of account %s: %v", e.Op, e.Account, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// ProgressError wraps the error of a progress callback. The pass that
// received it was rolled back.
type ProgressError struct {
	Err error
}

func (e *ProgressError) Error() string {
	return fmt.Sprintf("sync aborted by progress callback: %v", e.Err)
}

func (e *ProgressError) Unwrap() error {
	return e.Err
}
