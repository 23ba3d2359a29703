package halcyon

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the server has been closed
	ErrClosed = errors.New("server is closed")

	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StartupError reports a persistence-recovery failure during Start. A
// corrupt snapshot or append log halts startup rather than serving a
// partial keyspace.
type StartupError struct {
	Source string // "snapshot" or "appendlog"
	Path   string
	Err    error
}

// Error implements the error interface
func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed loading %s %s: %v", e.Source, e.Path, e.Err)
}

// Unwrap returns the wrapped error
func (e *StartupError) Unwrap() error {
	return e.Err
}
