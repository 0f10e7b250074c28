package storage

import (
	"errors"
	"fmt"
)

// Op identifies which store operation failed.
type Op string

const (
	OpInit   Op = "init"
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
)

// ErrCapacityExceeded is returned when a serialized value is larger than
// the configured per-value ceiling.
var ErrCapacityExceeded = errors.New("storage: capacity exceeded")

// Error wraps a backend failure with the operation and key it occurred on.
type Error struct {
	Op  Op
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
