package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a record with the same natural key already
// exists (e.g. a replayed provider message id).
var ErrDuplicate = errors.New("duplicate")

// ValidationError reports a record that cannot be persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}
