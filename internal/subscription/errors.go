package subscription

import (
	"errors"
	"fmt"
)

// ErrRepeatSyntax is returned by ParseRepeatCount for arguments that are not
// a plain non-negative decimal number.
var ErrRepeatSyntax = errors.New("repeat count must be a number")

// ValidationError reports a repeat count outside [Min, Max]. Nothing is
// persisted when it is returned.
type ValidationError struct {
	Value int
	Min   int
	Max   int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("repeat count %d out of range [%d, %d]", e.Value, e.Min, e.Max)
}

// PersistenceError wraps a storage failure. The mutation named by Op did not
// take effect.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
