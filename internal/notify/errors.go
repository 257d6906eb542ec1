package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence is the kind of every failure to durably record a notification.
	ErrPersistence = errors.New("notification persistence failed")

	// ErrInvalidTask is returned when a task lacks the parties a notification needs.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidInput is returned by stores for malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a notification id does not exist.
	ErrNotFound = errors.New("notification not found")
)

// PersistenceError wraps a store failure that aborted a dispatch before any push.
type PersistenceError struct {
	Kind Kind
	Err  error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s: %v", ErrPersistence.Error(), e.Kind, e.Err)
}

// Unwrap makes the error match both ErrPersistence and the underlying store error.
func (e *PersistenceError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrPersistence, e.Err}
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func invalidTask(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTask, msg)
}
