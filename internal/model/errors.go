package model

import (
	"errors"
	"fmt"
)

var (
	// Control-plane errors surfaced to Submit/Resume/GetStatus callers.
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid state for operation")

	// Store and state machine guards.
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStateConflict     = errors.New("job state changed concurrently")
	ErrFieldNotAllowed   = errors.New("field not allowed for transition")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid payload: %s", e.Reason)
	}
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.JobID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError rejects an operation that the job's current state does
// not allow. The job is left untouched.
type InvalidStateError struct {
	JobID string
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s job %s in state %s", e.Op, e.JobID, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
