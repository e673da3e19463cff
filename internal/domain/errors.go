package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrCompletedJobNotFound is returned when no completed document exists
	// for the requested job ID.
	ErrCompletedJobNotFound = errors.New("completed job not found")
)

// ValidationError marks a malformed or contract-violating event. Not retried;
// the consumer dead-letters the message.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// Validationf builds a ValidationError.
func Validationf(reason string) error { return &ValidationError{Reason: reason} }

// InvalidStateError marks an event or command that arrived for a job in a
// state that cannot accept it. Not retried.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return "invalid state: " + e.Reason }

// ConflictError marks a duplicate terminal submission: the job ID already
// reached completed or quarantined storage.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

// ApplicationError marks a command whose precondition was not met, e.g.
// completing a job that is missing its sub-stores. Indicates an upstream bug;
// not retried automatically.
type ApplicationError struct {
	Reason string
}

func (e *ApplicationError) Error() string { return "application: " + e.Reason }

// TransientStoreError marks an optimistic-write precondition failure or a
// transaction abort under contention. Safe to retry immediately with fresh
// reads.
type TransientStoreError struct {
	Reason string
}

func (e *TransientStoreError) Error() string { return "transient store: " + e.Reason }

// IsTransient reports whether err is retryable with a fresh read.
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// IsContractViolation reports whether err should be dead-lettered rather than
// redelivered: validation, state, conflict and precondition failures all mean
// retrying the same message can never succeed.
func IsContractViolation(err error) bool {
	var (
		v *ValidationError
		s *InvalidStateError
		c *ConflictError
		a *ApplicationError
	)
	return errors.As(err, &v) || errors.As(err, &s) || errors.As(err, &c) || errors.As(err, &a)
}
