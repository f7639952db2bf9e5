package session

import (
	"errors"
	"fmt"
)

// Candidate input errors. The controller turns these into prompt events.
var (
	ErrNotInProgress         = errors.New("attempt is not in progress")
	ErrUnanswered            = errors.New("current question has no answer")
	ErrBackwardNavigation    = errors.New("cannot return to a previous question")
	ErrQuestionOutOfRange    = errors.New("question index out of range")
	ErrOptionOutOfRange      = errors.New("option index out of range")
	ErrNotFinalQuestion      = errors.New("submit is only available on the final question")
	ErrNoPendingConfirmation = errors.New("no submit confirmation pending")
	ErrInvalidTestData       = errors.New("invalid or missing test data")
)

// LoadError is fatal: the attempt ends in Failed.
type LoadError struct {
	AttemptID string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load attempt %s: %v", e.AttemptID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SubmissionError wraps a failed call to the submission service.
type SubmissionError struct {
	AttemptID string
	Reason    Reason
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit attempt %s (%s): %v", e.AttemptID, e.Reason, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StorageError wraps a scratch store failure. It is logged, never fatal.
type StorageError struct {
	Op        string
	AttemptID string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("scratch %s for attempt %s: %v", e.Op, e.AttemptID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
