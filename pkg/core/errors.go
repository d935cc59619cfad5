package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("pipeline: job not found")
	ErrInvalidInput      = errors.New("pipeline: invalid input")
	ErrEmptySource       = errors.New("pipeline: source has no rows")
	ErrInvalidTransition = errors.New("pipeline: invalid status transition")
	ErrJobNotOwned       = errors.New("pipeline: job not leased by this worker")
	ErrJobTerminal       = errors.New("pipeline: job already terminal")
	ErrUnauthorized      = errors.New("pipeline: unauthorized")
	ErrVersionConflict   = errors.New("pipeline: entity version conflict")
	ErrNoConflict        = errors.New("pipeline: no conflict recorded for field")
	ErrInvalidBrand      = errors.New("pipeline: invalid brand id")
	ErrInvalidSource     = errors.New("pipeline: invalid source identity")
)

// FatalError marks a job-level error that must not be retried: the job
// transitions straight to failed. Transient infrastructure errors are
// left unwrapped and go through bounded chunk retries instead.
type FatalError struct {
	Kind string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (%s): %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps an error as non-retryable with a structured kind for
// observability.
func Fatal(kind string, err error) error {
	return &FatalError{Kind: kind, Err: err}
}

// IsFatal reports whether err carries a FatalError, returning its kind.
func IsFatal(err error) (string, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
