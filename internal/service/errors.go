// Package service contains the core business logic: missing/found report
// correlation, medical dispatch and the route/parking state machine.
package service

import (
	"errors"
	"fmt"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/repository"
)

// ─── Errors ─────────────────────────────────────────────────
//
// Every operation returns either a typed result or one of these, possibly
// wrapped with detail via fmt.Errorf("%w: ...").

var (
	// ErrValidation is returned when a required attribute is missing or invalid.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an id does not resolve to a known record.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved is returned when a closed case is acted on as if open.
	ErrAlreadyResolved = errors.New("already resolved")

	// ErrDispatchFailure is returned when no eligible facility lies within range.
	// It is an operational outcome, not a fault.
	ErrDispatchFailure = errors.New("no eligible facility within range")

	// ErrAlreadyAssigned is returned when an emergency already has a facility.
	ErrAlreadyAssigned = errors.New("emergency already has an assigned facility")

	// ErrCascadeConflict is returned when a guarded route write lost a race
	// with another registry write (typically a Parvani-day cascade).
	ErrCascadeConflict = errors.New("route registry changed concurrently")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classifyError maps repository errors to service errors. Errors that are
// already service errors pass through untouched.
func classifyError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrAlreadyResolved):
		return fmt.Errorf("%s: %w", op, ErrAlreadyResolved)
	case errors.Is(err, repository.ErrKindMismatch):
		return fmt.Errorf("%s: %w: %v", op, ErrValidation, err)
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrDispatchFailure),
		errors.Is(err, ErrAlreadyAssigned),
		errors.Is(err, ErrCascadeConflict):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
