// Package apperr holds the error taxonomy shared by the scheduling packages.
//
// Domain packages wrap these sentinels so callers (the HTTP layer, the
// dispatcher) can branch with errors.Is without importing every package.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrOverlappingSlot   = errors.New("overlapping slot")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrTransient         = errors.New("transient error")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// TransitionError reports a state precondition that no longer holds. Current
// is the state actually observed so the caller can resynchronize.
type TransitionError struct {
	Entity  string
	ID      string
	Current string
	Target  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move to %s from current state %s", e.Entity, e.ID, e.Target, e.Current)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CurrentState extracts the observed state from a TransitionError anywhere in
// the chain.
func CurrentState(err error) (string, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Current, true
	}
	return "", false
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
