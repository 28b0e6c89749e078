// Package calendar keeps each doctor's bookable time slots and guards the
// free -> held -> booked transitions.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

var (
	ErrSlotNotFound = fmt.Errorf("slot %w", apperr.ErrNotFound)
	// ErrConflict is returned by TryHold when the slot is not free.
	ErrConflict = errors.New("slot is not free")
)

// Calendar is the slot inventory. TryHold must be safe under concurrent
// callers: at most one wins for a given slot.
type Calendar interface {
	PublishSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, batch []Interval) ([]TimeSlot, error)
	FindSlot(ctx context.Context, doctorID uuid.UUID, date, start time.Time) (*TimeSlot, error)
	GetSlot(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error)
	ListSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error)

	TryHold(ctx context.Context, slotID uuid.UUID) error
	Release(ctx context.Context, slotID uuid.UUID) error
	Commit(ctx context.Context, slotID uuid.UUID) error
}
