package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", apperr.ErrNotFound)
	// ErrSlotTaken means another held or confirmed appointment already
	// references the slot.
	ErrSlotTaken = fmt.Errorf("%w: slot already has an active appointment", apperr.ErrSlotUnavailable)
)

// Repository stores appointments. UpdateStatus is conditional on the
// current status and reports the actual status when it does not match.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change Change) (*Appointment, error)

	// MoveSlot points the appointment at slot, provided it is still in
	// status and on fromSlot.
	MoveSlot(ctx context.Context, id uuid.UUID, status Status, fromSlot uuid.UUID, slot calendar.TimeSlot, change Change) (*Appointment, error)

	// ListStaleHolds returns held appointments whose hold deadline is before
	// now, oldest first.
	ListStaleHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
	List(ctx context.Context, f ListFilter) ([]Appointment, int, error)
}

func active(s Status) bool {
	return s == StatusHeld || s == StatusConfirmed
}

// MemoryRepository is the in-process Repository used by the memory backend
// and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Appointment
	order []uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]*Appointment)}
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[a.ID]; ok {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	if active(a.Status) {
		for _, other := range r.byID {
			if other.SlotID == a.SlotID && active(other.Status) {
				return ErrSlotTaken
			}
		}
	}

	cp := *a
	r.byID[a.ID] = &cp
	r.order = append(r.order, a.ID)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, change Change) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, transitionError(id, a.Status, to)
	}

	a.Status = to
	record(a, change)
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) MoveSlot(_ context.Context, id uuid.UUID, status Status, fromSlot uuid.UUID, slot calendar.TimeSlot, change Change) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != status {
		return nil, transitionError(id, a.Status, status)
	}
	if a.SlotID != fromSlot {
		return nil, slotMoved(id, a.SlotID)
	}
	for _, other := range r.byID {
		if other.ID != id && other.SlotID == slot.ID && active(other.Status) {
			return nil, ErrSlotTaken
		}
	}

	a.SlotID = slot.ID
	a.Date = calendar.Day(slot.Date)
	a.StartTime = slot.Start
	a.EndTime = slot.End
	record(a, change)
	cp := *a
	return &cp, nil
}

func record(a *Appointment, change Change) {
	a.UpdatedAt = change.At
	if change.Reason != nil {
		reason := *change.Reason
		a.StatusReason = &reason
	}
	if change.ActorID != nil {
		actor := *change.ActorID
		a.ChangedBy = &actor
	}
}

func slotMoved(id, current uuid.UUID) error {
	return fmt.Errorf("%w: appointment %s is now on slot %s", apperr.ErrSlotUnavailable, id, current)
}

func (r *MemoryRepository) ListStaleHolds(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.byID {
		if a.Status == StatusHeld && a.HoldExpiresAt.Before(now) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HoldExpiresAt.Before(out[j].HoldExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]Appointment, int, error) {
	f = f.Normalize()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Appointment
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.byID[r.order[i]]
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		matched = append(matched, *a)
	}

	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []Appointment{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}
