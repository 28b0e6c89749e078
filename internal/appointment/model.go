package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusHeld      Status = "held_pending_confirmation"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusRequested: {StatusHeld},
	StatusHeld:      {StatusConfirmed, StatusRejected, StatusExpired, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusRequested, StatusHeld, StatusConfirmed, StatusRejected,
		StatusExpired, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidArgument, s)
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Next returns to when the state machine allows from -> to, and a
// TransitionError naming the current state otherwise.
func Next(id uuid.UUID, from, to Status) (Status, error) {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return to, nil
		}
	}
	return from, transitionError(id, from, to)
}

func transitionError(id uuid.UUID, current, target Status) error {
	return &apperr.TransitionError{
		Entity:  "appointment",
		ID:      id.String(),
		Current: string(current),
		Target:  string(target),
	}
}

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	SlotID        uuid.UUID
	Date          time.Time
	StartTime     time.Time
	EndTime       time.Time
	Reason        string
	Status        Status
	StatusReason  *string
	ChangedBy     *uuid.UUID
	HoldExpiresAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsParticipant reports whether actor is the appointment's patient or doctor.
func (a *Appointment) IsParticipant(actor uuid.UUID) bool {
	return actor == a.PatientID || actor == a.DoctorID
}

// Change is what a status write records alongside the new status.
type Change struct {
	Reason  *string
	ActorID *uuid.UUID
	At      time.Time
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	Page      int
	Limit     int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Page struct {
	Items []Appointment
	Total int
	Page  int
	Limit int
}
