package appointment

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventRequested EventKind = "Requested"
	EventConfirmed EventKind = "Confirmed"
	EventRejected  EventKind = "Rejected"
	EventExpired   EventKind = "Expired"
	EventCancelled EventKind = "Cancelled"
	EventCompleted EventKind = "Completed"
	// EventRescheduled moves an appointment to another slot without changing
	// its status.
	EventRescheduled EventKind = "Rescheduled"
)

// Event is emitted after a transition has been stored.
type Event struct {
	Kind        EventKind
	Appointment Appointment
	ActorID     uuid.UUID
	OccurredAt  time.Time
}

// Publisher receives transition events. Publish must not block on
// downstream work.
type Publisher interface {
	Publish(ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
