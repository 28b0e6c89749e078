// Package notify delivers appointment notifications through the external
// notification service. Implementations report retryable failures as
// apperr.ErrTransient.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Payload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Status        string    `json:"status"`
	Date          string    `json:"date"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Reason        string    `json:"reason,omitempty"`
	StatusReason  string    `json:"status_reason,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, recipientID uuid.UUID, kind string, p Payload) error
}

// LogNotifier only logs. It is the default when no delivery backend is
// configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, recipientID uuid.UUID, kind string, p Payload) error {
	n.logger.Info().
		Str("recipient_id", recipientID.String()).
		Str("kind", kind).
		Str("appointment_id", p.AppointmentID.String()).
		Str("status", p.Status).
		Msg("notification")
	return nil
}
