package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
)

var appointmentCols = []string{
	"id", "patient_id", "doctor_id", "slot_id", "appt_date", "start_time", "end_time", "reason",
	"status", "status_reason", "changed_by", "hold_expires_at", "created_at", "updated_at",
}

func sampleAppointment() *Appointment {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &Appointment{
		ID:            uuid.New(),
		PatientID:     uuid.New(),
		DoctorID:      uuid.New(),
		SlotID:        uuid.New(),
		Date:          date,
		StartTime:     date.Add(9 * time.Hour),
		EndTime:       date.Add(9*time.Hour + 30*time.Minute),
		Reason:        "follow-up",
		Status:        StatusHeld,
		HoldExpiresAt: now.Add(DefaultHoldTimeout),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func appointmentRow(a *Appointment, status Status) *pgxmock.Rows {
	return pgxmock.NewRows(appointmentCols).AddRow(
		a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Date, a.StartTime, a.EndTime, a.Reason,
		string(status), a.StatusReason, a.ChangedBy, a.HoldExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
}

func TestPgCreateMapsActiveSlotViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: activeSlotIndex})

	err = NewPgRepository(mock).Create(context.Background(), a)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Date, a.StartTime, a.EndTime, a.Reason,
			"held_pending_confirmation", a.StatusReason, a.ChangedBy, a.HoldExpiresAt, a.CreatedAt, a.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPgRepository(mock).Create(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT .* FROM appointments").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(appointmentCols))

	_, err = NewPgRepository(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	at := a.CreatedAt.Add(time.Minute)
	actor := a.DoctorID
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "confirmed", "held_pending_confirmation", (*string)(nil), &actor, at).
		WillReturnRows(appointmentRow(a, StatusConfirmed))

	got, err := NewPgRepository(mock).UpdateStatus(context.Background(), a.ID, StatusHeld, StatusConfirmed, Change{ActorID: &actor, At: at})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusReportsCurrentState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "confirmed", "held_pending_confirmation", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("SELECT status FROM appointments").
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("expired"))

	_, err = NewPgRepository(mock).UpdateStatus(context.Background(), a.ID, StatusHeld, StatusConfirmed, Change{At: time.Now()})
	var te *apperr.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "expired", te.Current)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMoveSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	next := calendar.TimeSlot{ID: uuid.New(), DoctorID: a.DoctorID, Date: date, Start: date.Add(11 * time.Hour), End: date.Add(11*time.Hour + 30*time.Minute)}
	at := a.CreatedAt.Add(time.Minute)
	actor := a.DoctorID

	moved := *a
	moved.SlotID, moved.StartTime, moved.EndTime = next.ID, next.Start, next.End
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "held_pending_confirmation", a.SlotID, next.ID, date, next.Start, next.End, (*string)(nil), &actor, at).
		WillReturnRows(appointmentRow(&moved, StatusHeld))

	got, err := NewPgRepository(mock).MoveSlot(context.Background(), a.ID, StatusHeld, a.SlotID, next, Change{ActorID: &actor, At: at})
	require.NoError(t, err)
	assert.Equal(t, next.ID, got.SlotID)
	assert.Equal(t, next.Start, got.StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMoveSlotReportsWhyNothingMoved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	next := calendar.TimeSlot{ID: uuid.New(), Date: date, Start: date.Add(11 * time.Hour), End: date.Add(12 * time.Hour)}
	elsewhere := uuid.New()
	repo := NewPgRepository(mock)

	mock.ExpectQuery("UPDATE appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("SELECT status, slot_id FROM appointments").
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id"}).AddRow("cancelled", a.SlotID))

	_, err = repo.MoveSlot(context.Background(), a.ID, StatusHeld, a.SlotID, next, Change{At: time.Now()})
	state, ok := apperr.CurrentState(err)
	require.True(t, ok, "want TransitionError, got %v", err)
	assert.Equal(t, "cancelled", state)

	mock.ExpectQuery("UPDATE appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("SELECT status, slot_id FROM appointments").
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id"}).AddRow("held_pending_confirmation", elsewhere))

	_, err = repo.MoveSlot(context.Background(), a.ID, StatusHeld, a.SlotID, next, Change{At: time.Now()})
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	mock.ExpectQuery("UPDATE appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: activeSlotIndex})

	_, err = repo.MoveSlot(context.Background(), a.ID, StatusHeld, a.SlotID, next, Change{At: time.Now()})
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListStaleHolds(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	now := a.HoldExpiresAt.Add(time.Second)
	mock.ExpectQuery("FROM appointments").
		WithArgs("held_pending_confirmation", now, 50).
		WillReturnRows(appointmentRow(a, StatusHeld))

	got, err := NewPgRepository(mock).ListStaleHolds(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	status := StatusHeld
	mock.ExpectQuery("SELECT count").
		WithArgs(a.PatientID, "held_pending_confirmation").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(a.PatientID, "held_pending_confirmation", 20, 20).
		WillReturnRows(appointmentRow(a, StatusHeld))

	items, total, err := NewPgRepository(mock).List(context.Background(), ListFilter{PatientID: &a.PatientID, Status: &status, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 21, total)
	require.Len(t, items, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
