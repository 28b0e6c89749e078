package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

var slotCols = []string{"id", "doctor_id", "slot_date", "start_time", "end_time", "status", "created_at", "updated_at"}

func TestPgTryHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(id, "held", "free").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	cal := NewPgCalendar(mock)
	require.NoError(t, cal.TryHold(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTryHoldConflictAndMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	held, missing := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(held, "held", "free").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM time_slots").
		WithArgs(held).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("held"))

	mock.ExpectExec("UPDATE time_slots").
		WithArgs(missing, "held", "free").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM time_slots").
		WithArgs(missing).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	cal := NewPgCalendar(mock)
	assert.ErrorIs(t, cal.TryHold(context.Background(), held), ErrConflict)
	assert.ErrorIs(t, cal.TryHold(context.Background(), missing), ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCommitReportsCurrentState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(id, "booked", "held").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM time_slots").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("free"))

	err = NewPgCalendar(mock).Commit(context.Background(), id)
	var te *apperr.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "free", te.Current)
	assert.Equal(t, "booked", te.Target)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPublishSlots(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctor := uuid.New()
	iv := Interval{Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute)}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(doctor.String() + "/2026-03-02").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT start_time, end_time").
		WithArgs(doctor, day).
		WillReturnRows(pgxmock.NewRows([]string{"start_time", "end_time"}).
			AddRow(day.Add(10*time.Hour), day.Add(10*time.Hour+30*time.Minute)))
	mock.ExpectQuery("INSERT INTO time_slots").
		WithArgs(pgxmock.AnyArg(), doctor, day, iv.Start, iv.End).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(uuid.New(), doctor, day, iv.Start, iv.End, "free", now, now))
	mock.ExpectCommit()

	created, err := NewPgCalendar(mock).PublishSlots(context.Background(), doctor, day, []Interval{iv})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, SlotFree, created[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPublishSlotsOverlapRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctor := uuid.New()
	iv := Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT start_time, end_time").
		WithArgs(doctor, day).
		WillReturnRows(pgxmock.NewRows([]string{"start_time", "end_time"}).
			AddRow(day.Add(9*time.Hour+30*time.Minute), day.Add(10*time.Hour+30*time.Minute)))
	mock.ExpectRollback()

	_, err = NewPgCalendar(mock).PublishSlots(context.Background(), doctor, day, []Interval{iv})
	assert.ErrorIs(t, err, apperr.ErrOverlappingSlot)
	require.NoError(t, mock.ExpectationsWereMet())
}
