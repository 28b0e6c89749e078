package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
)

func (f *fixture) moveTo(id uuid.UUID, slot calendar.TimeSlot) (*Appointment, error) {
	return f.svc.Reschedule(context.Background(), id, f.doctor, RescheduleInput{
		Date:   date,
		Start:  slot.Start,
		Reason: "doctor in surgery",
	})
}

func TestRescheduleHeldMovesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.request(f.patientA, f.slots[0])
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	moved, err := f.moveTo(a.ID, f.slots[2])
	require.NoError(t, err)
	assert.Equal(t, a.ID, moved.ID)
	assert.Equal(t, StatusHeld, moved.Status)
	assert.Equal(t, f.slots[2].ID, moved.SlotID)
	assert.Equal(t, f.slots[2].Start, moved.StartTime)
	assert.Equal(t, f.slots[2].End, moved.EndTime)
	assert.Equal(t, a.HoldExpiresAt, moved.HoldExpiresAt)
	require.NotNil(t, moved.StatusReason)
	assert.Equal(t, "doctor in surgery", *moved.StatusReason)
	require.NotNil(t, moved.ChangedBy)
	assert.Equal(t, f.doctor, *moved.ChangedBy)

	assert.Equal(t, calendar.SlotFree, f.slotState(t, f.slots[0].ID))
	assert.Equal(t, calendar.SlotHeld, f.slotState(t, f.slots[2].ID))
	assert.Equal(t, []EventKind{EventRequested, EventRescheduled}, f.pub.kinds())

	// The freed slot can be booked and the moved hold can be confirmed.
	_, err = f.request(f.patientB, f.slots[0])
	require.NoError(t, err)
	confirmed, err := f.svc.DoctorConfirm(ctx, a.ID, f.doctor)
	require.NoError(t, err)
	assert.Equal(t, f.slots[2].ID, confirmed.SlotID)
	assert.Equal(t, calendar.SlotBooked, f.slotState(t, f.slots[2].ID))
}

func TestRescheduleConfirmedBooksNewSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.request(f.patientA, f.slots[0])
	require.NoError(t, err)
	_, err = f.svc.DoctorConfirm(ctx, a.ID, f.doctor)
	require.NoError(t, err)

	moved, err := f.moveTo(a.ID, f.slots[1])
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, moved.Status)
	assert.Equal(t, f.slots[1].ID, moved.SlotID)
	assert.Equal(t, calendar.SlotBooked, f.slotState(t, f.slots[1].ID))
	assert.Equal(t, calendar.SlotBooked, f.slotState(t, f.slots[0].ID))

	_, err = f.request(f.patientB, f.slots[1])
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
}

func TestRescheduleRefusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.request(f.patientA, f.slots[0])
	require.NoError(t, err)
	other, err := f.request(f.patientB, f.slots[1])
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, a.ID, uuid.New(), RescheduleInput{Date: date, Start: f.slots[2].Start})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.moveTo(a.ID, f.slots[1])
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	_, err = f.moveTo(a.ID, f.slots[0])
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.svc.Reschedule(ctx, a.ID, f.doctor, RescheduleInput{Date: date, Start: date.Add(23 * time.Hour)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Cancel(ctx, other.ID, f.patientB, "")
	require.NoError(t, err)
	_, err = f.moveTo(other.ID, f.slots[2])
	requireState(t, err, StatusCancelled)

	got, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, f.slots[0].ID, got.SlotID)
	assert.Equal(t, calendar.SlotHeld, f.slotState(t, f.slots[0].ID))
	assert.Equal(t, calendar.SlotFree, f.slotState(t, f.slots[2].ID))
}

func TestRescheduleExpiredHold(t *testing.T) {
	f := newFixture(t)

	a, err := f.request(f.patientA, f.slots[0])
	require.NoError(t, err)
	f.clock.Advance(DefaultHoldTimeout + time.Second)

	_, err = f.moveTo(a.ID, f.slots[2])
	requireState(t, err, StatusExpired)
	assert.Equal(t, calendar.SlotFree, f.slotState(t, f.slots[0].ID))
	assert.Equal(t, calendar.SlotFree, f.slotState(t, f.slots[2].ID))
	assert.Equal(t, []EventKind{EventRequested, EventExpired}, f.pub.kinds())
}

type failingReleaseCalendar struct {
	calendar.Calendar
}

func (failingReleaseCalendar) Release(context.Context, uuid.UUID) error {
	return errors.New("storage unavailable")
}

func TestRescheduleSlotFailureRestoresAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.request(f.patientA, f.slots[0])
	require.NoError(t, err)

	svc := NewService(failingReleaseCalendar{f.cal}, f.repo, NewKeyedLocker(), zerolog.Nop()).WithClock(f.clock.Now)
	_, err = svc.Reschedule(ctx, a.ID, f.doctor, RescheduleInput{Date: date, Start: f.slots[2].Start})
	require.Error(t, err)

	got, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, f.slots[0].ID, got.SlotID)
	assert.Equal(t, calendar.SlotHeld, f.slotState(t, f.slots[0].ID))
}
