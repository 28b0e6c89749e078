package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/directory"
	"github.com/hackgods/geo-appointment-scheduling/internal/metrics"
)

var bookingTracer = otel.Tracer("scheduling/booking")

const (
	DefaultHoldTimeout = 15 * time.Minute
	maxReasonLength    = 2000
	sweepBatchSize     = 200
)

// Directory is the profile lookup used to validate participants.
type Directory interface {
	GetDoctorProfile(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetPatientProfile(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
}

// Transactor runs fn as one unit of work against the stores. db.Transactor
// implements it for the Postgres backend.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the booking engine. Every transition of an existing appointment
// runs under its per-appointment lock, writes the appointment conditionally
// on its current status and then moves the slot. With a Transactor both
// writes share one transaction. Without one a failed slot step restores the
// appointment, so both change together or neither does.
type Service struct {
	calendar    calendar.Calendar
	repo        Repository
	locker      Locker
	tx          Transactor
	directory   Directory
	publisher   Publisher
	metrics     *metrics.BookingMetrics
	logger      zerolog.Logger
	holdTimeout time.Duration
	now         func() time.Time
}

func NewService(cal calendar.Calendar, repo Repository, locker Locker, logger zerolog.Logger) *Service {
	return &Service{
		calendar:    cal,
		repo:        repo,
		locker:      locker,
		publisher:   nopPublisher{},
		logger:      logger,
		holdTimeout: DefaultHoldTimeout,
		now:         time.Now,
	}
}

func (s *Service) WithDirectory(d Directory) *Service {
	s.directory = d
	return s
}

func (s *Service) WithTransactor(tx Transactor) *Service {
	s.tx = tx
	return s
}

func (s *Service) WithPublisher(p Publisher) *Service {
	if p != nil {
		s.publisher = p
	}
	return s
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) WithHoldTimeout(d time.Duration) *Service {
	if d > 0 {
		s.holdTimeout = d
	}
	return s
}

func (s *Service) HoldTimeout() time.Duration {
	return s.holdTimeout
}

type RequestInput struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Start     time.Time
	Reason    string
}

// RequestAppointment holds the doctor's slot at (Date, Start) and records a
// held appointment for the patient. Losing the race for the slot yields
// ErrSlotUnavailable.
func (s *Service) RequestAppointment(ctx context.Context, in RequestInput) (_ *Appointment, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.patient_id", in.PatientID.String()),
		attribute.String("appointment.doctor_id", in.DoctorID.String()),
		attribute.String("slot.start", in.Start.Format(time.RFC3339)),
	)
	defer s.observe(span, "request", time.Now(), &err)

	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLength {
		return nil, fmt.Errorf("%w: reason longer than %d characters", apperr.ErrInvalidArgument, maxReasonLength)
	}
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient and doctor are required", apperr.ErrInvalidArgument)
	}

	if s.directory != nil {
		if _, err := s.directory.GetDoctorProfile(ctx, in.DoctorID); err != nil {
			return nil, fmt.Errorf("load doctor: %w", err)
		}
		if _, err := s.directory.GetPatientProfile(ctx, in.PatientID); err != nil {
			return nil, fmt.Errorf("load patient: %w", err)
		}
	}

	slot, err := s.calendar.FindSlot(ctx, in.DoctorID, in.Date, in.Start)
	if err != nil {
		return nil, fmt.Errorf("find slot: %w", err)
	}

	now := s.now().UTC()
	a := &Appointment{
		ID:            uuid.New(),
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		SlotID:        slot.ID,
		Date:          calendar.Day(slot.Date),
		StartTime:     slot.Start,
		EndTime:       slot.End,
		Reason:        reason,
		Status:        StatusRequested,
		HoldExpiresAt: now.Add(s.holdTimeout),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if a.Status, err = Next(a.ID, a.Status, StatusHeld); err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.hold(ctx, slot); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, a); err != nil {
			if s.tx == nil && !errors.Is(err, ErrSlotTaken) {
				s.releaseQuietly(ctx, slot.ID, "failed to release slot after create error")
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("appointment.id", a.ID.String()))
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("slot_id", slot.ID.String()).
		Time("hold_expires_at", a.HoldExpiresAt).
		Msg("appointment held")

	s.publish(EventRequested, *a, in.PatientID)
	return a, nil
}

// DoctorConfirm commits the held slot and confirms the appointment. A hold
// whose deadline has already passed is expired on the spot and the confirm
// fails with the expired state.
func (s *Service) DoctorConfirm(ctx context.Context, id, doctorID uuid.UUID) (_ *Appointment, err error) {
	ctx, span := s.startTransition(ctx, "booking.confirm", id, doctorID)
	defer span.End()
	defer s.observe(span, "confirm", time.Now(), &err)

	var confirmed, expired *Appointment
	err = s.locked(ctx, id, func(ctx context.Context, a *Appointment) error {
		if a.DoctorID != doctorID {
			return notOwner(doctorID, a.ID)
		}
		if a.Status != StatusHeld {
			return transitionError(a.ID, a.Status, StatusConfirmed)
		}

		now := s.now().UTC()
		if now.After(a.HoldExpiresAt) {
			exp, err := s.expire(ctx, a, now)
			if err != nil {
				return err
			}
			expired = exp
			return transitionError(a.ID, StatusExpired, StatusConfirmed)
		}

		updated, err := s.apply(ctx, a, StatusConfirmed, Change{ActorID: &doctorID, At: now}, s.calendar.Commit)
		confirmed = updated
		return err
	})
	if expired != nil {
		s.publish(EventExpired, *expired, uuid.Nil)
	}
	if err != nil {
		return nil, err
	}

	s.publish(EventConfirmed, *confirmed, doctorID)
	return confirmed, nil
}

// DoctorReject releases the slot and rejects a held appointment.
func (s *Service) DoctorReject(ctx context.Context, id, doctorID uuid.UUID, reason string) (_ *Appointment, err error) {
	ctx, span := s.startTransition(ctx, "booking.reject", id, doctorID)
	defer span.End()
	defer s.observe(span, "reject", time.Now(), &err)

	reason = strings.TrimSpace(reason)
	var rejected *Appointment
	err = s.locked(ctx, id, func(ctx context.Context, a *Appointment) error {
		if a.DoctorID != doctorID {
			return notOwner(doctorID, a.ID)
		}
		if a.Status != StatusHeld {
			return transitionError(a.ID, a.Status, StatusRejected)
		}
		change := Change{ActorID: &doctorID, At: s.now().UTC()}
		if reason != "" {
			change.Reason = &reason
		}
		updated, err := s.apply(ctx, a, StatusRejected, change, s.calendar.Release)
		rejected = updated
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(EventRejected, *rejected, doctorID)
	return rejected, nil
}

// Cancel is open to either participant. A held slot goes back to free; a
// booked slot stays booked.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (_ *Appointment, err error) {
	ctx, span := s.startTransition(ctx, "booking.cancel", id, actorID)
	defer span.End()
	defer s.observe(span, "cancel", time.Now(), &err)

	reason = strings.TrimSpace(reason)
	var cancelled *Appointment
	err = s.locked(ctx, id, func(ctx context.Context, a *Appointment) error {
		if !a.IsParticipant(actorID) {
			return fmt.Errorf("%w: %s is not a participant of appointment %s", apperr.ErrForbidden, actorID, a.ID)
		}
		change := Change{ActorID: &actorID, At: s.now().UTC()}
		if reason != "" {
			change.Reason = &reason
		}

		var slotStep func(context.Context, uuid.UUID) error
		switch a.Status {
		case StatusHeld:
			slotStep = s.calendar.Release
		case StatusConfirmed:
		default:
			return transitionError(a.ID, a.Status, StatusCancelled)
		}

		updated, err := s.apply(ctx, a, StatusCancelled, change, slotStep)
		cancelled = updated
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(EventCancelled, *cancelled, actorID)
	return cancelled, nil
}

// Complete marks a confirmed appointment as completed. doctorID must own the
// appointment unless it is uuid.Nil, which internal callers use.
func (s *Service) Complete(ctx context.Context, id, doctorID uuid.UUID) (_ *Appointment, err error) {
	ctx, span := s.startTransition(ctx, "booking.complete", id, doctorID)
	defer span.End()
	defer s.observe(span, "complete", time.Now(), &err)

	var completed *Appointment
	err = s.locked(ctx, id, func(ctx context.Context, a *Appointment) error {
		if doctorID != uuid.Nil && a.DoctorID != doctorID {
			return notOwner(doctorID, a.ID)
		}
		if a.Status != StatusConfirmed {
			return transitionError(a.ID, a.Status, StatusCompleted)
		}
		change := Change{At: s.now().UTC()}
		if doctorID != uuid.Nil {
			change.ActorID = &doctorID
		}
		updated, err := s.apply(ctx, a, StatusCompleted, change, nil)
		completed = updated
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(EventCompleted, *completed, doctorID)
	return completed, nil
}

type RescheduleInput struct {
	Date   time.Time
	Start  time.Time
	Reason string
}

// Reschedule moves a held or confirmed appointment to another free slot of
// the same doctor. The new slot is held first. A held appointment keeps its
// hold deadline and frees the old slot. A confirmed appointment books the
// new slot and leaves the old one booked, the same as a cancel. A hold past
// its deadline is expired on the spot, as in DoctorConfirm.
func (s *Service) Reschedule(ctx context.Context, id, doctorID uuid.UUID, in RescheduleInput) (_ *Appointment, err error) {
	ctx, span := s.startTransition(ctx, "booking.reschedule", id, doctorID)
	defer span.End()
	defer s.observe(span, "reschedule", time.Now(), &err)

	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLength {
		return nil, fmt.Errorf("%w: reason longer than %d characters", apperr.ErrInvalidArgument, maxReasonLength)
	}

	var moved, expired *Appointment
	err = s.locked(ctx, id, func(ctx context.Context, a *Appointment) error {
		if a.DoctorID != doctorID {
			return notOwner(doctorID, a.ID)
		}
		if !active(a.Status) {
			return transitionError(a.ID, a.Status, StatusHeld)
		}

		now := s.now().UTC()
		if a.Status == StatusHeld && now.After(a.HoldExpiresAt) {
			exp, err := s.expire(ctx, a, now)
			if err != nil {
				return err
			}
			expired = exp
			return transitionError(a.ID, StatusExpired, StatusHeld)
		}

		next, err := s.calendar.FindSlot(ctx, a.DoctorID, in.Date, in.Start)
		if err != nil {
			return fmt.Errorf("find slot: %w", err)
		}
		if next.ID == a.SlotID {
			return fmt.Errorf("%w: appointment %s is already on slot %s", apperr.ErrInvalidArgument, a.ID, next.ID)
		}

		change := Change{ActorID: &doctorID, At: now}
		if reason != "" {
			change.Reason = &reason
		}
		return s.inTx(ctx, func(ctx context.Context) error {
			if err := s.hold(ctx, next); err != nil {
				return err
			}
			updated, err := s.repo.MoveSlot(ctx, a.ID, a.Status, a.SlotID, *next, change)
			if err != nil {
				if s.tx == nil {
					s.releaseQuietly(ctx, next.ID, "failed to release slot after reschedule error")
				}
				return fmt.Errorf("move appointment: %w", err)
			}

			if err := s.settleMove(ctx, a, next.ID); err != nil {
				if s.tx == nil {
					if _, backErr := s.repo.MoveSlot(ctx, a.ID, a.Status, next.ID, slotOf(a), Change{At: now}); backErr != nil {
						s.logger.Error().Err(backErr).
							Str("appointment_id", a.ID.String()).
							Str("slot_id", a.SlotID.String()).
							Msg("failed to restore appointment slot after reschedule error")
					}
					s.releaseQuietly(ctx, next.ID, "failed to release slot after reschedule error")
				}
				return err
			}
			moved = updated
			return nil
		})
	})
	if expired != nil {
		s.publish(EventExpired, *expired, uuid.Nil)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", moved.ID.String()).
		Str("slot_id", moved.SlotID.String()).
		Msg("appointment rescheduled")
	s.publish(EventRescheduled, *moved, doctorID)
	return moved, nil
}

// settleMove finishes the slot side of a reschedule once the new slot is held.
func (s *Service) settleMove(ctx context.Context, a *Appointment, nextSlot uuid.UUID) error {
	if a.Status == StatusConfirmed {
		if err := s.calendar.Commit(ctx, nextSlot); err != nil {
			return fmt.Errorf("book slot %s: %w", nextSlot, err)
		}
		return nil
	}
	if err := s.calendar.Release(ctx, a.SlotID); err != nil {
		return fmt.Errorf("release slot %s: %w", a.SlotID, err)
	}
	return nil
}

func slotOf(a *Appointment) calendar.TimeSlot {
	return calendar.TimeSlot{ID: a.SlotID, DoctorID: a.DoctorID, Date: a.Date, Start: a.StartTime, End: a.EndTime}
}

// ExpireStaleHolds expires every held appointment whose hold deadline is
// before now and frees its slot. It takes the same lock and conditional
// writes as DoctorConfirm, so a concurrent confirm either wins or sees the
// expired state.
func (s *Service) ExpireStaleHolds(ctx context.Context, now time.Time) (int, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.expire_stale_holds")
	defer span.End()

	now = now.UTC()
	expiredCount := 0
	for ctx.Err() == nil {
		stale, err := s.repo.ListStaleHolds(ctx, now, sweepBatchSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.AddExpired(expiredCount)
			return expiredCount, fmt.Errorf("list stale holds: %w", err)
		}

		n := s.expireBatch(ctx, stale, now)
		expiredCount += n
		// A batch where nothing moved would come back unchanged.
		if len(stale) < sweepBatchSize || n == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("expired_count", expiredCount))
	s.metrics.AddExpired(expiredCount)
	if expiredCount > 0 {
		s.logger.Info().Int("expired", expiredCount).Msg("stale holds expired")
	}
	return expiredCount, nil
}

func (s *Service) expireBatch(ctx context.Context, stale []Appointment, now time.Time) int {
	count := 0
	for _, candidate := range stale {
		if ctx.Err() != nil {
			break
		}
		var expired *Appointment
		err := s.locked(ctx, candidate.ID, func(ctx context.Context, a *Appointment) error {
			if a.Status != StatusHeld || !now.After(a.HoldExpiresAt) {
				return nil
			}
			exp, err := s.expire(ctx, a, now)
			expired = exp
			return err
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", candidate.ID.String()).Msg("failed to expire hold")
			continue
		}
		if expired != nil {
			count++
			s.publish(EventExpired, *expired, uuid.Nil)
		}
	}
	return count
}

// Get returns an appointment visible to actorID. uuid.Nil skips the
// participant check.
func (s *Service) Get(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID != uuid.Nil && !a.IsParticipant(actorID) {
		return nil, fmt.Errorf("%w: %s is not a participant of appointment %s", apperr.ErrForbidden, actorID, id)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	f = f.Normalize()
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func (s *Service) locked(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, a *Appointment) error) error {
	return s.locker.WithLock(ctx, appointmentLockKey(id), func(ctx context.Context) error {
		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, a)
	})
}

// apply moves a to the given status and then runs slotStep on its slot. If
// the slot step fails the transaction rolls back, or without a Transactor the
// appointment is put back.
func (s *Service) apply(ctx context.Context, a *Appointment, to Status, change Change, slotStep func(context.Context, uuid.UUID) error) (*Appointment, error) {
	if _, err := Next(a.ID, a.Status, to); err != nil {
		return nil, err
	}

	var updated *Appointment
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.UpdateStatus(ctx, a.ID, a.Status, to, change)
		if err != nil {
			return err
		}
		if slotStep == nil {
			return nil
		}

		if err := slotStep(ctx, a.SlotID); err != nil {
			if s.tx == nil {
				if _, restoreErr := s.repo.UpdateStatus(ctx, a.ID, to, a.Status, Change{At: change.At}); restoreErr != nil {
					s.logger.Error().Err(restoreErr).
						Str("appointment_id", a.ID.String()).
						Str("status", string(a.Status)).
						Msg("failed to restore appointment after slot error")
				}
			}
			return fmt.Errorf("move slot %s for %s: %w", a.SlotID, to, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// hold moves slot from free to held, reporting a lost race as
// ErrSlotUnavailable.
func (s *Service) hold(ctx context.Context, slot *calendar.TimeSlot) error {
	if err := s.calendar.TryHold(ctx, slot.ID); err != nil {
		if errors.Is(err, calendar.ErrConflict) {
			return fmt.Errorf("%w: slot %s at %s is no longer free",
				apperr.ErrSlotUnavailable, slot.ID, slot.Start.Format(time.RFC3339))
		}
		return fmt.Errorf("hold slot: %w", err)
	}
	return nil
}

func (s *Service) releaseQuietly(ctx context.Context, slotID uuid.UUID, msg string) {
	if err := s.calendar.Release(ctx, slotID); err != nil {
		s.logger.Error().Err(err).Str("slot_id", slotID.String()).Msg(msg)
	}
}

func (s *Service) expire(ctx context.Context, a *Appointment, now time.Time) (*Appointment, error) {
	reason := "hold timeout"
	return s.apply(ctx, a, StatusExpired, Change{Reason: &reason, At: now}, s.calendar.Release)
}

func (s *Service) publish(kind EventKind, a Appointment, actor uuid.UUID) {
	s.publisher.Publish(Event{
		Kind:        kind,
		Appointment: a,
		ActorID:     actor,
		OccurredAt:  s.now().UTC(),
	})
}

func (s *Service) startTransition(ctx context.Context, name string, id, actor uuid.UUID) (context.Context, trace.Span) {
	ctx, span := bookingTracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("actor.id", actor.String()),
	)
	return ctx, span
}

func (s *Service) observe(span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if state, ok := apperr.CurrentState(err); ok {
			span.SetAttributes(attribute.String("appointment.current_state", state))
		}
	}
	s.metrics.ObserveOperation(op, outcome(err), time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "error"
	}
}

func notOwner(doctorID, id uuid.UUID) error {
	return fmt.Errorf("%w: doctor %s does not own appointment %s", apperr.ErrForbidden, doctorID, id)
}
