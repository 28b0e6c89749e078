package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/db"
)

const appointmentColumns = `id, patient_id, doctor_id, slot_id, appt_date, start_time, end_time, reason,
	status, status_reason, changed_by, hold_expires_at, created_at, updated_at`

// activeSlotIndex is the partial unique index that allows one held or
// confirmed appointment per slot.
const activeSlotIndex = "appointments_active_slot_idx"

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Reason,
		&status,
		&a.StatusReason,
		&a.ChangedBy,
		&a.HoldExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Date, a.StartTime, a.EndTime, a.Reason,
		string(a.Status), a.StatusReason, a.ChangedBy, a.HoldExpiresAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isActiveSlotViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change Change) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    status_reason = COALESCE($4, status_reason),
		    changed_by = COALESCE($5, changed_by),
		    updated_at = $6
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), change.Reason, change.ActorID, change.At)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	var current string
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("load appointment status: %w", err)
	}
	return nil, transitionError(id, Status(current), to)
}

func (r *PgRepository) MoveSlot(ctx context.Context, id uuid.UUID, status Status, fromSlot uuid.UUID, slot calendar.TimeSlot, change Change) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $4,
		    appt_date = $5,
		    start_time = $6,
		    end_time = $7,
		    status_reason = COALESCE($8, status_reason),
		    changed_by = COALESCE($9, changed_by),
		    updated_at = $10
		WHERE id = $1
		  AND status = $2
		  AND slot_id = $3
		RETURNING `+appointmentColumns,
		id, string(status), fromSlot, slot.ID, calendar.Day(slot.Date), slot.Start, slot.End,
		change.Reason, change.ActorID, change.At)

	moved, err := scanAppointment(row)
	if err == nil {
		return moved, nil
	}
	if isActiveSlotViolation(err) {
		return nil, ErrSlotTaken
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("move appointment slot: %w", err)
	}

	var current string
	var currentSlot uuid.UUID
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT status, slot_id FROM appointments WHERE id = $1`, id).Scan(&current, &currentSlot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("load appointment status: %w", err)
	}
	if Status(current) != status {
		return nil, transitionError(id, Status(current), status)
	}
	return nil, slotMoved(id, currentSlot)
}

func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotIndex
}

func (r *PgRepository) ListStaleHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
		  AND hold_expires_at < $2
		ORDER BY hold_expires_at
		LIMIT $3
	`, string(StatusHeld), now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	f = f.Normalize()

	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT count(*) FROM appointments `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, f.Limit, f.Offset())
	rows, err := db.Conn(ctx, r.pool).Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collect(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
