package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/geo-appointment-scheduling/internal/db"
)

const slotColumns = `id, doctor_id, slot_date, start_time, end_time, status, created_at, updated_at`

// PgCalendar stores slots in the time_slots table. State changes are single
// conditional UPDATEs so the row itself is the compare-and-swap cell.
type PgCalendar struct {
	pool db.Pool
}

func NewPgCalendar(pool db.Pool) *PgCalendar {
	return &PgCalendar{pool: pool}
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	var state string

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.Start,
		&s.End,
		&state,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.State = SlotState(state)
	s.Date = Day(s.Date)
	return &s, nil
}

func (c *PgCalendar) PublishSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, batch []Interval) ([]TimeSlot, error) {
	if err := ValidateBatch(date, batch); err != nil {
		return nil, err
	}
	day := Day(date)

	var created []TimeSlot
	err := db.InTx(ctx, c.pool, func(tx pgx.Tx) error {
		// Serialise publishers for the same doctor and day.
		lockKey := doctorID.String() + "/" + day.Format(DateLayout)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return fmt.Errorf("lock doctor day: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT start_time, end_time
			FROM time_slots
			WHERE doctor_id = $1 AND slot_date = $2
		`, doctorID, day)
		if err != nil {
			return fmt.Errorf("load existing slots: %w", err)
		}
		var existing []Interval
		for rows.Next() {
			var iv Interval
			if err := rows.Scan(&iv.Start, &iv.End); err != nil {
				rows.Close()
				return err
			}
			existing = append(existing, iv)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, iv := range batch {
			for _, e := range existing {
				if iv.Overlaps(e) {
					return overlapError(iv, e)
				}
			}
		}

		created = make([]TimeSlot, 0, len(batch))
		for _, iv := range batch {
			row := tx.QueryRow(ctx, `
				INSERT INTO time_slots (id, doctor_id, slot_date, start_time, end_time, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'free', now(), now())
				RETURNING `+slotColumns,
				uuid.New(), doctorID, day, iv.Start.UTC(), iv.End.UTC())
			s, err := scanSlot(row)
			if err != nil {
				return fmt.Errorf("insert slot: %w", err)
			}
			created = append(created, *s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *PgCalendar) FindSlot(ctx context.Context, doctorID uuid.UUID, date, start time.Time) (*TimeSlot, error) {
	row := db.Conn(ctx, c.pool).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3
	`, doctorID, Day(date), start.UTC())
	return scanSlot(row)
}

func (c *PgCalendar) GetSlot(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	row := db.Conn(ctx, c.pool).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
	`, slotID)
	return scanSlot(row)
}

func (c *PgCalendar) ListSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	rows, err := db.Conn(ctx, c.pool).Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY start_time
	`, doctorID, Day(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TimeSlot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PgCalendar) TryHold(ctx context.Context, slotID uuid.UUID) error {
	held, err := c.swap(ctx, slotID, SlotFree, SlotHeld)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	if _, err := c.state(ctx, slotID); err != nil {
		return err
	}
	return ErrConflict
}

func (c *PgCalendar) Release(ctx context.Context, slotID uuid.UUID) error {
	return c.move(ctx, slotID, SlotHeld, SlotFree)
}

func (c *PgCalendar) Commit(ctx context.Context, slotID uuid.UUID) error {
	return c.move(ctx, slotID, SlotHeld, SlotBooked)
}

func (c *PgCalendar) move(ctx context.Context, slotID uuid.UUID, from, to SlotState) error {
	ok, err := c.swap(ctx, slotID, from, to)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	current, err := c.state(ctx, slotID)
	if err != nil {
		return err
	}
	return transitionError(slotID, current, to)
}

func (c *PgCalendar) swap(ctx context.Context, slotID uuid.UUID, from, to SlotState) (bool, error) {
	tag, err := db.Conn(ctx, c.pool).Exec(ctx, `
		UPDATE time_slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, slotID, string(to), string(from))
	if err != nil {
		return false, fmt.Errorf("update slot %s: %w", slotID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (c *PgCalendar) state(ctx context.Context, slotID uuid.UUID) (SlotState, error) {
	var state string
	err := db.Conn(ctx, c.pool).QueryRow(ctx, `SELECT status FROM time_slots WHERE id = $1`, slotID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSlotNotFound
		}
		return "", fmt.Errorf("load slot state: %w", err)
	}
	return SlotState(state), nil
}
