package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type SlotState string

const (
	SlotFree   SlotState = "free"
	SlotHeld   SlotState = "held"
	SlotBooked SlotState = "booked"
)

type TimeSlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time // midnight UTC of the calendar day
	Start     time.Time
	End       time.Time
	State     SlotState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval is a half-open [Start, End) range on a single day.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// ParseDate parses a YYYY-MM-DD calendar day as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", apperr.ErrInvalidArgument, s)
	}
	return d, nil
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// At combines a calendar day with an HH:MM clock time.
func At(date time.Time, clock string) (time.Time, error) {
	c, err := time.Parse(ClockLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", apperr.ErrInvalidArgument, clock)
	}
	d := Day(date)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, time.UTC), nil
}

// ValidateBatch checks that every interval is non-empty, sits on date, and
// does not overlap its siblings.
func ValidateBatch(date time.Time, batch []Interval) error {
	if len(batch) == 0 {
		return fmt.Errorf("%w: no slots given", apperr.ErrInvalidArgument)
	}
	day := Day(date)
	next := day.Add(24 * time.Hour)
	for i, iv := range batch {
		if !iv.End.After(iv.Start) {
			return fmt.Errorf("%w: slot %s ends before it starts", apperr.ErrInvalidArgument, iv.Start.Format(ClockLayout))
		}
		if iv.Start.Before(day) || iv.End.After(next) {
			return fmt.Errorf("%w: slot %s is not on %s", apperr.ErrInvalidArgument, iv.Start.Format(time.RFC3339), day.Format(DateLayout))
		}
		for _, other := range batch[:i] {
			if iv.Overlaps(other) {
				return overlapError(iv, other)
			}
		}
	}
	return nil
}

func overlapError(iv, existing Interval) error {
	return fmt.Errorf("%w: %s-%s intersects %s-%s", apperr.ErrOverlappingSlot,
		iv.Start.Format(ClockLayout), iv.End.Format(ClockLayout),
		existing.Start.Format(ClockLayout), existing.End.Format(ClockLayout))
}

func transitionError(id uuid.UUID, current, target SlotState) error {
	return &apperr.TransitionError{
		Entity:  "slot",
		ID:      id.String(),
		Current: string(current),
		Target:  string(target),
	}
}
