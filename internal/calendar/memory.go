package calendar

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	stateFree int32 = iota
	stateHeld
	stateBooked
)

var stateNames = map[int32]SlotState{
	stateFree:   SlotFree,
	stateHeld:   SlotHeld,
	stateBooked: SlotBooked,
}

// cell is one slot. Identity fields never change after publication; state is
// only ever moved with compare-and-swap.
type cell struct {
	slot    TimeSlot
	state   atomic.Int32
	updated atomic.Int64
}

func (c *cell) snapshot() TimeSlot {
	s := c.slot
	s.State = stateNames[c.state.Load()]
	s.UpdatedAt = time.Unix(0, c.updated.Load()).UTC()
	return s
}

type dayKey struct {
	doctorID uuid.UUID
	day      int64
}

func keyFor(doctorID uuid.UUID, date time.Time) dayKey {
	return dayKey{doctorID: doctorID, day: Day(date).Unix()}
}

// MemoryCalendar keeps slots in process. Slot transitions touch only the
// slot's own cell; the day map lock is taken by publication and listing.
type MemoryCalendar struct {
	cells sync.Map // uuid.UUID -> *cell

	mu   sync.RWMutex
	days map[dayKey][]*cell

	now func() time.Time
}

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{
		days: make(map[dayKey][]*cell),
		now:  time.Now,
	}
}

// WithClock overrides the timestamp source.
func (m *MemoryCalendar) WithClock(now func() time.Time) *MemoryCalendar {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemoryCalendar) PublishSlots(_ context.Context, doctorID uuid.UUID, date time.Time, batch []Interval) ([]TimeSlot, error) {
	if err := ValidateBatch(date, batch); err != nil {
		return nil, err
	}

	key := keyFor(doctorID, date)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.days[key]
	for _, iv := range batch {
		for _, c := range existing {
			if iv.Overlaps(Interval{Start: c.slot.Start, End: c.slot.End}) {
				return nil, overlapError(iv, Interval{Start: c.slot.Start, End: c.slot.End})
			}
		}
	}

	now := m.now().UTC()
	created := make([]TimeSlot, 0, len(batch))
	for _, iv := range batch {
		c := &cell{slot: TimeSlot{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			Date:      Day(date),
			Start:     iv.Start.UTC(),
			End:       iv.End.UTC(),
			CreatedAt: now,
		}}
		c.state.Store(stateFree)
		c.updated.Store(now.UnixNano())

		existing = append(existing, c)
		m.cells.Store(c.slot.ID, c)
		created = append(created, c.snapshot())
	}

	sort.Slice(existing, func(i, j int) bool {
		return existing[i].slot.Start.Before(existing[j].slot.Start)
	})
	m.days[key] = existing

	return created, nil
}

func (m *MemoryCalendar) FindSlot(_ context.Context, doctorID uuid.UUID, date, start time.Time) (*TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.days[keyFor(doctorID, date)] {
		if c.slot.Start.Equal(start) {
			s := c.snapshot()
			return &s, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (m *MemoryCalendar) GetSlot(_ context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	c, err := m.cell(slotID)
	if err != nil {
		return nil, err
	}
	s := c.snapshot()
	return &s, nil
}

func (m *MemoryCalendar) ListSlots(_ context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cells := m.days[keyFor(doctorID, date)]
	out := make([]TimeSlot, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.snapshot())
	}
	return out, nil
}

func (m *MemoryCalendar) TryHold(_ context.Context, slotID uuid.UUID) error {
	c, err := m.cell(slotID)
	if err != nil {
		return err
	}
	if !c.state.CompareAndSwap(stateFree, stateHeld) {
		return ErrConflict
	}
	c.updated.Store(m.now().UnixNano())
	return nil
}

func (m *MemoryCalendar) Release(_ context.Context, slotID uuid.UUID) error {
	return m.move(slotID, stateHeld, stateFree)
}

func (m *MemoryCalendar) Commit(_ context.Context, slotID uuid.UUID) error {
	return m.move(slotID, stateHeld, stateBooked)
}

func (m *MemoryCalendar) move(slotID uuid.UUID, from, to int32) error {
	c, err := m.cell(slotID)
	if err != nil {
		return err
	}
	if !c.state.CompareAndSwap(from, to) {
		return transitionError(slotID, stateNames[c.state.Load()], stateNames[to])
	}
	c.updated.Store(m.now().UnixNano())
	return nil
}

func (m *MemoryCalendar) cell(slotID uuid.UUID) (*cell, error) {
	v, ok := m.cells.Load(slotID)
	if !ok {
		return nil, ErrSlotNotFound
	}
	return v.(*cell), nil
}
