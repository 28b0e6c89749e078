package geo

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type snapshot struct {
	byID map[uuid.UUID]DoctorLocation
}

// MemoryIndex serves queries from an immutable snapshot. Upserts copy the
// snapshot and swap the pointer, so readers never take a lock.
type MemoryIndex struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

func NewMemoryIndex() *MemoryIndex {
	idx := &MemoryIndex{}
	idx.current.Store(&snapshot{byID: map[uuid.UUID]DoctorLocation{}})
	return idx
}

func (m *MemoryIndex) Upsert(_ context.Context, loc DoctorLocation) error {
	if err := loc.Coord.Validate(); err != nil {
		return err
	}
	return m.UpsertBatch([]DoctorLocation{loc})
}

// UpsertBatch applies several locations with one snapshot swap. Entries older
// than what the index already holds are ignored.
func (m *MemoryIndex) UpsertBatch(locs []DoctorLocation) error {
	for _, loc := range locs {
		if err := loc.Coord.Validate(); err != nil {
			return err
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	old := m.current.Load()
	next := &snapshot{byID: make(map[uuid.UUID]DoctorLocation, len(old.byID)+len(locs))}
	for id, loc := range old.byID {
		next.byID[id] = loc
	}
	for _, loc := range locs {
		if prev, ok := next.byID[loc.DoctorID]; ok && !loc.UpdatedAt.IsZero() && loc.UpdatedAt.Before(prev.UpdatedAt) {
			continue
		}
		next.byID[loc.DoctorID] = loc
	}
	m.current.Store(next)
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, q Query) ([]Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.Normalize()

	snap := m.current.Load()
	matches := make([]Match, 0)
	for _, loc := range snap.byID {
		if q.Specialty != "" && !strings.EqualFold(loc.Specialty, q.Specialty) {
			continue
		}
		d := Haversine(q.Point, loc.Coord)
		if d > q.RadiusMeters {
			continue
		}
		matches = append(matches, Match{
			DoctorID:       loc.DoctorID,
			Specialty:      loc.Specialty,
			DistanceMeters: d,
		})
	}

	SortMatches(matches)
	return Paginate(matches, q.Page, q.Limit), nil
}

// Len reports how many doctors the current snapshot holds.
func (m *MemoryIndex) Len() int {
	return len(m.current.Load().byID)
}
