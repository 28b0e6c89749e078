// Package geo answers "which doctors are within R metres of P" queries.
package geo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

const earthRadiusMeters = 6371008.8

const (
	DefaultRadiusMeters = 10_000
	DefaultLimit        = 20
	MaxLimit            = 100
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.Abs(c.Lat) > 90 || math.Abs(c.Lon) > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v", apperr.ErrInvalidCoordinate, c.Lat, c.Lon)
	}
	return nil
}

// DoctorLocation is the read-optimized copy of a doctor's position.
type DoctorLocation struct {
	DoctorID  uuid.UUID
	Specialty string
	Coord     Coordinate
	UpdatedAt time.Time
}

// Query is a radius search around Point. A zero RadiusMeters only matches
// doctors at Point itself; callers apply DefaultRadiusMeters when the caller
// gave no radius.
type Query struct {
	Point        Coordinate
	RadiusMeters float64
	Specialty    string // empty matches all
	Page         int    // 1-based
	Limit        int
}

// Validate rejects an invalid point and a radius that is negative or not a
// finite number.
func (q Query) Validate() error {
	if err := q.Point.Validate(); err != nil {
		return err
	}
	if math.IsNaN(q.RadiusMeters) || math.IsInf(q.RadiusMeters, 0) || q.RadiusMeters < 0 {
		return fmt.Errorf("%w: radius %v must be a finite non-negative number", apperr.ErrInvalidArgument, q.RadiusMeters)
	}
	return nil
}

// Normalize fills pagination defaults and clamps the limit.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

type Match struct {
	DoctorID       uuid.UUID `json:"doctor_id"`
	Specialty      string    `json:"specialty"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Index is implemented by the in-memory snapshot index and the Redis GEO index.
type Index interface {
	Upsert(ctx context.Context, loc DoctorLocation) error
	Query(ctx context.Context, q Query) ([]Match, error)
}

// Haversine returns the great-circle distance in metres.
func Haversine(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * (math.Pi / 180)
}

// SortMatches orders by distance ascending, then doctor id.
func SortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].DistanceMeters != ms[j].DistanceMeters {
			return ms[i].DistanceMeters < ms[j].DistanceMeters
		}
		return ms[i].DoctorID.String() < ms[j].DoctorID.String()
	})
}

// Paginate returns the requested page of an already sorted slice.
func Paginate(ms []Match, page, limit int) []Match {
	start := (page - 1) * limit
	if start >= len(ms) {
		return []Match{}
	}
	end := start + limit
	if end > len(ms) {
		end = len(ms)
	}
	return ms[start:end]
}
