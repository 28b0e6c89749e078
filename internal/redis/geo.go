package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
)

const (
	geoAllKey          = "geo:doctors:all"
	geoSpecialtyPrefix = "geo:doctors:spec:"
	geoSpecialtyHash   = "geo:doctors:specialty"
)

// GeoIndex keeps doctor locations in Redis sorted sets so every api-server
// replica answers searches from the same data. Redis narrows the candidates;
// distances are recomputed with geo.Haversine and the radius is applied to
// those.
type GeoIndex struct {
	client *redis.Client
}

func NewGeoIndex(client *redis.Client) *GeoIndex {
	return &GeoIndex{client: client}
}

func specialtyKey(s string) string {
	return geoSpecialtyPrefix + strings.ToLower(strings.TrimSpace(s))
}

func (g *GeoIndex) Upsert(ctx context.Context, loc geo.DoctorLocation) error {
	if err := loc.Coord.Validate(); err != nil {
		return err
	}
	member := loc.DoctorID.String()

	prev, err := g.client.HGet(ctx, geoSpecialtyHash, member).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load previous specialty: %w", err)
	}

	point := &redis.GeoLocation{Name: member, Longitude: loc.Coord.Lon, Latitude: loc.Coord.Lat}
	_, err = g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, geoAllKey, point)
		if prev != "" && !strings.EqualFold(prev, loc.Specialty) {
			pipe.ZRem(ctx, specialtyKey(prev), member)
		}
		if loc.Specialty != "" {
			pipe.GeoAdd(ctx, specialtyKey(loc.Specialty), point)
		}
		pipe.HSet(ctx, geoSpecialtyHash, member, loc.Specialty)
		return nil
	})
	if err != nil {
		return fmt.Errorf("geo upsert %s: %w", member, err)
	}
	return nil
}

func (g *GeoIndex) Query(ctx context.Context, q geo.Query) ([]geo.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.Normalize()

	key := geoAllKey
	if q.Specialty != "" {
		key = specialtyKey(q.Specialty)
	}

	// Stored positions are geohash-quantised; widen the search slightly and
	// apply the exact radius below.
	locs, err := g.client.GeoRadius(ctx, key, q.Point.Lon, q.Point.Lat, &redis.GeoRadiusQuery{
		Radius:    q.RadiusMeters*1.001 + 1,
		Unit:      "m",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius: %w", err)
	}

	matches := make([]geo.Match, 0, len(locs))
	ids := make([]string, 0, len(locs))
	for _, l := range locs {
		m, ok := toMatch(l, q)
		if !ok {
			continue
		}
		matches = append(matches, m)
		ids = append(ids, l.Name)
	}
	if len(matches) == 0 {
		return []geo.Match{}, nil
	}

	specialties, err := g.client.HMGet(ctx, geoSpecialtyHash, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load specialties: %w", err)
	}
	for i := range matches {
		if s, ok := specialties[i].(string); ok {
			matches[i].Specialty = s
		}
	}

	geo.SortMatches(matches)
	return geo.Paginate(matches, q.Page, q.Limit), nil
}

func toMatch(l redis.GeoLocation, q geo.Query) (geo.Match, bool) {
	id, err := uuid.Parse(l.Name)
	if err != nil {
		return geo.Match{}, false
	}
	d := geo.Haversine(q.Point, geo.Coordinate{Lat: l.Latitude, Lon: l.Longitude})
	if d > q.RadiusMeters {
		return geo.Match{}, false
	}
	return geo.Match{DoctorID: id, DistanceMeters: d}, true
}
