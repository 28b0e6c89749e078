package redisclient

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestLockRunsAndReleases(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewLocker(client, 5*time.Second)

	ran := false
	err := locker.WithLock(context.Background(), "lock:appointment:a", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:appointment:a"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:appointment:a"))
}

func TestLockBusyKey(t *testing.T) {
	mr, client := newTestClient(t)
	require.NoError(t, mr.Set("lock:appointment:b", "someone-else"))

	locker := NewLocker(client, 5*time.Second).WithWait(50 * time.Millisecond)
	err := locker.WithLock(context.Background(), "lock:appointment:b", func(ctx context.Context) error {
		t.Fatal("must not run while locked")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.ErrorIs(t, err, apperr.ErrTransient)
}

func TestLockDoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewLocker(client, 5*time.Second)

	err := locker.WithLock(context.Background(), "lock:appointment:c", func(ctx context.Context) error {
		// Simulate our lease lapsing and another holder taking over.
		return mr.Set("lock:appointment:c", "other-holder")
	})
	require.NoError(t, err)

	v, err := mr.Get("lock:appointment:c")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", v)
}

func TestLockPropagatesFnError(t *testing.T) {
	_, client := newTestClient(t)
	boom := errors.New("boom")

	err := NewLocker(client, time.Second).WithLock(context.Background(), "k", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLockSerialisesHolders(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewLocker(client, 5*time.Second)

	var inside, overlaps, done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "lock:counter", func(context.Context) error {
				if inside.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				done.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), done.Load())
	assert.Equal(t, int32(0), overlaps.Load())
}

var tunis = geo.Coordinate{Lat: 36.8065, Lon: 10.1815}

func northOf(c geo.Coordinate, meters float64) geo.Coordinate {
	return geo.Coordinate{Lat: c.Lat + meters/111_195.0, Lon: c.Lon}
}

func TestGeoIndexOrdersAndFilters(t *testing.T) {
	_, client := newTestClient(t)
	idx := NewGeoIndex(client)
	ctx := context.Background()

	d2, d9, d05, d11 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	for id, m := range map[uuid.UUID]float64{d2: 2_000, d9: 9_000, d05: 500, d11: 11_000} {
		require.NoError(t, idx.Upsert(ctx, geo.DoctorLocation{DoctorID: id, Specialty: "Cardiology", Coord: northOf(tunis, m)}))
	}

	got, err := idx.Query(ctx, geo.Query{Point: tunis, RadiusMeters: 10_000})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uuid.UUID{d05, d2, d9}, []uuid.UUID{got[0].DoctorID, got[1].DoctorID, got[2].DoctorID})
	assert.InDelta(t, 500, got[0].DistanceMeters, 5)
	assert.Equal(t, "Cardiology", got[0].Specialty)

	got, err = idx.Query(ctx, geo.Query{Point: tunis, RadiusMeters: 10_000, Specialty: "dermatology"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGeoIndexSpecialtyChange(t *testing.T) {
	_, client := newTestClient(t)
	idx := NewGeoIndex(client)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, idx.Upsert(ctx, geo.DoctorLocation{DoctorID: id, Specialty: "Cardiology", Coord: northOf(tunis, 1_000)}))
	require.NoError(t, idx.Upsert(ctx, geo.DoctorLocation{DoctorID: id, Specialty: "Neurology", Coord: northOf(tunis, 1_500)}))

	got, err := idx.Query(ctx, geo.Query{Point: tunis, RadiusMeters: 5_000, Specialty: "Cardiology"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Query(ctx, geo.Query{Point: tunis, RadiusMeters: 5_000, Specialty: "neurology"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1_500, got[0].DistanceMeters, 10)
	assert.Equal(t, "Neurology", got[0].Specialty)
}

func TestGeoIndexRejectsInvalidCoordinates(t *testing.T) {
	_, client := newTestClient(t)
	idx := NewGeoIndex(client)

	err := idx.Upsert(context.Background(), geo.DoctorLocation{DoctorID: uuid.New(), Coord: geo.Coordinate{Lat: 95}})
	assert.ErrorIs(t, err, apperr.ErrInvalidCoordinate)

	_, err = idx.Query(context.Background(), geo.Query{Point: geo.Coordinate{Lon: 200}, RadiusMeters: 10})
	assert.ErrorIs(t, err, apperr.ErrInvalidCoordinate)
}

func TestGeoIndexRejectsNonFiniteRadius(t *testing.T) {
	_, client := newTestClient(t)
	idx := NewGeoIndex(client)
	ctx := context.Background()

	tunis := geo.Coordinate{Lat: 36.8065, Lon: 10.1815}
	require.NoError(t, idx.Upsert(ctx, geo.DoctorLocation{DoctorID: uuid.New(), Specialty: "ENT", Coord: geo.Coordinate{Lat: 10, Lon: 120}}))

	for _, r := range []float64{math.NaN(), math.Inf(1)} {
		got, err := idx.Query(ctx, geo.Query{Point: tunis, RadiusMeters: r})
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "radius %v", r)
		assert.Empty(t, got)
	}
}
