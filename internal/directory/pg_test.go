package directory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
)

var doctorCols = []string{"id", "name", "email", "specialty", "latitude", "longitude", "created_at", "updated_at"}

func ptr[T any](v T) *T { return &v }

func TestPgGetDoctorProfile(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, missing := uuid.New(), uuid.New()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, email, specialty").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(doctorCols).AddRow(
			id, "Dr. Trabelsi", ptr("trabelsi@example.com"), "Cardiology", ptr(36.8), ptr(10.18), now, now,
		))
	mock.ExpectQuery("SELECT id, name, email, specialty").
		WithArgs(missing).
		WillReturnError(pgx.ErrNoRows)

	dir := NewPgDirectory(mock)

	doc, err := dir.GetDoctorProfile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", doc.Specialty)
	require.NotNil(t, doc.Location)
	assert.Equal(t, geo.Coordinate{Lat: 36.8, Lon: 10.18}, *doc.Location)

	_, err = dir.GetDoctorProfile(context.Background(), missing)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDoctorWithoutLocation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, name, email, specialty").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(doctorCols).AddRow(
			id, "Dr. Ben Ali", (*string)(nil), "ENT", (*float64)(nil), (*float64)(nil), now, now,
		))

	doc, err := NewPgDirectory(mock).GetDoctorProfile(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, doc.Location)
	assert.Nil(t, doc.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateDoctorLocation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE doctors").
		WithArgs(id, 36.85, 10.2).
		WillReturnRows(pgxmock.NewRows(doctorCols).AddRow(
			id, "Dr. Trabelsi", (*string)(nil), "Cardiology", ptr(36.85), ptr(10.2), now, now,
		))

	dir := NewPgDirectory(mock)
	doc, err := dir.UpdateDoctorLocation(context.Background(), id, geo.Coordinate{Lat: 36.85, Lon: 10.2})
	require.NoError(t, err)
	assert.Equal(t, geo.Coordinate{Lat: 36.85, Lon: 10.2}, *doc.Location)

	_, err = dir.UpdateDoctorLocation(context.Background(), id, geo.Coordinate{Lat: 91, Lon: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidCoordinate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListDoctorLocations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery("FROM doctors").
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"id", "specialty", "latitude", "longitude", "updated_at"}).
			AddRow(a, "ENT", 36.8, 10.1, since.Add(time.Minute)).
			AddRow(b, "Neurology", 36.9, 10.2, since.Add(2*time.Minute)))

	locs, err := NewPgDirectory(mock).ListDoctorLocations(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, a, locs[0].DoctorID)
	assert.Equal(t, geo.Coordinate{Lat: 36.9, Lon: 10.2}, locs[1].Coord)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLookupContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, missing := uuid.New(), uuid.New()
	mock.ExpectQuery("UNION ALL").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email"}).AddRow(id, "Amel", "amel@example.com"))
	mock.ExpectQuery("UNION ALL").
		WithArgs(missing).
		WillReturnError(pgx.ErrNoRows)

	dir := NewPgDirectory(mock)
	c, err := dir.LookupContact(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "amel@example.com", c.Email)

	_, err = dir.LookupContact(context.Background(), missing)
	assert.ErrorIs(t, err, ErrContactNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
