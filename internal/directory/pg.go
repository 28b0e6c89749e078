package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/geo-appointment-scheduling/internal/db"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
)

type PgDirectory struct {
	pool db.Pool
}

func NewPgDirectory(pool db.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var lat, lon *float64

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Email,
		&d.Specialty,
		&lat,
		&lon,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if lat != nil && lon != nil {
		d.Location = &geo.Coordinate{Lat: *lat, Lon: *lon}
	}
	return &d, nil
}

func (r *PgDirectory) GetDoctorProfile(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, specialty, latitude, longitude, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgDirectory) GetPatientProfile(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgDirectory) UpdateDoctorLocation(ctx context.Context, id uuid.UUID, c geo.Coordinate) (*Doctor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET latitude = $2,
		    longitude = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, email, specialty, latitude, longitude, created_at, updated_at
	`, id, c.Lat, c.Lon)
	return scanDoctor(row)
}

// ListDoctorLocations returns located doctors updated after updatedSince,
// oldest change first.
func (r *PgDirectory) ListDoctorLocations(ctx context.Context, updatedSince time.Time) ([]geo.DoctorLocation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, specialty, latitude, longitude, updated_at
		FROM doctors
		WHERE latitude IS NOT NULL
		  AND longitude IS NOT NULL
		  AND updated_at > $1
		ORDER BY updated_at
	`, updatedSince)
	if err != nil {
		return nil, fmt.Errorf("list doctor locations: %w", err)
	}
	defer rows.Close()

	var out []geo.DoctorLocation
	for rows.Next() {
		var loc geo.DoctorLocation
		if err := rows.Scan(&loc.DoctorID, &loc.Specialty, &loc.Coord.Lat, &loc.Coord.Lon, &loc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgDirectory) LookupContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email FROM doctors WHERE id = $1 AND email IS NOT NULL
		UNION ALL
		SELECT id, name, email FROM patients WHERE id = $1 AND email IS NOT NULL
		LIMIT 1
	`, id).Scan(&c.ID, &c.Name, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
	return &c, nil
}
