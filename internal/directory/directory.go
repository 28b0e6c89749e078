// Package directory reads doctor and patient profiles. Profile CRUD belongs
// to the user service; this package only looks profiles up and tracks doctor
// locations for the geo index.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
)

var (
	ErrDoctorNotFound  = fmt.Errorf("doctor %w", apperr.ErrNotFound)
	ErrPatientNotFound = fmt.Errorf("patient %w", apperr.ErrNotFound)
	ErrContactNotFound = fmt.Errorf("contact %w", apperr.ErrNotFound)
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Specialty string
	Location  *geo.Coordinate
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is how a notification reaches a doctor or patient.
type Contact struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// MemoryDirectory backs the memory store and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	doctors  map[uuid.UUID]Doctor
	patients map[uuid.UUID]Patient
	now      func() time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		doctors:  make(map[uuid.UUID]Doctor),
		patients: make(map[uuid.UUID]Patient),
		now:      time.Now,
	}
}

func (d *MemoryDirectory) AddDoctor(doc Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = d.now().UTC()
	}
	d.doctors[doc.ID] = doc
}

func (d *MemoryDirectory) AddPatient(p Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *MemoryDirectory) GetDoctorProfile(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &doc, nil
}

func (d *MemoryDirectory) GetPatientProfile(_ context.Context, id uuid.UUID) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (d *MemoryDirectory) UpdateDoctorLocation(_ context.Context, id uuid.UUID, c geo.Coordinate) (*Doctor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	doc.Location = &c
	doc.UpdatedAt = d.now().UTC()
	d.doctors[id] = doc
	return &doc, nil
}

func (d *MemoryDirectory) ListDoctorLocations(_ context.Context, updatedSince time.Time) ([]geo.DoctorLocation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []geo.DoctorLocation
	for _, doc := range d.doctors {
		if doc.Location == nil || !doc.UpdatedAt.After(updatedSince) {
			continue
		}
		out = append(out, geo.DoctorLocation{
			DoctorID:  doc.ID,
			Specialty: doc.Specialty,
			Coord:     *doc.Location,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (d *MemoryDirectory) LookupContact(_ context.Context, id uuid.UUID) (*Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if doc, ok := d.doctors[id]; ok && doc.Email != nil && strings.TrimSpace(*doc.Email) != "" {
		return &Contact{ID: id, Name: doc.Name, Email: *doc.Email}, nil
	}
	if p, ok := d.patients[id]; ok && p.Email != nil && strings.TrimSpace(*p.Email) != "" {
		return &Contact{ID: id, Name: p.Name, Email: *p.Email}, nil
	}
	return nil, ErrContactNotFound
}
