// Package seed generates demo doctors, patients and availability.
package seed

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/db"
	"github.com/hackgods/geo-appointment-scheduling/internal/directory"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
)

var Specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Tunis city centre.
var DefaultCenter = geo.Coordinate{Lat: 36.8065, Lon: 10.1815}

type Options struct {
	Doctors      int
	Patients     int
	Center       geo.Coordinate
	SpreadMeters float64
	// FirstDay and Days bound the published availability.
	FirstDay    time.Time
	Days        int
	DayStart    string // HH:MM
	SlotsPerDay int
	SlotLength  time.Duration
	// Seed 0 picks a random seed.
	Seed uint64
}

func (o Options) withDefaults() Options {
	if o.Center == (geo.Coordinate{}) {
		o.Center = DefaultCenter
	}
	if o.SpreadMeters <= 0 {
		o.SpreadMeters = 15_000
	}
	if o.FirstDay.IsZero() {
		o.FirstDay = calendar.Day(time.Now()).AddDate(0, 0, 1)
	}
	if o.Days <= 0 {
		o.Days = 5
	}
	if o.DayStart == "" {
		o.DayStart = "09:00"
	}
	if o.SlotsPerDay <= 0 {
		o.SlotsPerDay = 8
	}
	if o.SlotLength <= 0 {
		o.SlotLength = 30 * time.Minute
	}
	return o
}

type DaySlots struct {
	DoctorID  uuid.UUID
	Date      time.Time
	Intervals []calendar.Interval
}

type Dataset struct {
	Doctors  []directory.Doctor
	Patients []directory.Patient
	Slots    []DaySlots
}

func Generate(opts Options) (Dataset, error) {
	opts = opts.withDefaults()
	f := gofakeit.New(opts.Seed)
	now := time.Now().UTC()

	var ds Dataset
	for i := 0; i < opts.Doctors; i++ {
		email := f.Email()
		loc := scatter(f, opts.Center, opts.SpreadMeters)
		ds.Doctors = append(ds.Doctors, directory.Doctor{
			ID:        uuid.New(),
			Name:      "Dr. " + f.Name(),
			Email:     &email,
			Specialty: Specialties[f.Number(0, len(Specialties)-1)],
			Location:  &loc,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	for i := 0; i < opts.Patients; i++ {
		email := f.Email()
		ds.Patients = append(ds.Patients, directory.Patient{
			ID:        uuid.New(),
			Name:      f.Name(),
			Email:     &email,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	for _, doc := range ds.Doctors {
		for d := 0; d < opts.Days; d++ {
			date := calendar.Day(opts.FirstDay).AddDate(0, 0, d)
			start, err := calendar.At(date, opts.DayStart)
			if err != nil {
				return Dataset{}, err
			}
			day := DaySlots{DoctorID: doc.ID, Date: date}
			for s := 0; s < opts.SlotsPerDay; s++ {
				from := start.Add(time.Duration(s) * opts.SlotLength)
				to := from.Add(opts.SlotLength)
				if to.After(date.AddDate(0, 0, 1)) {
					break
				}
				day.Intervals = append(day.Intervals, calendar.Interval{Start: from, End: to})
			}
			ds.Slots = append(ds.Slots, day)
		}
	}
	return ds, nil
}

// scatter picks a point uniformly inside a disc of radius meters.
func scatter(f *gofakeit.Faker, center geo.Coordinate, radius float64) geo.Coordinate {
	const metersPerDegree = 111_195.0
	d := radius * math.Sqrt(f.Float64Range(0, 1))
	theta := f.Float64Range(0, 2*math.Pi)
	return geo.Coordinate{
		Lat: center.Lat + d*math.Cos(theta)/metersPerDegree,
		Lon: center.Lon + d*math.Sin(theta)/(metersPerDegree*math.Cos(center.Lat*math.Pi/180)),
	}
}

// LoadMemory fills the in-memory stores used by the memory backend.
func LoadMemory(ctx context.Context, ds Dataset, dir *directory.MemoryDirectory, cal calendar.Calendar) error {
	for _, d := range ds.Doctors {
		dir.AddDoctor(d)
	}
	for _, p := range ds.Patients {
		dir.AddPatient(p)
	}
	return publish(ctx, ds, cal)
}

// WritePostgres inserts the dataset in batches and publishes availability
// through cal so the usual overlap checks apply.
func WritePostgres(ctx context.Context, pool db.Pool, cal calendar.Calendar, ds Dataset) error {
	const batchSize = 500

	for offset := 0; offset < len(ds.Doctors); offset += batchSize {
		end := min(offset+batchSize, len(ds.Doctors))
		err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
			for _, d := range ds.Doctors[offset:end] {
				var lat, lon *float64
				if d.Location != nil {
					lat, lon = &d.Location.Lat, &d.Location.Lon
				}
				if _, err := tx.Exec(ctx, `
					INSERT INTO doctors (id, name, email, specialty, latitude, longitude, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, now(), now())
				`, d.ID, d.Name, d.Email, d.Specialty, lat, lon); err != nil {
					return fmt.Errorf("insert doctor: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for offset := 0; offset < len(ds.Patients); offset += batchSize {
		end := min(offset+batchSize, len(ds.Patients))
		err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
			for _, p := range ds.Patients[offset:end] {
				if _, err := tx.Exec(ctx, `
					INSERT INTO patients (id, name, email, created_at, updated_at)
					VALUES ($1, $2, $3, now(), now())
				`, p.ID, p.Name, p.Email); err != nil {
					return fmt.Errorf("insert patient: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return publish(ctx, ds, cal)
}

func publish(ctx context.Context, ds Dataset, cal calendar.Calendar) error {
	for _, day := range ds.Slots {
		if len(day.Intervals) == 0 {
			continue
		}
		if _, err := cal.PublishSlots(ctx, day.DoctorID, day.Date, day.Intervals); err != nil {
			return fmt.Errorf("publish slots for %s on %s: %w", day.DoctorID, day.Date.Format(calendar.DateLayout), err)
		}
	}
	return nil
}
