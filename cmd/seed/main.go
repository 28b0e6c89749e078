package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/db"
	"github.com/hackgods/geo-appointment-scheduling/internal/logging"
	"github.com/hackgods/geo-appointment-scheduling/internal/seed"
)

func main() {
	doctors := flag.Int("doctors", 100, "number of doctors to create")
	patients := flag.Int("patients", 9000, "number of patients to create")
	days := flag.Int("days", 5, "days of availability per doctor, starting tomorrow")
	slotsPerDay := flag.Int("slots-per-day", 8, "30 minute slots per doctor per day")
	spread := flag.Float64("spread-m", 15000, "radius around the centre doctors are scattered in")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ds, err := seed.Generate(seed.Options{
		Doctors:      *doctors,
		Patients:     *patients,
		Days:         *days,
		SlotsPerDay:  *slotsPerDay,
		SpreadMeters: *spread,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("generate dataset")
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, dsn)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	start := time.Now()
	if err := seed.WritePostgres(context.Background(), pool, calendar.NewPgCalendar(pool), ds); err != nil {
		logger.Error().Err(err).Msg("seed failed")
		pool.Close()
		os.Exit(1)
	}

	logger.Info().
		Int("doctors", len(ds.Doctors)).
		Int("patients", len(ds.Patients)).
		Int("slot_days", len(ds.Slots)).
		Dur("took", time.Since(start)).
		Msg("seed complete")
}
