package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/hackgods/geo-appointment-scheduling/internal/db"
	"github.com/hackgods/geo-appointment-scheduling/internal/logging"
)

const usage = "usage: migrate [up|down|version|force <version>]"

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	cmd, args := "up", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migrator")
		}
	}()

	if err := run(m, cmd, args); err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("migration failed")
		_ = m.Close()
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("read schema version")
		return
	}
	logger.Info().Str("command", cmd).Uint("version", version).Bool("dirty", dirty).Msg("migrations done")
}

func run(m *db.Migrator, cmd string, args []string) error {
	switch cmd {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "version":
		return nil
	case "force":
		if len(args) != 1 {
			return fmt.Errorf("force needs a version: %s", usage)
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return m.Force(v)
	default:
		return fmt.Errorf("unknown command %q: %s", cmd, usage)
	}
}
