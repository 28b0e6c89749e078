// Package bootstrap wires stores, collaborators and the booking service from
// configuration. The api-server and expiry-worker share it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/geo-appointment-scheduling/internal/api"
	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/config"
	"github.com/hackgods/geo-appointment-scheduling/internal/db"
	"github.com/hackgods/geo-appointment-scheduling/internal/directory"
	"github.com/hackgods/geo-appointment-scheduling/internal/dispatch"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
	"github.com/hackgods/geo-appointment-scheduling/internal/metrics"
	"github.com/hackgods/geo-appointment-scheduling/internal/notify"
	"github.com/hackgods/geo-appointment-scheduling/internal/records"
	redisclient "github.com/hackgods/geo-appointment-scheduling/internal/redis"
)

// Directory is everything the runtime needs from the profile store.
type Directory interface {
	appointment.Directory
	geo.LocationSource
	api.DoctorProfiles
	notify.ContactLookup
}

type Runtime struct {
	Config     config.Config
	Logger     zerolog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Calendar   calendar.Calendar
	Repository appointment.Repository
	Locker     appointment.Locker
	Directory  Directory
	Geo        geo.Index
	Dispatcher *dispatch.Dispatcher
	Bookings   *appointment.Service
	GeoMetrics *metrics.GeoMetrics

	// Set only for the memory backend.
	MemoryDirectory *directory.MemoryDirectory
	MemoryCalendar  *calendar.MemoryCalendar
}

// Build connects to the configured backends. The dispatcher is created but
// not started.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		rt.Pool = pool
		rt.Calendar = calendar.NewPgCalendar(pool)
		rt.Repository = appointment.NewPgRepository(pool)
		rt.Directory = directory.NewPgDirectory(pool)
		logger.Info().Msg("connected to Postgres")
	case config.BackendMemory:
		rt.MemoryCalendar = calendar.NewMemoryCalendar()
		rt.MemoryDirectory = directory.NewMemoryDirectory()
		rt.Calendar = rt.MemoryCalendar
		rt.Directory = rt.MemoryDirectory
		rt.Repository = appointment.NewMemoryRepository()
		rt.Locker = appointment.NewKeyedLocker()
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if cfg.UsesRedis() {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		rt.Redis = rdb
		logger.Info().Msg("connected to Redis")
	}

	if rt.Locker == nil {
		rt.Locker = redisclient.NewLocker(rt.Redis, cfg.LockTTL)
	}

	if cfg.GeoBackend == config.BackendRedis {
		rt.Geo = redisclient.NewGeoIndex(rt.Redis)
	} else {
		rt.Geo = geo.NewMemoryIndex()
	}

	notifier, err := BuildNotifier(cfg, rt.Directory, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var store dispatch.ProcessedStore = dispatch.NewMemoryProcessedStore()
	if rt.Pool != nil {
		store = dispatch.NewPgProcessedStore(rt.Pool)
	}

	rt.Dispatcher = dispatch.New(notifier, BuildSeeder(cfg, logger), store, logger).
		WithWorkers(cfg.DispatchWorkers).
		WithMaxAttempts(cfg.DispatchMaxAttempts).
		WithBaseDelay(cfg.DispatchBaseDelay).
		WithMaxDelay(cfg.DispatchMaxDelay).
		WithMetrics(metrics.NewDispatchMetrics(reg))

	rt.Bookings = appointment.NewService(rt.Calendar, rt.Repository, rt.Locker, logger).
		WithDirectory(rt.Directory).
		WithPublisher(rt.Dispatcher).
		WithMetrics(metrics.NewBookingMetrics(reg)).
		WithHoldTimeout(cfg.HoldTimeout)
	if rt.Pool != nil {
		rt.Bookings.WithTransactor(db.NewTransactor(rt.Pool))
	}

	rt.GeoMetrics = metrics.NewGeoMetrics(reg)
	return rt, nil
}

// BuildNotifier picks the notification backend.
func BuildNotifier(cfg config.Config, contacts notify.ContactLookup, logger zerolog.Logger) (notify.Notifier, error) {
	switch cfg.NotifyBackend {
	case "http":
		if cfg.NotificationURL == "" {
			return nil, fmt.Errorf("NOTIFICATION_URL is required for the http notifier")
		}
		return notify.NewHTTPNotifier(cfg.NotificationURL, nil), nil
	case "sendgrid":
		return notify.NewSendGridNotifier(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, contacts, logger)
	case "", "log":
		return notify.NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown NOTIFY_BACKEND %q", cfg.NotifyBackend)
	}
}

func BuildSeeder(cfg config.Config, logger zerolog.Logger) records.Seeder {
	if cfg.MedicalRecordsURL == "" {
		return records.NewLogSeeder(logger)
	}
	return records.NewClient(cfg.MedicalRecordsURL, nil)
}

// HealthHandler reports Postgres as critical and Redis as optional.
func (rt *Runtime) HealthHandler(version string) *api.HealthHandler {
	h := api.NewHealthHandler(rt.Config.Env, version)
	if rt.Pool != nil {
		h.WithCritical("postgres", rt.Pool.Ping)
	}
	if rt.Redis != nil {
		rdb := rt.Redis
		h.WithOptional("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	return h
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn().Err(err).Msg("error closing redis")
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
