package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/geo-appointment-scheduling/internal/api"
	"github.com/hackgods/geo-appointment-scheduling/internal/app/bootstrap"
	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/auth"
	"github.com/hackgods/geo-appointment-scheduling/internal/config"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
	"github.com/hackgods/geo-appointment-scheduling/internal/logging"
	"github.com/hackgods/geo-appointment-scheduling/internal/seed"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreBackend).
		Str("geo", cfg.GeoBackend).
		Dur("hold_timeout", cfg.HoldTimeout).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := bootstrap.Build(rootCtx, cfg, reg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer rt.Close()

	if rt.MemoryDirectory != nil {
		ds, err := seed.Generate(seed.Options{Doctors: 50, Patients: 200})
		if err != nil {
			logger.Fatal().Err(err).Msg("generate demo data")
		}
		if err := seed.LoadMemory(rootCtx, ds, rt.MemoryDirectory, rt.Calendar); err != nil {
			logger.Fatal().Err(err).Msg("load demo data")
		}
		logger.Info().Int("doctors", len(ds.Doctors)).Int("patients", len(ds.Patients)).Msg("loaded demo data")
	}

	var wg sync.WaitGroup
	background := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(rootCtx)
		}()
	}

	syncer := geo.NewSyncer(rt.Directory, rt.Geo, cfg.GeoSyncInterval, logger)
	if _, err := syncer.SyncOnce(rootCtx); err != nil {
		logger.Warn().Err(err).Msg("initial geo index sync failed")
	}
	background(syncer.Run)

	// Not tied to the signal: Stop drains the queue during shutdown.
	rt.Dispatcher.Start(context.WithoutCancel(rootCtx))

	// The memory store lives in this process, so nothing else can sweep it.
	if rt.MemoryCalendar != nil {
		background(appointment.NewSweeper(rt.Bookings, cfg.WorkerInterval, logger).Run)
	}

	router := api.NewRouter(api.RouterConfig{
		Bookings:   rt.Bookings,
		Calendar:   rt.Calendar,
		Geo:        rt.Geo,
		Profiles:   rt.Directory,
		Verifier:   auth.NewVerifier(cfg.JWTSecret, ""),
		Health:     rt.HealthHandler(version),
		GeoMetrics: rt.GeoMetrics,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	wg.Wait()
	if err := rt.Dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("pending", rt.Dispatcher.Pending()).Msg("dispatcher did not drain before shutdown timeout")
	}

	logger.Info().Msg("api-server stopped")
}
