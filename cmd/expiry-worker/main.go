package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/geo-appointment-scheduling/internal/app/bootstrap"
	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/config"
	"github.com/hackgods/geo-appointment-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.StoreBackend != config.BackendPostgres {
		logger.Fatal().Str("store", cfg.StoreBackend).Msg("expiry-worker needs the postgres store; the api-server sweeps the memory store itself")
	}

	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(rootCtx, cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer rt.Close()

	// Expired events go out from here, so the worker runs its own dispatcher.
	rt.Dispatcher.Start(context.WithoutCancel(rootCtx))

	appointment.NewSweeper(rt.Bookings, cfg.WorkerInterval, logger).Run(rootCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := rt.Dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("pending", rt.Dispatcher.Pending()).Msg("dispatcher did not drain before shutdown timeout")
	}
	logger.Info().Msg("expiry-worker stopped")
}
