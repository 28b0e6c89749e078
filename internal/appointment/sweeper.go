package appointment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper runs ExpireStaleHolds on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSweeper(svc *Service, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		timeout:  20 * time.Second,
		logger:   logger,
		now:      time.Now,
	}
}

func (w *Sweeper) WithClock(now func() time.Time) *Sweeper {
	w.now = now
	return w
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("stopping expiry sweeper")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *Sweeper) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	n, err := w.svc.ExpireStaleHolds(runCtx, w.now())
	if err != nil {
		w.logger.Error().Err(err).Msg("expiry run failed")
		return n
	}
	w.logger.Debug().Int("expired", n).Dur("took", time.Since(start)).Msg("expiry run complete")
	return n
}
