package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LocationSource lists doctor locations changed since a watermark. The
// directory collaborator implements it.
type LocationSource interface {
	ListDoctorLocations(ctx context.Context, updatedSince time.Time) ([]DoctorLocation, error)
}

type batchUpserter interface {
	UpsertBatch(locs []DoctorLocation) error
}

// Syncer keeps an Index in step with the directory. Queries may lag profile
// updates by one interval.
type Syncer struct {
	source    LocationSource
	index     Index
	logger    zerolog.Logger
	interval  time.Duration
	watermark time.Time
}

func NewSyncer(source LocationSource, index Index, interval time.Duration, logger zerolog.Logger) *Syncer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Syncer{
		source:   source,
		index:    index,
		logger:   logger,
		interval: interval,
	}
}

// SyncOnce pulls every location updated after the last watermark.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	locs, err := s.source.ListDoctorLocations(ctx, s.watermark)
	if err != nil {
		return 0, fmt.Errorf("list doctor locations: %w", err)
	}
	if len(locs) == 0 {
		return 0, nil
	}

	valid := locs[:0:0]
	for _, loc := range locs {
		if err := loc.Coord.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("doctor_id", loc.DoctorID.String()).Msg("skipping doctor with invalid location")
			continue
		}
		valid = append(valid, loc)
	}

	if b, ok := s.index.(batchUpserter); ok {
		if err := b.UpsertBatch(valid); err != nil {
			return 0, fmt.Errorf("upsert batch: %w", err)
		}
	} else {
		for _, loc := range valid {
			if err := s.index.Upsert(ctx, loc); err != nil {
				return 0, fmt.Errorf("upsert doctor %s: %w", loc.DoctorID, err)
			}
		}
	}

	for _, loc := range locs {
		if loc.UpdatedAt.After(s.watermark) {
			s.watermark = loc.UpdatedAt
		}
	}
	return len(valid), nil
}

func (s *Syncer) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	n, err := s.SyncOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("geo sync failed")
		return
	}
	if n > 0 {
		s.logger.Debug().Int("doctors", n).Msg("geo index refreshed")
	}
}
