// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StoreMaintainer is the maintenance surface of the persistent store.
type StoreMaintainer interface {
	// DeleteBefore removes finalized records older than horizon.
	DeleteBefore(ctx context.Context, horizon time.Time) (int, error)

	// RunGC reclaims storage space.
	RunGC()
}

// MaintenanceService periodically enforces retention on the store and
// runs value-log garbage collection.
type MaintenanceService struct {
	store     StoreMaintainer
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	name      string
}

// NewMaintenanceService creates a maintenance service. Retention is
// how far back records are kept; interval is the sweep cadence.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewMaintenanceService(store StoreMaintainer, retention, interval time.Duration, logger zerolog.Logger) *MaintenanceService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MaintenanceService{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With().Str("service", "maintenance").Logger(),
		name:      "store-maintenance",
	}
}

// Serve implements suture.Service.
func (s *MaintenanceService) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("retention", s.retention).
		Dur("interval", s.interval).
		Msg("maintenance service starting")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("maintenance service shutting down")
			return ctx.Err()

		case now := <-ticker.C:
			horizon := now.UTC().Add(-s.retention)
			deleted, err := s.store.DeleteBefore(ctx, horizon)
			if err != nil {
				s.logger.Warn().Err(err).Msg("retention sweep failed")
				continue
			}
			if deleted > 0 {
				s.logger.Info().Int("records", deleted).Time("horizon", horizon).Msg("retention sweep complete")
			}
			s.store.RunGC()
		}
	}
}

// String returns the service name for logging.
func (s *MaintenanceService) String() string {
	return s.name
}
