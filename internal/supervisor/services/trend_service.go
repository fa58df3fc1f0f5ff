// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/trend"
)

// TrendRanker recomputes ranked trend sets. Satisfied by trend.Ranker.
type TrendRanker interface {
	Compute(ctx context.Context, entityType aggregate.EntityType) ([]trend.Score, error)
}

// TrendService periodically recomputes ranked sets for every entity
// type. Insufficient data is expected while windows warm up and is
// logged at debug, not treated as a service failure.
type TrendService struct {
	ranker      TrendRanker
	interval    time.Duration
	entityTypes []aggregate.EntityType
	logger      zerolog.Logger
	name        string
}

// NewTrendService creates a trend recompute service.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewTrendService(ranker TrendRanker, interval time.Duration, logger zerolog.Logger) *TrendService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &TrendService{
		ranker:   ranker,
		interval: interval,
		entityTypes: []aggregate.EntityType{
			aggregate.EntityUser,
			aggregate.EntityArtist,
			aggregate.EntityGenre,
			aggregate.EntityTrack,
		},
		logger: logger.With().Str("service", "trend").Logger(),
		name:   "trend-service",
	}
}

// Serve implements suture.Service.
func (s *TrendService) Serve(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("trend service starting")

	// First computation shortly after startup so the API has data
	// before the first full interval elapses.
	s.recomputeAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("trend service shutting down")
			return ctx.Err()

		case <-ticker.C:
			s.recomputeAll(ctx)
		}
	}
}

func (s *TrendService) recomputeAll(ctx context.Context) {
	for _, entityType := range s.entityTypes {
		if ctx.Err() != nil {
			return
		}

		_, err := s.ranker.Compute(ctx, entityType)
		if err == nil {
			continue
		}

		var insufficientErr *trend.InsufficientDataError
		if errors.As(err, &insufficientErr) {
			s.logger.Debug().
				Str("entity_type", string(entityType)).
				Msg("trend recompute skipped, no finalized windows yet")
			continue
		}
		s.logger.Warn().Err(err).
			Str("entity_type", string(entityType)).
			Msg("trend recompute failed")
	}
}

// String returns the service name for logging.
func (s *TrendService) String() string {
	return s.name
}
