// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package services provides Suture service wrappers for the engine's
// long-lived components.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// WindowRoller closes expired aggregation windows. Satisfied by the
// aggregator; the interface keeps the service testable.
type WindowRoller interface {
	RollWindow(ctx context.Context, now time.Time) error
}

// RollService periodically rolls the aggregation window. Roll failures
// are logged and retried on the next tick; the pending snapshot makes
// retries idempotent.
type RollService struct {
	roller   WindowRoller
	interval time.Duration
	logger   zerolog.Logger
	name     string
}

// NewRollService creates a roll service ticking at interval.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRollService(roller WindowRoller, interval time.Duration, logger zerolog.Logger) *RollService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RollService{
		roller:   roller,
		interval: interval,
		logger:   logger.With().Str("service", "roll").Logger(),
		name:     "roll-service",
	}
}

// Serve implements suture.Service.
func (s *RollService) Serve(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("roll service starting")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("roll service shutting down")
			return ctx.Err()

		case now := <-ticker.C:
			if err := s.roller.RollWindow(ctx, now); err != nil {
				s.logger.Warn().Err(err).Msg("window roll failed, will retry")
			}
		}
	}
}

// String returns the service name for logging.
func (s *RollService) String() string {
	return s.name
}
