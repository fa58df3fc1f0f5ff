// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package trend ranks artists, genres, and tracks by listening growth
// and volume over finalized aggregation windows.
package trend

import (
	"context"
	"fmt"
	"time"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
)

// Score is one entity's trend score within a ranked set.
type Score struct {
	EntityType   aggregate.EntityType `json:"entity_type"`
	EntityID     string               `json:"entity_id"`
	Rank         int                  `json:"rank"`
	Score        float64              `json:"score"`
	Growth       float64              `json:"growth"`
	CurrentPlays int64                `json:"current_plays"`
	PriorPlays   int64                `json:"prior_plays"`
	ComputedAt   time.Time            `json:"computed_at"`
}

// Config holds trend scoring weights.
type Config struct {
	// GrowthWeight and VolumeWeight blend relative growth against
	// normalized absolute volume. They should sum to 1.
	GrowthWeight float64
	VolumeWeight float64

	// VolumeFloor damps the growth ratio for low-volume entities so a
	// jump from 1 to 5 plays does not outrank established movement.
	VolumeFloor int64

	// Lookback is the width of the comparison windows. The current
	// window is [now-Lookback, now), the prior window the Lookback
	// before that.
	Lookback time.Duration
}

// DefaultConfig returns production scoring defaults.
func DefaultConfig() Config {
	return Config{
		GrowthWeight: 0.6,
		VolumeWeight: 0.4,
		VolumeFloor:  10,
		Lookback:     24 * time.Hour,
	}
}

// Validate checks weight and window sanity.
func (c Config) Validate() error {
	if c.GrowthWeight < 0 || c.VolumeWeight < 0 {
		return fmt.Errorf("trend weights must be non-negative: growth=%v volume=%v", c.GrowthWeight, c.VolumeWeight)
	}
	if c.GrowthWeight+c.VolumeWeight == 0 {
		return fmt.Errorf("at least one trend weight must be positive")
	}
	if c.VolumeFloor < 1 {
		return fmt.Errorf("volume floor must be at least 1, got %d", c.VolumeFloor)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %v", c.Lookback)
	}
	return nil
}

// Source supplies finalized aggregation records for scoring. The
// aggregator satisfies it.
type Source interface {
	FinalizedRange(entityType aggregate.EntityType, start, end time.Time) []aggregate.Record
	FinalizedBucketCount(start, end time.Time) int
}

// ScoreStore persists ranked sets. Each computation replaces the
// stored set for its entity type wholesale; readers never observe a
// partially updated ranking.
type ScoreStore interface {
	// ReplaceScores atomically replaces the ranked set for entityType.
	ReplaceScores(ctx context.Context, entityType aggregate.EntityType, scores []Score) error

	// Scores returns the stored ranked set for entityType, empty if no
	// computation has run yet.
	Scores(ctx context.Context, entityType aggregate.EntityType) ([]Score, error)
}

// InsufficientDataError reports a scoring window with no finalized
// buckets to score over.
type InsufficientDataError struct {
	EntityType aggregate.EntityType
	Start      time.Time
	End        time.Time
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s trends: no finalized buckets in [%s, %s)",
		e.EntityType, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}
