// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package trend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/metrics"
)

// Ranker computes ranked trend sets from finalized aggregation windows.
// Scoring is deterministic: the same finalized windows always produce
// the same ranking.
type Ranker struct {
	cfg    Config
	source Source
	store  ScoreStore
	logger zerolog.Logger
	clock  func() time.Time
}

// NewRanker creates a ranker reading from source and persisting ranked
// sets to store.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRanker(cfg Config, source Source, store ScoreStore, logger zerolog.Logger) (*Ranker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trend config: %w", err)
	}
	return &Ranker{
		cfg:    cfg,
		source: source,
		store:  store,
		logger: logger.With().Str("component", "trend").Logger(),
		clock:  time.Now,
	}, nil
}

// SetClock overrides the time source. Test hook.
func (r *Ranker) SetClock(clock func() time.Time) {
	r.clock = clock
}

// Compute scores every entity of entityType active in the current or
// prior configured lookback window, replaces the stored ranked set,
// and returns the new ranking. Returns InsufficientDataError when no
// finalized buckets exist in the combined range.
func (r *Ranker) Compute(ctx context.Context, entityType aggregate.EntityType) ([]Score, error) {
	scores, err := r.computeScores(entityType, r.cfg.Lookback)
	if err != nil {
		return nil, err
	}

	if err := r.store.ReplaceScores(ctx, entityType, scores); err != nil {
		return nil, fmt.Errorf("replace %s trend scores: %w", entityType, err)
	}

	r.logger.Info().
		Str("entity_type", string(entityType)).
		Int("entities", len(scores)).
		Dur("lookback", r.cfg.Lookback).
		Msg("trend ranking computed")
	return scores, nil
}

// Rank scores entityType over a caller-specified lookback and returns
// up to limit entries. The stored ranked set is untouched; only the
// periodic Compute replaces it.
func (r *Ranker) Rank(_ context.Context, entityType aggregate.EntityType, lookback time.Duration, limit int) ([]Score, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %v", lookback)
	}

	scores, err := r.computeScores(entityType, lookback)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

// computeScores compares the lookback window ending now against the
// lookback before it and ranks the result.
func (r *Ranker) computeScores(entityType aggregate.EntityType, lookback time.Duration) ([]Score, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	start := r.clock()
	defer func() {
		metrics.RecordTrendComputation(string(entityType), r.clock().Sub(start))
	}()

	now := start.UTC()
	curStart := now.Add(-lookback)
	priorStart := now.Add(-2 * lookback)

	if r.source.FinalizedBucketCount(priorStart, now) == 0 {
		return nil, &InsufficientDataError{EntityType: entityType, Start: priorStart, End: now}
	}

	current := sumPlays(r.source.FinalizedRange(entityType, curStart, now))
	prior := sumPlays(r.source.FinalizedRange(entityType, priorStart, curStart))

	return r.score(entityType, current, prior, now), nil
}

// score blends growth against normalized volume and ranks the result.
func (r *Ranker) score(entityType aggregate.EntityType, current, prior map[string]int64, now time.Time) []Score {
	ids := make(map[string]struct{}, len(current)+len(prior))
	for id := range current {
		ids[id] = struct{}{}
	}
	for id := range prior {
		ids[id] = struct{}{}
	}

	var maxCurrent int64
	for _, plays := range current {
		if plays > maxCurrent {
			maxCurrent = plays
		}
	}

	scores := make([]Score, 0, len(ids))
	for id := range ids {
		cur := current[id]
		prev := prior[id]

		denom := prev
		if denom < r.cfg.VolumeFloor {
			denom = r.cfg.VolumeFloor
		}
		growth := float64(cur-prev) / float64(denom)

		var volume float64
		if maxCurrent > 0 {
			volume = float64(cur) / float64(maxCurrent)
		}

		scores = append(scores, Score{
			EntityType:   entityType,
			EntityID:     id,
			Score:        r.cfg.GrowthWeight*growth + r.cfg.VolumeWeight*volume,
			Growth:       growth,
			CurrentPlays: cur,
			PriorPlays:   prev,
			ComputedAt:   now,
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].EntityID < scores[j].EntityID
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}

// Top returns up to n entries of the stored ranked set for entityType.
func (r *Ranker) Top(ctx context.Context, entityType aggregate.EntityType, n int) ([]Score, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	scores, err := r.store.Scores(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("load %s trend scores: %w", entityType, err)
	}
	if n > 0 && len(scores) > n {
		scores = scores[:n]
	}
	return scores, nil
}

// sumPlays folds per-bucket records into total plays per entity id.
func sumPlays(records []aggregate.Record) map[string]int64 {
	totals := make(map[string]int64)
	for _, rec := range records {
		totals[rec.Key.EntityID] += rec.PlayCount
	}
	return totals
}
