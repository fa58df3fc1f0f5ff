// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/catalog"
	"github.com/crescendo-audio/crescendo/internal/metrics"
)

// Config holds scorer tuning parameters.
type Config struct {
	// ModelTimeout bounds a single model call.
	ModelTimeout time.Duration

	// BreakerFailureThreshold is the consecutive-failure count that
	// opens the circuit breaker.
	BreakerFailureThreshold uint32

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration

	// ExclusionWindow excludes tracks the user played within this window.
	ExclusionWindow time.Duration

	// DefaultN is the result count when the caller passes zero.
	DefaultN int

	// MaxN caps the result count.
	MaxN int
}

// DefaultConfig returns production scorer defaults.
func DefaultConfig() Config {
	return Config{
		ModelTimeout:            2 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerCooldown:         30 * time.Second,
		ExclusionWindow:         7 * 24 * time.Hour,
		DefaultN:                20,
		MaxN:                    100,
	}
}

// Scorer produces ranked recommendations for a user. Safe for
// concurrent use.
type Scorer struct {
	cfg      Config
	model    Model
	catalog  catalog.Catalog
	profiles *aggregate.ProfileTracker
	breaker  *gobreaker.CircuitBreaker[[]Candidate]
	logger   zerolog.Logger
	clock    func() time.Time
}

// NewScorer creates a scorer calling model for confidence scores.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewScorer(cfg Config, model Model, cat catalog.Catalog, profiles *aggregate.ProfileTracker, logger zerolog.Logger) (*Scorer, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.ModelTimeout <= 0 {
		return nil, fmt.Errorf("model timeout must be positive, got %v", cfg.ModelTimeout)
	}
	if cfg.DefaultN <= 0 {
		cfg.DefaultN = 20
	}
	if cfg.MaxN < cfg.DefaultN {
		cfg.MaxN = cfg.DefaultN
	}

	log := logger.With().Str("component", "recommend").Logger()

	breaker := gobreaker.NewCircuitBreaker[[]Candidate](gobreaker.Settings{
		Name:    "recommend-model",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, int(to))
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("model circuit breaker state changed")
		},
	})

	return &Scorer{
		cfg:      cfg,
		model:    model,
		catalog:  cat,
		profiles: profiles,
		breaker:  breaker,
		logger:   log,
		clock:    time.Now,
	}, nil
}

// SetClock overrides the time source. Test hook.
func (s *Scorer) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Recommend returns up to n scored tracks for userID, confidence
// descending, ties broken by catalog recency (newest AddedAt first)
// then track id. Tracks the user played within the exclusion window
// are never returned. Returns NoHistoryError for unknown users and
// ModelUnavailableError when the model boundary fails.
func (s *Scorer) Recommend(ctx context.Context, userID string, n int) ([]Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if n <= 0 {
		n = s.cfg.DefaultN
	}
	if n > s.cfg.MaxN {
		n = s.cfg.MaxN
	}

	profile, ok := s.profiles.Profile(userID)
	if !ok {
		return nil, &NoHistoryError{UserID: userID}
	}

	now := s.clock().UTC()
	excluded := s.profiles.RecentTracks(userID, now.Add(-s.cfg.ExclusionWindow))

	candidates := make([]catalog.Track, 0, s.catalog.Size())
	for _, track := range s.catalog.Tracks() {
		if _, skip := excluded[track.TrackID]; skip {
			continue
		}
		candidates = append(candidates, track)
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	scored, err := s.callModel(ctx, &Request{
		UserID:     userID,
		Profile:    profile,
		Candidates: candidates,
		Limit:      n,
	})
	if err != nil {
		return nil, err
	}

	results := s.rank(scored, excluded, now)
	if len(results) > n {
		results = results[:n]
	}

	metrics.RecommendationsServed.Inc()
	s.logger.Debug().
		Str("user_id", userID).
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Msg("recommendations scored")
	return results, nil
}

// callModel invokes the model behind the breaker with a hard timeout.
func (s *Scorer) callModel(ctx context.Context, req *Request) ([]Candidate, error) {
	start := s.clock()

	scored, err := s.breaker.Execute(func() ([]Candidate, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
		defer cancel()
		return s.model.Score(callCtx, req)
	})
	duration := s.clock().Sub(start)

	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = "breaker_open"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		metrics.RecordModelCall(duration, reason)
		s.logger.Error().Err(err).Str("reason", reason).Msg("model scoring failed")
		return nil, &ModelUnavailableError{Reason: reason, Err: err}
	}

	metrics.RecordModelCall(duration, "")
	return scored, nil
}

// rank orders model output and joins catalog metadata. Candidates the
// model returns for excluded or unknown tracks are discarded.
func (s *Scorer) rank(scored []Candidate, excluded map[string]struct{}, now time.Time) []Result {
	type entry struct {
		result  Result
		addedAt time.Time
	}

	entries := make([]entry, 0, len(scored))
	for _, c := range scored {
		if _, skip := excluded[c.TrackID]; skip {
			continue
		}
		track, ok := s.catalog.Track(c.TrackID)
		if !ok {
			continue
		}
		entries = append(entries, entry{
			result: Result{
				TrackID:     track.TrackID,
				ArtistID:    track.ArtistID,
				Genre:       track.Genre,
				Confidence:  c.Confidence,
				Reason:      c.Reason,
				GeneratedAt: now,
			},
			addedAt: track.AddedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].result.Confidence != entries[j].result.Confidence {
			return entries[i].result.Confidence > entries[j].result.Confidence
		}
		if !entries[i].addedAt.Equal(entries[j].addedAt) {
			return entries[i].addedAt.After(entries[j].addedAt)
		}
		return entries[i].result.TrackID < entries[j].result.TrackID
	})

	results := make([]Result, len(entries))
	for i, e := range entries {
		results[i] = e.result
	}
	return results
}

// BreakerState returns the current circuit breaker state string.
func (s *Scorer) BreakerState() string {
	return s.breaker.State().String()
}
