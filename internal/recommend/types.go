// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package recommend scores catalog tracks for a user by combining
// their listening profile with an external model service, with a
// circuit breaker and hard timeout guarding the model boundary.
package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/catalog"
)

// Result is one scored recommendation. GeneratedAt ties every entry
// of a response to the snapshot it was generated from.
type Result struct {
	TrackID     string    `json:"track_id"`
	ArtistID    string    `json:"artist_id,omitempty"`
	Genre       string    `json:"genre,omitempty"`
	Confidence  float64   `json:"confidence"`
	Reason      string    `json:"reason,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Request is one scoring call to the external model.
type Request struct {
	UserID     string                 `json:"user_id"`
	Profile    *aggregate.UserProfile `json:"profile"`
	Candidates []catalog.Track        `json:"candidates"`
	Limit      int                    `json:"limit"`
}

// Candidate is one model-scored track.
type Candidate struct {
	TrackID    string  `json:"track_id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Model is the external scoring boundary. Implementations must honor
// ctx cancellation; the scorer wraps calls with a timeout and breaker.
type Model interface {
	Score(ctx context.Context, req *Request) ([]Candidate, error)
}

// NoHistoryError reports a recommendation request for a user with no
// listening history.
type NoHistoryError struct {
	UserID string
}

func (e *NoHistoryError) Error() string {
	return fmt.Sprintf("no listening history for user %q", e.UserID)
}

// ModelUnavailableError reports a model call that failed, timed out,
// or was rejected by the open circuit breaker. Recommendations are
// never silently defaulted; callers surface this to the client.
type ModelUnavailableError struct {
	Reason string
	Err    error
}

func (e *ModelUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recommendation model unavailable (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("recommendation model unavailable (%s)", e.Reason)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}
