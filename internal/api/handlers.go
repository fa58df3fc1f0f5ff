// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/recommend"
	"github.com/crescendo-audio/crescendo/internal/trend"
)

// Handler serves the read API.
type Handler struct {
	aggregator *aggregate.Aggregator
	ranker     *trend.Ranker
	scorer     *recommend.Scorer
	logger     zerolog.Logger
	started    time.Time
	version    string
}

// NewHandler creates the API handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(agg *aggregate.Aggregator, ranker *trend.Ranker, scorer *recommend.Scorer, version string, logger zerolog.Logger) *Handler {
	return &Handler{
		aggregator: agg,
		ranker:     ranker,
		scorer:     scorer,
		logger:     logger.With().Str("component", "api").Logger(),
		started:    time.Now().UTC(),
		version:    version,
	}
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("encode response")
	}
}

// writeError maps domain errors to HTTP status codes. Insufficient
// trend data is a client-visible state, not a server fault; model
// outages surface as 503 so callers can back off.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		insufficientErr *trend.InsufficientDataError
		noHistoryErr    *recommend.NoHistoryError
		unavailableErr  *recommend.ModelUnavailableError
	)

	switch {
	case errors.As(err, &insufficientErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.As(err, &noHistoryErr):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &unavailableErr):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// limitParam parses the limit query parameter, 0 when absent.
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

// daysParam parses the days query parameter, 0 when absent.
func daysParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		return 0, errors.New("days must be a positive integer")
	}
	return days, nil
}

// Trends serves GET /api/v1/trends/{entityType}.
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	entityType := aggregate.EntityType(chi.URLParam(r, "entityType"))
	if !entityType.Valid() {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "unknown entity type, expected one of: user, artist, genre, track",
			Field: "entityType",
		})
		return
	}

	limit, err := limitParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "limit"})
		return
	}

	days, err := daysParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "days"})
		return
	}

	// A days parameter requests an ad hoc ranking over that lookback;
	// without it the periodically recomputed set is served.
	var scores []trend.Score
	if days > 0 {
		scores, err = h.ranker.Rank(r.Context(), entityType, time.Duration(days)*24*time.Hour, limit)
	} else {
		scores, err = h.ranker.Top(r.Context(), entityType, limit)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	if scores == nil {
		scores = []trend.Score{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"entity_type": entityType,
		"trends":      scores,
	})
}

// Recommendations serves GET /api/v1/recommendations/{userID}.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit, err := limitParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "limit"})
		return
	}

	results, err := h.scorer.Recommend(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         userID,
		"recommendations": results,
	})
}

// UserProfile serves GET /api/v1/users/{userID}/profile.
func (h *Handler) UserProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	profile, ok := h.aggregator.Profiles().Profile(userID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no listening history for user"})
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

// UserGenres serves GET /api/v1/users/{userID}/genres.
func (h *Handler) UserGenres(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit, err := limitParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "limit"})
		return
	}
	if limit == 0 {
		limit = 10
	}

	profile, ok := h.aggregator.Profiles().Profile(userID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no listening history for user"})
		return
	}

	genres := profile.TopGenres(limit)
	if genres == nil {
		genres = []aggregate.GenreShare{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"total_plays": profile.TotalPlays,
		"genres":      genres,
	})
}

// Stats serves GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	stats := h.aggregator.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"aggregator":    stats,
		"breaker_state": h.scorer.BreakerState(),
	})
}

// Health serves GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// Ready serves GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
