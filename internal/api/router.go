// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package api exposes the read API over HTTP using the Chi router.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/metrics"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	// CORSOrigins is the allowed origin list. Empty disables CORS.
	CORSOrigins []string

	// RateLimitReqs requests per RateLimitWindow per client IP.
	// Zero disables rate limiting.
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Router builds the HTTP handler tree.
type Router struct {
	cfg     RouterConfig
	handler *Handler
	logger  zerolog.Logger
}

// NewRouter creates a router serving handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRouter(cfg RouterConfig, handler *Handler, logger zerolog.Logger) *Router {
	return &Router{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Setup wires all routes and middleware into one http.Handler.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.requestMetrics)

	if len(rt.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			MaxAge:           300,
			AllowCredentials: false,
		}))
	}

	r.Get("/health", rt.handler.Health)
	r.Get("/ready", rt.handler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))
		}

		r.Get("/trends/{entityType}", rt.handler.Trends)
		r.Get("/recommendations/{userID}", rt.handler.Recommendations)
		r.Get("/users/{userID}/profile", rt.handler.UserProfile)
		r.Get("/users/{userID}/genres", rt.handler.UserGenres)
		r.Get("/stats", rt.handler.Stats)
	})

	return r
}

// requestMetrics records per-route request counts and latency.
func (rt *Router) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
			endpoint = pattern
		}
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
