// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package main is the entry point for the Crescendo engine.
//
// Crescendo turns a stream of raw listening events into windowed play
// aggregates, trend rankings, and per-user recommendations. The server
// wires the components in this order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, env)
//  2. Store: BadgerDB for finalized windows and ranked trend sets
//  3. Aggregator: sharded rolling counters with late-event policy
//  4. Ingest (optional): NATS JetStream consumer feeding the aggregator
//  5. Trend ranker and recommendation scorer
//  6. HTTP API: Chi router serving trends, recommendations, profiles
//
// Long-lived services run under a Suture supervision tree with three
// isolated layers (data, ingest, api), so a crashing consumer never
// takes the read API down.
//
// # Configuration
//
// Settings load from built-in defaults, then an optional config.yaml
// (CONFIG_PATH overrides the search path), then environment variables:
//
//	export STORE_PATH=/data/crescendo
//	export NATS_URL=nats://nats:4222
//	export INGEST_ENABLED=true
//	export MODEL_URL=http://scoring:9000/score
//	export HTTP_PORT=8537
//	./crescendo
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the consumer acks its last message, and a final
// window roll persists pending buckets before the store closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/api"
	"github.com/crescendo-audio/crescendo/internal/catalog"
	"github.com/crescendo-audio/crescendo/internal/config"
	"github.com/crescendo-audio/crescendo/internal/event"
	"github.com/crescendo-audio/crescendo/internal/ingest"
	"github.com/crescendo-audio/crescendo/internal/logging"
	"github.com/crescendo-audio/crescendo/internal/metrics"
	"github.com/crescendo-audio/crescendo/internal/recommend"
	"github.com/crescendo-audio/crescendo/internal/store"
	"github.com/crescendo-audio/crescendo/internal/supervisor"
	"github.com/crescendo-audio/crescendo/internal/supervisor/services"
	"github.com/crescendo-audio/crescendo/internal/trend"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("store_path", cfg.Store.Path).
		Bool("ingest_enabled", cfg.Ingest.Enabled).
		Msg("Starting Crescendo")
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Engine failed")
	}
	logging.Info().Msg("Engine stopped gracefully")
}

func run(cfg *config.Config) error {
	logger := logging.Logger()

	// Store: Badger when a path is configured, in-memory otherwise.
	db, err := store.Open(store.Options{
		Path:       cfg.Store.Path,
		SyncWrites: cfg.Store.SyncWrites,
	}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	agg, err := aggregate.New(aggregate.Config{
		WindowSize: cfg.Window.Size,
		Grace:      cfg.Window.Grace,
		Retention:  cfg.Window.Retention,
		Shards:     cfg.Window.Shards,
	}, db, logger)
	if err != nil {
		return fmt.Errorf("create aggregator: %w", err)
	}

	cat := catalog.NewMemory()
	if cfg.Store.CatalogPath != "" {
		cat, err = catalog.LoadFile(cfg.Store.CatalogPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		logging.Info().Int("tracks", cat.Size()).Str("path", cfg.Store.CatalogPath).Msg("Catalog loaded")
	}

	ranker, err := trend.NewRanker(trend.Config{
		GrowthWeight: cfg.Trend.GrowthWeight,
		VolumeWeight: cfg.Trend.VolumeWeight,
		VolumeFloor:  cfg.Trend.VolumeFloor,
		Lookback:     time.Duration(cfg.Trend.DefaultLookbackDays) * 24 * time.Hour,
	}, agg, db, logger)
	if err != nil {
		return fmt.Errorf("create trend ranker: %w", err)
	}

	var model recommend.Model
	if cfg.Recommend.ModelURL != "" {
		model, err = recommend.NewHTTPModel(cfg.Recommend.ModelURL, nil)
		if err != nil {
			return fmt.Errorf("create model client: %w", err)
		}
	} else {
		// No model configured: every call surfaces ModelUnavailableError
		// instead of silently defaulting.
		model = unconfiguredModel{}
		logging.Warn().Msg("No model URL configured, recommendations will return 503")
	}

	scorer, err := recommend.NewScorer(recommend.Config{
		ModelTimeout:            cfg.Recommend.ModelTimeout,
		BreakerFailureThreshold: cfg.Recommend.BreakerFailureThreshold,
		BreakerCooldown:         cfg.Recommend.BreakerCooldown,
		ExclusionWindow:         cfg.Recommend.ExclusionWindow,
		DefaultN:                cfg.Recommend.DefaultN,
		MaxN:                    cfg.Recommend.MaxN,
	}, model, cat, agg.Profiles(), logger)
	if err != nil {
		return fmt.Errorf("create scorer: %w", err)
	}

	handler := api.NewHandler(agg, ranker, scorer, version, logger)
	router := api.NewRouter(api.RouterConfig{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, handler, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(services.NewRollService(agg, cfg.Window.RollInterval, logger))
	tree.AddDataService(services.NewTrendService(ranker, cfg.Trend.RecomputeInterval, logger))
	tree.AddDataService(services.NewMaintenanceService(db, cfg.Window.Retention, time.Hour, logger))

	if cfg.Ingest.Enabled {
		subscriber, err := ingest.NewSubscriber(ingest.SubscriberConfig{
			URL:              cfg.Ingest.URL,
			StreamName:       cfg.Ingest.StreamName,
			DurableName:      cfg.Ingest.DurableName,
			QueueGroup:       cfg.Ingest.QueueGroup,
			SubscribersCount: cfg.Ingest.SubscribersCount,
			AckWaitTimeout:   cfg.Ingest.AckWaitTimeout,
			CloseTimeout:     cfg.Ingest.CloseTimeout,
			MaxReconnects:    cfg.Ingest.MaxReconnects,
			ReconnectWait:    cfg.Ingest.ReconnectWait,
		}, logging.NewWatermillAdapter(logger))
		if err != nil {
			return fmt.Errorf("create event subscriber: %w", err)
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing subscriber")
			}
		}()

		pipeline := ingest.NewPipeline(event.NewNormalizer(), agg, logger)
		tree.AddIngestService(services.NewIngestService(pipeline, subscriber, cfg.Ingest.Topic, logger))
		logging.Info().Str("topic", cfg.Ingest.Topic).Str("url", cfg.Ingest.URL).Msg("NATS ingest enabled")
	}

	tree.AddAPIService(services.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor error")
		}
	}

	// Final roll so pending windows reach the store before close.
	rollCtx, rollCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer rollCancel()
	if err := agg.RollWindow(rollCtx, time.Now()); err != nil {
		logging.Warn().Err(err).Msg("Final window roll failed")
	}

	return nil
}

// unconfiguredModel rejects every scoring call.
type unconfiguredModel struct{}

func (unconfiguredModel) Score(context.Context, *recommend.Request) ([]recommend.Candidate, error) {
	return nil, errors.New("no scoring model configured")
}
