// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package config provides layered configuration loading for Crescendo:
// struct defaults, then an optional YAML file, then environment
// variables, with env taking the highest precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the engine.
type Config struct {
	Window    WindowConfig    `koanf:"window"`
	Trend     TrendConfig     `koanf:"trend"`
	Recommend RecommendConfig `koanf:"recommend"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// WindowConfig controls the windowed aggregator.
type WindowConfig struct {
	// Size is the tumbling window bucket duration.
	Size time.Duration `koanf:"size"`

	// Grace is how long after a bucket ends before it is eligible for
	// finalization. Late events landing inside the grace period are
	// still applied.
	Grace time.Duration `koanf:"grace"`

	// Retention is how far back finalized buckets are kept before pruning.
	Retention time.Duration `koanf:"retention"`

	// Shards is the number of lock shards for the live key space.
	Shards int `koanf:"shards"`

	// RollInterval is how often the roll service closes expired buckets.
	RollInterval time.Duration `koanf:"roll_interval"`
}

// TrendConfig controls trend score computation.
type TrendConfig struct {
	// GrowthWeight is the weight of the growth-rate component.
	GrowthWeight float64 `koanf:"growth_weight"`

	// VolumeWeight is the weight of the absolute-volume component.
	VolumeWeight float64 `koanf:"volume_weight"`

	// VolumeFloor damps growth rates computed from small prior samples.
	VolumeFloor int64 `koanf:"volume_floor"`

	// RecomputeInterval is how often ranked sets are refreshed and persisted.
	RecomputeInterval time.Duration `koanf:"recompute_interval"`

	// DefaultLookbackDays is the lookback used by the periodic recompute.
	DefaultLookbackDays int `koanf:"default_lookback_days"`

	// DefaultLimit is the ranked list size used by the periodic recompute.
	DefaultLimit int `koanf:"default_limit"`
}

// RecommendConfig controls the recommendation scorer.
type RecommendConfig struct {
	// ModelURL is the endpoint of the external scoring service.
	ModelURL string `koanf:"model_url"`

	// ModelTimeout bounds a single scoring call.
	ModelTimeout time.Duration `koanf:"model_timeout"`

	// BreakerFailureThreshold is the consecutive-failure count that opens
	// the model circuit breaker.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	// ExclusionWindow excludes tracks the user played within this window.
	ExclusionWindow time.Duration `koanf:"exclusion_window"`

	// DefaultN is the recommendation count when the caller passes zero.
	DefaultN int `koanf:"default_n"`

	// MaxN caps the recommendation count.
	MaxN int `koanf:"max_n"`
}

// IngestConfig controls the NATS JetStream event consumer.
type IngestConfig struct {
	// Enabled turns the broker consumer on. When disabled only the
	// in-process channel source is available.
	Enabled bool `koanf:"enabled"`

	// URL is the NATS server URL.
	URL string `koanf:"url"`

	// Topic is the subject raw play events arrive on.
	Topic string `koanf:"topic"`

	// StreamName binds the subscriber to an existing JetStream stream.
	StreamName string `koanf:"stream_name"`

	// DurableName is the durable consumer prefix.
	DurableName string `koanf:"durable_name"`

	// QueueGroup load-balances consumption across instances.
	QueueGroup string `koanf:"queue_group"`

	// SubscribersCount is the number of concurrent subscribers.
	SubscribersCount int `koanf:"subscribers_count"`

	// AckWaitTimeout is how long JetStream waits for an ack before redelivery.
	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`

	// CloseTimeout bounds subscriber shutdown.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// MaxReconnects and ReconnectWait control NATS connection retries.
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// StoreConfig controls the persistent aggregate store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty selects the in-memory store.
	Path string `koanf:"path"`

	// SyncWrites forces fsync on every write.
	SyncWrites bool `koanf:"sync_writes"`

	// CatalogPath is an optional JSON file of track metadata loaded at
	// startup. Empty starts with an empty catalog.
	CatalogPath string `koanf:"catalog_path"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins is the allowed origin list for the read API.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Window.Size <= 0 {
		return fmt.Errorf("window.size must be positive, got %v", c.Window.Size)
	}
	if c.Window.Grace < 0 {
		return fmt.Errorf("window.grace must be non-negative, got %v", c.Window.Grace)
	}
	if c.Window.Retention < c.Window.Size {
		return fmt.Errorf("window.retention (%v) must be at least one window (%v)", c.Window.Retention, c.Window.Size)
	}
	if c.Window.Shards <= 0 {
		return fmt.Errorf("window.shards must be positive, got %d", c.Window.Shards)
	}
	if c.Trend.GrowthWeight < 0 || c.Trend.VolumeWeight < 0 {
		return fmt.Errorf("trend weights must be non-negative, got growth=%v volume=%v", c.Trend.GrowthWeight, c.Trend.VolumeWeight)
	}
	if c.Trend.GrowthWeight+c.Trend.VolumeWeight == 0 {
		return fmt.Errorf("at least one trend weight must be positive")
	}
	if c.Trend.VolumeFloor < 1 {
		return fmt.Errorf("trend.volume_floor must be at least 1, got %d", c.Trend.VolumeFloor)
	}
	if c.Recommend.ModelTimeout <= 0 {
		return fmt.Errorf("recommend.model_timeout must be positive, got %v", c.Recommend.ModelTimeout)
	}
	if c.Recommend.MaxN < c.Recommend.DefaultN {
		return fmt.Errorf("recommend.max_n (%d) must be at least default_n (%d)", c.Recommend.MaxN, c.Recommend.DefaultN)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Ingest.Enabled && c.Ingest.URL == "" {
		return fmt.Errorf("ingest.url is required when ingest is enabled")
	}
	return nil
}
