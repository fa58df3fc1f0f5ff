// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/crescendo/config.yaml",
	"/etc/crescendo/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Window: WindowConfig{
			Size:         time.Hour,
			Grace:        5 * time.Minute,
			Retention:    30 * 24 * time.Hour,
			Shards:       64,
			RollInterval: time.Minute,
		},
		Trend: TrendConfig{
			GrowthWeight:        0.6,
			VolumeWeight:        0.4,
			VolumeFloor:         10,
			RecomputeInterval:   15 * time.Minute,
			DefaultLookbackDays: 7,
			DefaultLimit:        50,
		},
		Recommend: RecommendConfig{
			ModelURL:                "",
			ModelTimeout:            2 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         30 * time.Second,
			ExclusionWindow:         7 * 24 * time.Hour,
			DefaultN:                20,
			MaxN:                    100,
		},
		Ingest: IngestConfig{
			Enabled:          false, // in-process source by default
			URL:              "nats://127.0.0.1:4222",
			Topic:            "listen.events",
			StreamName:       "",
			DurableName:      "listen-aggregator",
			QueueGroup:       "aggregators",
			SubscribersCount: 4,
			AckWaitTimeout:   30 * time.Second,
			CloseTimeout:     30 * time.Second,
			MaxReconnects:    -1, // retry forever
			ReconnectWait:    2 * time.Second,
		},
		Store: StoreConfig{
			Path:       "/data/crescendo",
			SyncWrites: true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8537,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when supplied via env vars.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars arrive as strings but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped keys return empty string and are skipped, preventing random
// environment variables from polluting the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Window mappings
		"window_size":          "window.size",
		"window_grace":         "window.grace",
		"window_retention":     "window.retention",
		"window_shards":        "window.shards",
		"window_roll_interval": "window.roll_interval",

		// Trend mappings
		"trend_growth_weight":      "trend.growth_weight",
		"trend_volume_weight":      "trend.volume_weight",
		"trend_volume_floor":       "trend.volume_floor",
		"trend_recompute_interval": "trend.recompute_interval",
		"trend_lookback_days":      "trend.default_lookback_days",
		"trend_limit":              "trend.default_limit",

		// Recommend mappings
		"model_url":               "recommend.model_url",
		"model_timeout":           "recommend.model_timeout",
		"model_breaker_threshold": "recommend.breaker_failure_threshold",
		"model_breaker_cooldown":  "recommend.breaker_cooldown",
		"recommend_exclusion":     "recommend.exclusion_window",
		"recommend_default_n":     "recommend.default_n",
		"recommend_max_n":         "recommend.max_n",

		// Ingest mappings
		"ingest_enabled":        "ingest.enabled",
		"nats_url":              "ingest.url",
		"ingest_topic":          "ingest.topic",
		"ingest_stream":         "ingest.stream_name",
		"ingest_durable_name":   "ingest.durable_name",
		"ingest_queue_group":    "ingest.queue_group",
		"ingest_subscribers":    "ingest.subscribers_count",
		"ingest_ack_wait":       "ingest.ack_wait_timeout",
		"ingest_close_timeout":  "ingest.close_timeout",
		"ingest_max_reconnects": "ingest.max_reconnects",
		"ingest_reconnect_wait": "ingest.reconnect_wait",

		// Store mappings
		"store_path":         "store.path",
		"store_sync_writes":  "store.sync_writes",
		"store_catalog_path": "store.catalog_path",

		// Server mappings
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
