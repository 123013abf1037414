// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ranksheet/config.yaml",
	"/etc/ranksheet/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults. The loaded config is validated before
// being returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// DATABASE_URL -> database.url, QUEUE_POLL_INTERVAL -> queue.poll_interval
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
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

// findConfigFile searches for a config file in the default paths, returning
// the first file found or an empty string.
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

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment noise never pollutes
// the config.
func envTransformFunc(key string) string {
	mappings := map[string]string{
		"database_url":               "database.url",
		"database_min_conns":         "database.min_conns",
		"database_max_conns":         "database.max_conns",
		"database_statement_timeout": "database.statement_timeout",

		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		"refresh_concurrency":      "refresh.concurrency",
		"refresh_batch_limit":      "refresh.batch_limit",
		"refresh_warmup_limit":     "refresh.warmup_limit",
		"refresh_trigger_interval": "refresh.trigger_interval",

		"lock_acquire_timeout":   "lock.acquire_timeout",
		"lock_statement_timeout": "lock.statement_timeout",

		"cache_exists_ttl":            "cache.exists_ttl",
		"cache_not_found_ttl":         "cache.not_found_ttl",
		"cache_clean_older_than_days": "cache.clean_older_than_days",
		"cache_clean_interval":        "cache.clean_interval",

		"queue_poll_interval":    "queue.poll_interval",
		"queue_idle_interval":    "queue.idle_interval",
		"queue_stale_after":      "queue.stale_after",
		"queue_dedup_one_window": "queue.dedup_one_window",
		"queue_dedup_all_window": "queue.dedup_all_window",

		"signals_base_url":       "signals.base_url",
		"signals_api_key":        "signals.api_key",
		"signals_timeout":        "signals.timeout",
		"signals_retry_attempts": "signals.retry_attempts",
		"signals_retry_delay":    "signals.retry_delay",

		"catalog_base_url":       "catalog.base_url",
		"catalog_api_key":        "catalog.api_key",
		"catalog_timeout":        "catalog.timeout",
		"catalog_retry_attempts": "catalog.retry_attempts",
		"catalog_retry_delay":    "catalog.retry_delay",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := mappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
