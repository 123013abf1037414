// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package store is the PostgreSQL persistence layer. One database holds
// everything the pipeline needs: keyword entities, published rank sheets,
// the ASIN metadata cache, the durable job queue, and the advisory locks
// that serialize per-keyword refreshes.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ranksheet/internal/config"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a pgx connection pool with the pipeline's query surface.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New connects a pool using the given database configuration. The pool is
// verified with a ping before being handed out.
func New(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// poolConfig builds the pgxpool configuration: bounded connections, and a
// statement_timeout runtime parameter on every session so each query a
// refresh issues is bounded, not just the ones on the pinned lock
// connection.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
			strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return poolCfg, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic and committing otherwise.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}

// Bootstrap creates the schema if it does not exist. It is idempotent and
// runs on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS keywords (
			id                UUID PRIMARY KEY,
			slug              TEXT NOT NULL UNIQUE,
			display_text      TEXT NOT NULL,
			category          TEXT NOT NULL DEFAULT '',
			marketplace       TEXT NOT NULL DEFAULT 'US',
			top_n             INT  NOT NULL DEFAULT 0,
			is_active         BOOLEAN NOT NULL DEFAULT TRUE,
			status            TEXT NOT NULL DEFAULT 'PENDING',
			status_reason     TEXT NOT NULL DEFAULT '',
			indexable         BOOLEAN NOT NULL DEFAULT FALSE,
			priority          INT  NOT NULL DEFAULT 0,
			last_refreshed_at TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keywords_active_priority
			ON keywords (is_active, priority DESC)`,

		`CREATE TABLE IF NOT EXISTS rank_sheets (
			id              UUID PRIMARY KEY,
			keyword_id      UUID NOT NULL REFERENCES keywords (id),
			data_period     TEXT NOT NULL,
			mode            TEXT NOT NULL,
			valid_count     INT  NOT NULL,
			readiness_level TEXT NOT NULL,
			rows            JSONB NOT NULL,
			history         JSONB NOT NULL DEFAULT '[]',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (keyword_id, data_period)
		)`,

		`CREATE TABLE IF NOT EXISTS asin_cache (
			asin            TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			brand           TEXT NOT NULL DEFAULT '',
			image           TEXT NOT NULL DEFAULT '',
			parent_asin     TEXT NOT NULL DEFAULT '',
			variation_group TEXT NOT NULL DEFAULT '',
			price           DOUBLE PRECISION,
			fetched_at      TIMESTAMPTZ NOT NULL,
			expires_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_asin_cache_expires_at
			ON asin_cache (expires_at)`,

		`CREATE TABLE IF NOT EXISTS job_runs (
			id           UUID PRIMARY KEY,
			job_name     TEXT NOT NULL,
			keyword_slug TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'QUEUED',
			detail       JSONB NOT NULL DEFAULT '{}',
			queued_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at   TIMESTAMPTZ,
			finished_at  TIMESTAMPTZ,
			duration_ms  BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_name_queued
			ON job_runs (job_name, queued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_slug_queued
			ON job_runs (keyword_slug, queued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_status_queued
			ON job_runs (status, queued_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: bootstrap schema: %w", err)
		}
	}

	s.logger.Info().Msg("Database schema verified")
	return nil
}
