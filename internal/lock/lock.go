// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package lock serializes refreshes of the same keyword across processes
// using Postgres advisory locks. Locks are session scoped, so the manager
// pins one pooled connection for the duration of the guarded function.
//
// The manager's statement timeout governs only the pinned session, that
// is the lock protocol itself (try-lock polling and unlock). Queries the
// guarded function issues run on other pooled sessions; those are bounded
// by the pool-wide statement_timeout the store sets on every connection.
package lock

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ranksheet/internal/metrics"
)

// namespace is the classid half of every advisory lock key this service
// takes, keeping it clear of other applications sharing the database.
const namespace int32 = 0x524B5348

// pollInterval is how often an unacquired lock is retried.
const pollInterval = 100 * time.Millisecond

// Result reports the outcome of a WithLock call. Acquired false is not an
// error: it means another process currently holds the keyword.
type Result struct {
	Acquired bool
	Waited   time.Duration
}

// Conn is the slice of a pinned database session the manager needs.
type Conn interface {
	TryLock(ctx context.Context, classID, objID int32) (bool, error)
	Unlock(ctx context.Context, classID, objID int32) error
	SetStatementTimeout(ctx context.Context, d time.Duration) error
	ResetStatementTimeout(ctx context.Context) error
	Release()
}

// ConnSource hands out pinned sessions. *store.Store satisfies this.
type ConnSource interface {
	AcquireLockConn(ctx context.Context) (Conn, error)
}

// Config controls acquisition patience and the pinned session's statement
// timeout.
type Config struct {
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
}

// Manager takes and releases per-keyword advisory locks.
type Manager struct {
	source ConnSource
	cfg    Config
	logger zerolog.Logger
}

// NewManager creates a lock manager over the given connection source.
func NewManager(source ConnSource, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 5 * time.Minute
	}
	return &Manager{
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("component", "lock").Logger(),
	}
}

// KeyID folds a lock key into the signed 32-bit objid Postgres expects.
func KeyID(key string) int32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int32(h.Sum32())
}

// WithLock runs fn while holding the advisory lock for key. If the lock
// cannot be taken within AcquireTimeout the function is never invoked and
// the result reports Acquired false. The lock is released and the session
// returned to the pool on every path.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (Result, error) {
	id := KeyID(key)
	start := time.Now()

	conn, err := m.source.AcquireLockConn(ctx)
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return Result{}, err
	}
	defer conn.Release()

	acquired, err := m.acquire(ctx, conn, id)
	waited := time.Since(start)
	metrics.LockWaitDuration.Observe(waited.Seconds())
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return Result{Waited: waited}, err
	}
	if !acquired {
		metrics.LockAcquisitions.WithLabelValues("timeout").Inc()
		m.logger.Warn().
			Str("key", key).
			Int32("lock_id", id).
			Dur("waited", waited).
			Msg("Advisory lock acquisition timed out")
		return Result{Waited: waited}, nil
	}
	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := conn.ResetStatementTimeout(releaseCtx); err != nil {
			m.logger.Warn().Err(err).Int32("lock_id", id).Msg("Failed to reset statement timeout")
		}
		if err := conn.Unlock(releaseCtx, namespace, id); err != nil {
			m.logger.Error().Err(err).Int32("lock_id", id).Msg("Failed to release advisory lock")
		}
	}()

	if err := conn.SetStatementTimeout(ctx, m.cfg.StatementTimeout); err != nil {
		return Result{Acquired: true, Waited: waited}, err
	}

	m.logger.Debug().
		Str("key", key).
		Int32("lock_id", id).
		Dur("waited", waited).
		Msg("Advisory lock acquired")

	return Result{Acquired: true, Waited: waited}, fn(ctx)
}

// acquire polls pg_try_advisory_lock until success, timeout or context
// cancellation.
func (m *Manager) acquire(ctx context.Context, conn Conn, id int32) (bool, error) {
	deadline := time.Now().Add(m.cfg.AcquireTimeout)

	for {
		ok, err := conn.TryLock(ctx, namespace, id)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
