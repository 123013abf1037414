// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/ranksheet/internal/lock"
)

// AcquireLockConn pins one pooled connection for session-scoped advisory
// locking. The caller must Release it.
func (s *Store) AcquireLockConn(ctx context.Context) (lock.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquire lock connection: %w", err)
	}
	return &lockConn{conn: conn}, nil
}

type lockConn struct {
	conn *pgxpool.Conn
}

func (c *lockConn) TryLock(ctx context.Context, classID, objID int32) (bool, error) {
	var acquired bool
	err := c.conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, $2)`, classID, objID).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("store: try advisory lock: %w", err)
	}
	return acquired, nil
}

func (c *lockConn) Unlock(ctx context.Context, classID, objID int32) error {
	var released bool
	err := c.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1, $2)`, classID, objID).Scan(&released)
	if err != nil {
		return fmt.Errorf("store: advisory unlock: %w", err)
	}
	if !released {
		return fmt.Errorf("store: advisory unlock: lock %d/%d was not held", classID, objID)
	}
	return nil
}

// SetStatementTimeout applies a session statement timeout. SET does not
// accept bind parameters, so the duration is formatted as integer
// milliseconds.
func (c *lockConn) SetStatementTimeout(ctx context.Context, d time.Duration) error {
	_, err := c.conn.Exec(ctx, fmt.Sprintf(`SET statement_timeout = %d`, d.Milliseconds()))
	if err != nil {
		return fmt.Errorf("store: set statement_timeout: %w", err)
	}
	return nil
}

func (c *lockConn) ResetStatementTimeout(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, `SET statement_timeout TO DEFAULT`)
	if err != nil {
		return fmt.Errorf("store: reset statement_timeout: %w", err)
	}
	return nil
}

func (c *lockConn) Release() {
	c.conn.Release()
}
