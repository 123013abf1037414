// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tomtom215/ranksheet/internal/models"
)

const jobColumns = `id, job_name, keyword_slug, status, detail,
	queued_at, started_at, finished_at, duration_ms`

func asInterval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

func scanJob(row pgx.Row) (*models.JobRun, error) {
	var job models.JobRun
	var detailJSON []byte
	var started, finished pgtype.Timestamptz
	err := row.Scan(
		&job.ID, &job.JobName, &job.KeywordSlug, &job.Status, &detailJSON,
		&job.QueuedAt, &started, &finished, &job.DurationMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan job run: %w", err)
	}
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	job.Detail, err = models.UnmarshalJobDetail(detailJSON)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// EnqueueJob inserts job as a QUEUED row unless an active duplicate
// exists. A duplicate is a row with the same job name (and slug, for
// single-keyword jobs) that is QUEUED or RUNNING, or that was queued
// inside the dedup window. The insert and the duplicate check are one
// atomic statement, so rapid repeated triggers from concurrent callers
// yield exactly one row. The returned job is the inserted row, or the
// existing duplicate with inserted=false.
func (s *Store) EnqueueJob(ctx context.Context, job *models.JobRun, window time.Duration) (*models.JobRun, bool, error) {
	detailJSON, err := job.Detail.Marshal()
	if err != nil {
		return nil, false, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO job_runs (id, job_name, keyword_slug, detail)
		 SELECT $1, $2, $3, $4
		 WHERE NOT EXISTS (
			SELECT 1 FROM job_runs
			WHERE job_name = $2 AND keyword_slug = $3
			  AND (status IN ('QUEUED', 'RUNNING')
			       OR queued_at > now() - $5)
		 )
		 RETURNING `+jobColumns, job.ID, job.JobName, job.KeywordSlug, detailJSON, asInterval(window))
	inserted, err := scanJob(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("store: enqueue job: %w", err)
	}

	// Duplicate won: return the newest matching row instead.
	row = s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_runs
		 WHERE job_name = $1 AND keyword_slug = $2
		 ORDER BY queued_at DESC LIMIT 1`, job.JobName, job.KeywordSlug)
	duplicate, err := scanJob(row)
	if err != nil {
		return nil, false, fmt.Errorf("store: enqueue job: load duplicate: %w", err)
	}
	return duplicate, false, nil
}

// ClaimNextJob moves the oldest QUEUED row to RUNNING and returns it. The
// row lock with SKIP LOCKED guarantees that concurrent workers never claim
// the same row. Returns ErrNotFound when the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*models.JobRun, error) {
	var job *models.JobRun
	err := s.WithTransaction(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM job_runs
			 WHERE status = 'QUEUED'
			 ORDER BY queued_at ASC
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`)
		claimed, err := scanJob(row)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE job_runs SET status = 'RUNNING', started_at = now() WHERE id = $1`,
			claimed.ID)
		if err != nil {
			return fmt.Errorf("store: mark job running: %w", err)
		}

		now := time.Now()
		claimed.Status = models.JobStatusRunning
		claimed.StartedAt = &now
		job = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob records a terminal status, duration and detail blob.
func (s *Store) CompleteJob(ctx context.Context, id string, status models.JobStatus, detail models.JobDetail, duration time.Duration) error {
	if !status.Terminal() {
		return fmt.Errorf("store: complete job: %s is not terminal", status)
	}
	detailJSON, err := detail.Marshal()
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs
		 SET status = $2, detail = $3, finished_at = now(), duration_ms = $4
		 WHERE id = $1`,
		id, status, detailJSON, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("store: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStaleJobs force-fails RUNNING rows older than staleAfter. The
// worker runs this once at startup so rows orphaned by a crash do not
// block their dedup windows forever.
func (s *Store) ReclaimStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs
		 SET status = 'FAILED',
		     detail = detail || jsonb_build_object('error', 'reclaimed: stuck in RUNNING past staleness threshold'),
		     finished_at = now()
		 WHERE status = 'RUNNING' AND started_at < now() - $1`,
		asInterval(staleAfter))
	if err != nil {
		return 0, fmt.Errorf("store: reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob loads one queue row by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.JobRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_runs WHERE id = $1`, id)
	return scanJob(row)
}

// QueueDepth counts QUEUED rows for the gauge.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM job_runs WHERE status = 'QUEUED'`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("store: queue depth: %w", err)
	}
	return depth, nil
}
