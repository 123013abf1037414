// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package queue layers durable job semantics over the job_runs table:
// dedup-on-enqueue, exactly-once claiming, and a single worker loop that
// executes claimed jobs against the refresh orchestrator.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/metrics"
	"github.com/tomtom215/ranksheet/internal/models"
	"github.com/tomtom215/ranksheet/internal/refresh"
)

// Store is the queue's view of the database layer.
type Store interface {
	EnqueueJob(ctx context.Context, job *models.JobRun, window time.Duration) (*models.JobRun, bool, error)
	ClaimNextJob(ctx context.Context) (*models.JobRun, error)
	CompleteJob(ctx context.Context, id string, status models.JobStatus, detail models.JobDetail, duration time.Duration) error
	ReclaimStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error)
	GetJob(ctx context.Context, id string) (*models.JobRun, error)
	QueueDepth(ctx context.Context) (int64, error)
	CacheCleanExpired(ctx context.Context, graceDays int) (int64, error)
}

// Orchestrator executes the work a claimed job describes.
type Orchestrator interface {
	RefreshKeywordBySlug(ctx context.Context, opts refresh.Options) (refresh.Result, error)
	RefreshAllKeywords(ctx context.Context, opts refresh.BatchOptions) (refresh.BatchResult, error)
}

// Queue enqueues jobs and reads job state. Execution belongs to Worker.
type Queue struct {
	store  Store
	cfg    config.QueueConfig
	logger zerolog.Logger
}

// New builds a Queue.
func New(st Store, cfg config.QueueConfig, logger zerolog.Logger) *Queue {
	return &Queue{
		store:  st,
		cfg:    cfg,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// EnqueueRefreshOne queues a single-keyword refresh. If an equivalent job
// is already QUEUED or RUNNING, or finished inside the dedup window, the
// existing row is returned with inserted=false and no new row is created.
func (q *Queue) EnqueueRefreshOne(ctx context.Context, slug, reportDate string) (*models.JobRun, bool, error) {
	job := &models.JobRun{
		ID:          uuid.NewString(),
		JobName:     models.JobRefreshOne,
		KeywordSlug: slug,
		Detail: models.JobDetail{
			JobName:    models.JobRefreshOne,
			RefreshOne: &models.RefreshOneDetail{Slug: slug, ReportDate: reportDate},
		},
	}
	return q.enqueue(ctx, job, q.cfg.DedupOneWindow)
}

// EnqueueRefreshAll queues a full-batch refresh. Zero concurrency or limit
// defer to the orchestrator's configured defaults at execution time.
func (q *Queue) EnqueueRefreshAll(ctx context.Context, concurrency, limit int) (*models.JobRun, bool, error) {
	job := &models.JobRun{
		ID:      uuid.NewString(),
		JobName: models.JobRefreshAll,
		Detail: models.JobDetail{
			JobName:    models.JobRefreshAll,
			RefreshAll: &models.RefreshAllDetail{Concurrency: concurrency, Limit: limit},
		},
	}
	return q.enqueue(ctx, job, q.cfg.DedupAllWindow)
}

func (q *Queue) enqueue(ctx context.Context, job *models.JobRun, window time.Duration) (*models.JobRun, bool, error) {
	row, inserted, err := q.store.EnqueueJob(ctx, job, window)
	if err != nil {
		return nil, false, err
	}
	result := "inserted"
	if !inserted {
		result = "duplicate"
	}
	metrics.JobsEnqueued.WithLabelValues(string(job.JobName), result).Inc()
	q.logger.Info().
		Str("job_id", row.ID).
		Str("job_name", string(row.JobName)).
		Str("slug", row.KeywordSlug).
		Bool("inserted", inserted).
		Msg("Job enqueued")
	return row, inserted, nil
}

// GetJobState loads one job row by id.
func (q *Queue) GetJobState(ctx context.Context, id string) (*models.JobRun, error) {
	return q.store.GetJob(ctx, id)
}
