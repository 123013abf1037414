// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/metrics"
	"github.com/tomtom215/ranksheet/internal/models"
	"github.com/tomtom215/ranksheet/internal/refresh"
	"github.com/tomtom215/ranksheet/internal/store"
)

// Worker is the single claim-and-execute loop. One worker runs per
// process; the claim statement's row lock keeps multiple processes from
// executing the same job twice.
type Worker struct {
	store     Store
	refresher Orchestrator
	cfg       config.QueueConfig
	cacheCfg  config.CacheConfig
	logger    zerolog.Logger
	now       func() time.Time
	lastClean time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewWorker builds a Worker.
func NewWorker(st Store, refresher Orchestrator, cfg config.QueueConfig, cacheCfg config.CacheConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		store:     st,
		refresher: refresher,
		cfg:       cfg,
		cacheCfg:  cacheCfg,
		logger:    logger.With().Str("component", "worker").Logger(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Serve runs the worker loop until ctx is canceled. It implements
// suture.Service and returns ctx.Err() on shutdown so the supervisor
// treats it as a normal stop.
func (w *Worker) Serve(ctx context.Context) error {
	if err := w.reclaimStale(ctx); err != nil {
		return err
	}
	w.lastClean = w.now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.observeDepth(ctx)

		job, err := w.store.ClaimNextJob(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
			w.maybeCleanCache(ctx)
			if err := w.sleep(ctx, w.cfg.IdleInterval); err != nil {
				return err
			}
			continue
		case err != nil:
			w.logger.Error().Err(err).Msg("Job claim failed")
			if err := w.sleep(ctx, w.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		// Shutdown never aborts a claimed job mid-refresh; the job runs to
		// completion and the loop exits on its next iteration.
		w.execute(context.WithoutCancel(ctx), job)
		if err := w.sleep(ctx, w.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (w *Worker) String() string { return "queue-worker" }

// reclaimStale force-fails RUNNING rows orphaned by a previous process.
// Runs once at startup, before the first claim.
func (w *Worker) reclaimStale(ctx context.Context) error {
	n, err := w.store.ReclaimStaleJobs(ctx, w.cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("queue: stale sweep: %w", err)
	}
	if n > 0 {
		metrics.JobsReclaimed.Add(float64(n))
		w.logger.Warn().Int64("reclaimed", n).Msg("Stale RUNNING jobs force-failed")
	}
	return nil
}

// execute dispatches one claimed job and records the terminal row. Panics
// from the orchestrator are converted to a FAILED status so a poison job
// cannot kill the loop.
func (w *Worker) execute(ctx context.Context, job *models.JobRun) {
	start := w.now()
	detail := models.JobDetail{JobName: job.JobName}
	var execErr error

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				execErr = fmt.Errorf("queue: job panicked: %v", rec)
			}
		}()
		switch job.JobName {
		case models.JobRefreshOne:
			detail.RefreshOne, execErr = w.runRefreshOne(ctx, job)
		case models.JobRefreshAll:
			detail.RefreshAll, execErr = w.runRefreshAll(ctx, job)
		default:
			execErr = fmt.Errorf("queue: unknown job name %q", job.JobName)
		}
	}()

	status := models.JobStatusSuccess
	if execErr != nil {
		status = models.JobStatusFailed
		detail.Error = execErr.Error()
	}
	duration := w.now().Sub(start)

	if err := w.store.CompleteJob(ctx, job.ID, status, detail, duration); err != nil {
		w.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("status", string(status)).
			Msg("Job completion write failed")
		return
	}

	metrics.JobsCompleted.WithLabelValues(string(job.JobName), string(status)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.JobName)).Observe(duration.Seconds())

	evt := w.logger.Info()
	if execErr != nil {
		evt = w.logger.Error().Err(execErr)
	}
	evt.Str("job_id", job.ID).
		Str("job_name", string(job.JobName)).
		Str("status", string(status)).
		Dur("duration", duration).
		Msg("Job finished")
}

func (w *Worker) runRefreshOne(ctx context.Context, job *models.JobRun) (*models.RefreshOneDetail, error) {
	opts := refresh.Options{Slug: job.KeywordSlug}
	if d := job.Detail.RefreshOne; d != nil {
		if d.Slug != "" {
			opts.Slug = d.Slug
		}
		opts.ReportDate = d.ReportDate
	}

	result, err := w.refresher.RefreshKeywordBySlug(ctx, opts)
	detail := &models.RefreshOneDetail{
		Slug:           result.Slug,
		ReportDate:     result.ReportDate,
		Acquired:       result.Acquired,
		ReadinessLevel: result.ReadinessLevel,
		ValidCount:     result.ValidCount,
		Removed:        result.Removed,
		CacheHits:      result.CacheHits,
		CacheMisses:    result.CacheMisses,
	}
	if detail.Slug == "" {
		detail.Slug = opts.Slug
	}
	if err != nil {
		return detail, err
	}
	if !result.Acquired {
		return detail, errors.New("queue: refresh already in progress")
	}
	return detail, nil
}

func (w *Worker) runRefreshAll(ctx context.Context, job *models.JobRun) (*models.RefreshAllDetail, error) {
	var opts refresh.BatchOptions
	if d := job.Detail.RefreshAll; d != nil {
		opts.Concurrency = d.Concurrency
		opts.Limit = d.Limit
	}

	result, err := w.refresher.RefreshAllKeywords(ctx, opts)
	detail := &models.RefreshAllDetail{
		Concurrency: opts.Concurrency,
		Limit:       opts.Limit,
		Total:       result.Total,
		Success:     result.Success,
		Failed:      result.Failed,
	}
	if err != nil {
		return detail, err
	}
	if result.Failed > 0 {
		return detail, fmt.Errorf("queue: batch finished with %d failed keywords", result.Failed)
	}
	return detail, nil
}

// maybeCleanCache runs physical cache cleanup at most once per configured
// interval, piggybacked on idle polls so it never competes with real work.
func (w *Worker) maybeCleanCache(ctx context.Context) {
	if w.cacheCfg.CleanInterval <= 0 || w.now().Sub(w.lastClean) < w.cacheCfg.CleanInterval {
		return
	}
	w.lastClean = w.now()

	n, err := w.store.CacheCleanExpired(ctx, w.cacheCfg.CleanOlderThanDays)
	if err != nil {
		w.logger.Error().Err(err).Msg("Cache cleanup failed")
		return
	}
	if n > 0 {
		metrics.CacheEvicted.Add(float64(n))
		w.logger.Info().Int64("evicted", n).Msg("Expired cache rows removed")
	}
}

func (w *Worker) observeDepth(ctx context.Context) {
	depth, err := w.store.QueueDepth(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(depth))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
