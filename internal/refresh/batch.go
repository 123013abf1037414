// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package refresh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/metrics"
)

// BatchOptions parameterizes a full-batch refresh. Zero values fall back
// to the configured defaults; both knobs are clamped to their hard caps.
type BatchOptions struct {
	Concurrency int
	Limit       int
}

// BatchResult aggregates a full-batch run. Results preserve the priority
// order the keywords were loaded in, regardless of completion order.
type BatchResult struct {
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Results  []Result      `json:"results"`
}

// RefreshAllKeywords refreshes every active keyword with a bounded worker
// pool. Each worker pulls the next unprocessed index, so one slow or
// failing keyword never blocks the rest, and per-keyword failures are
// isolated: they are recorded in the result, never aborting the batch.
func (r *Refresher) RefreshAllKeywords(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	start := r.now()

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = r.cfg.Concurrency
	}
	if concurrency > config.MaxConcurrency {
		concurrency = config.MaxConcurrency
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = r.cfg.BatchLimit
	}
	if limit > config.MaxBatchLimit {
		limit = config.MaxBatchLimit
	}

	keywords, err := r.store.ListActiveKeywords(ctx, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("refresh all: list keywords: %w", err)
	}

	batch := BatchResult{
		Total:   len(keywords),
		Results: make([]Result, len(keywords)),
	}
	if len(keywords) == 0 {
		batch.Duration = r.now().Sub(start)
		return batch, nil
	}
	if concurrency > len(keywords) {
		concurrency = len(keywords)
	}

	r.logger.Info().
		Int("keywords", len(keywords)).
		Int("concurrency", concurrency).
		Msg("Batch refresh starting")

	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= len(keywords) || ctx.Err() != nil {
					return
				}
				batch.Results[i] = r.refreshOne(ctx, keywords[i].Slug)
			}
		}()
	}
	wg.Wait()

	for _, res := range batch.Results {
		if res.Success {
			batch.Success++
		} else {
			batch.Failed++
		}
	}
	batch.Duration = r.now().Sub(start)
	metrics.BatchDuration.Observe(batch.Duration.Seconds())

	r.logger.Info().
		Int("total", batch.Total).
		Int("success", batch.Success).
		Int("failed", batch.Failed).
		Dur("duration", batch.Duration).
		Msg("Batch refresh finished")

	return batch, nil
}

// refreshOne wraps a single batch item, converting errors and panics into
// a failed Result.
func (r *Refresher) refreshOne(ctx context.Context, slug string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("slug", slug).Interface("panic", p).Msg("Refresh panicked")
			res = Result{Slug: slug, Error: fmt.Sprintf("panic: %v", p)}
		}
	}()

	res, err := r.RefreshKeywordBySlug(ctx, Options{Slug: slug})
	if err != nil {
		r.logger.Warn().Err(err).Str("slug", slug).Msg("Batch item failed")
	}
	return res
}
