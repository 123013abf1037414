// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package refresh implements the per-keyword refresh orchestrator and the
// bounded-concurrency batch orchestrator built on top of it.
//
// One refresh is a single pass: fetch ranking signals for the current and
// previous period, merge cached product metadata with fresh fetches,
// warm up missing cards, dedupe listing variants, score the survivors and
// publish the sheet behind a per-keyword advisory lock. Persistence is
// two sequential writes with a compensating rollback if the second fails.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/dedupe"
	"github.com/tomtom215/ranksheet/internal/lock"
	"github.com/tomtom215/ranksheet/internal/metrics"
	"github.com/tomtom215/ranksheet/internal/models"
	"github.com/tomtom215/ranksheet/internal/scoring"
	"github.com/tomtom215/ranksheet/internal/store"
	"github.com/tomtom215/ranksheet/internal/upstream"
)

// candidateFetchFactor is how many signal rows are requested relative to
// the keyword's topN, leaving headroom for dedup removals and incomplete
// cards.
const candidateFetchFactor = 3

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetKeywordBySlug(ctx context.Context, slug string) (*models.Keyword, error)
	ListActiveKeywords(ctx context.Context, limit int) ([]models.Keyword, error)
	UpdateKeywordPublish(ctx context.Context, id string, state models.PublishState) error
	SetKeywordError(ctx context.Context, id, reason string) error
	GetRankSheet(ctx context.Context, keywordID, dataPeriod string) (*models.RankSheet, error)
	GetPreviousSheet(ctx context.Context, keywordID, beforePeriod string) (*models.RankSheet, error)
	UpsertRankSheet(ctx context.Context, sheet *models.RankSheet) error
	CacheGet(ctx context.Context, asins []string) (map[string]models.CacheEntry, error)
	CacheUpsert(ctx context.Context, entries []models.CacheEntry) error
}

// Locker serializes refreshes of the same keyword across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (lock.Result, error)
}

// Options parameterizes one keyword refresh.
type Options struct {
	Slug string

	// ReportDate pins the data period; empty means the newest available.
	ReportDate string

	// DryRun computes everything but persists nothing.
	DryRun bool
}

// Result is the structured outcome of one refresh, returned on success
// and failure alike.
type Result struct {
	Slug           string                `json:"slug"`
	Acquired       bool                  `json:"acquired"`
	Success        bool                  `json:"success"`
	DryRun         bool                  `json:"dry_run,omitempty"`
	ReportDate     string                `json:"report_date,omitempty"`
	ReadinessLevel models.ReadinessLevel `json:"readiness_level,omitempty"`
	Mode           models.SheetMode      `json:"mode,omitempty"`
	Status         models.KeywordStatus  `json:"status,omitempty"`
	Indexable      bool                  `json:"indexable"`
	ValidCount     int                   `json:"valid_count"`
	Removed        int                   `json:"removed"`
	CacheHits      int                   `json:"cache_hits"`
	CacheMisses    int                   `json:"cache_misses"`
	Warmed         int                   `json:"warmed"`
	Duration       time.Duration         `json:"duration"`
	Error          string                `json:"error,omitempty"`
}

// Refresher composes signals, catalog, cache, dedup and scoring into the
// single-keyword refresh operation.
type Refresher struct {
	store    Store
	locker   Locker
	signals  upstream.Signals
	catalog  upstream.Catalog
	cfg      config.RefreshConfig
	cacheCfg config.CacheConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// New builds a Refresher. The cache configuration supplies the TTLs for
// the entries written after catalog fetches.
func New(st Store, locker Locker, signals upstream.Signals, catalog upstream.Catalog, cfg config.RefreshConfig, cacheCfg config.CacheConfig, logger zerolog.Logger) *Refresher {
	return &Refresher{
		store:    st,
		locker:   locker,
		signals:  signals,
		catalog:  catalog,
		cfg:      cfg,
		cacheCfg: cacheCfg,
		logger:   logger.With().Str("component", "refresh").Logger(),
		now:      time.Now,
	}
}

// RefreshKeywordBySlug refreshes one keyword end to end. Lock contention
// is not an error: the result reports Acquired false and the caller
// surfaces refresh_in_progress. Any unexpected failure forces the keyword
// to ERROR (unless dry-run) and is returned alongside the partial result.
func (r *Refresher) RefreshKeywordBySlug(ctx context.Context, opts Options) (Result, error) {
	start := r.now()
	result := Result{Slug: opts.Slug, DryRun: opts.DryRun}

	keyword, err := r.store.GetKeywordBySlug(ctx, opts.Slug)
	if err != nil {
		result.Duration = r.now().Sub(start)
		result.Error = err.Error()
		r.observe("failed", result.Duration)
		return result, fmt.Errorf("refresh %s: %w", opts.Slug, err)
	}

	var refreshErr error
	lockResult, err := r.locker.WithLock(ctx, "keyword:"+keyword.Slug, func(ctx context.Context) error {
		refreshErr = r.refreshLocked(ctx, keyword, opts, &result)
		return nil
	})
	result.Duration = r.now().Sub(start)

	if err != nil {
		result.Error = err.Error()
		r.observe("failed", result.Duration)
		return result, fmt.Errorf("refresh %s: lock: %w", opts.Slug, err)
	}
	if !lockResult.Acquired {
		result.Error = "refresh_in_progress"
		r.observe("lock_contended", result.Duration)
		return result, nil
	}
	result.Acquired = true

	if refreshErr != nil {
		result.Error = refreshErr.Error()
		r.observe("failed", result.Duration)
		// A failure already compensated by rollback leaves the keyword in
		// its pre-refresh state; forcing ERROR would clobber that.
		var rb *rolledBackError
		if !opts.DryRun && !errors.As(refreshErr, &rb) {
			if stateErr := r.store.SetKeywordError(ctx, keyword.ID, truncateReason(refreshErr.Error())); stateErr != nil {
				r.logger.Error().Err(stateErr).Str("slug", keyword.Slug).Msg("Failed to record keyword error state")
			}
		}
		return result, fmt.Errorf("refresh %s: %w", opts.Slug, refreshErr)
	}

	result.Success = true
	r.observe("success", result.Duration)
	metrics.RefreshRowsScored.Observe(float64(result.ValidCount))
	return result, nil
}

func (r *Refresher) observe(outcome string, d time.Duration) {
	metrics.RefreshTotal.WithLabelValues(outcome).Inc()
	metrics.RefreshDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// refreshLocked is the body of a refresh, executed while holding the
// keyword's advisory lock.
func (r *Refresher) refreshLocked(ctx context.Context, keyword *models.Keyword, opts Options, result *Result) error {
	topN := keyword.EffectiveTopN()
	fetchLimit := topN * candidateFetchFactor

	currentPeriod, previousPeriod, err := r.resolvePeriods(ctx, opts.ReportDate)
	if err != nil {
		return err
	}
	result.ReportDate = currentPeriod

	// Current and previous period signals are independent fetches.
	var currentRows, previousRows []upstream.SignalRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		currentRows, err = r.signals.GetKeywordASINs(gctx, upstream.KeywordASINsQuery{
			Keyword: keyword.DisplayText, ReportDate: currentPeriod, Limit: fetchLimit,
		})
		return err
	})
	if previousPeriod != "" {
		g.Go(func() error {
			var err error
			previousRows, err = r.signals.GetKeywordASINs(gctx, upstream.KeywordASINsQuery{
				Keyword: keyword.DisplayText, ReportDate: previousPeriod, Limit: fetchLimit,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch signals: %w", err)
	}

	rows := make([]models.CandidateRow, len(currentRows))
	asins := make([]string, len(currentRows))
	for i, sr := range currentRows {
		rows[i] = models.CandidateRow{
			Rank:            sr.Rank,
			ASIN:            sr.ASIN,
			ClickShare:      sr.ClickShare,
			ConversionShare: sr.ConversionShare,
		}
		asins[i] = sr.ASIN
	}

	if err := r.mergeMetadata(ctx, rows, asins, opts.DryRun, result); err != nil {
		return err
	}

	readiness := scoring.AssessReadiness(rows, topN)

	// Bounded warm-up: one re-fetch attempt for the missing top-K cards.
	if len(readiness.MissingASINs) > 0 && r.cfg.WarmupLimit > 0 {
		warm := readiness.MissingASINs
		if len(warm) > r.cfg.WarmupLimit {
			warm = warm[:r.cfg.WarmupLimit]
		}
		if err := r.warmUp(ctx, rows, warm, opts.DryRun, result); err != nil {
			return err
		}
		readiness = scoring.AssessReadiness(rows, topN)
	}
	result.ReadinessLevel = readiness.Level

	deduped := dedupe.Dedupe(rows)
	result.Removed = len(deduped.Removed)

	var scorable []models.CandidateRow
	for _, row := range deduped.Kept {
		if row.Card.Complete() {
			scorable = append(scorable, row)
		}
		if len(scorable) == topN {
			break
		}
	}

	prevRanks := make(map[string]int, len(previousRows))
	for _, sr := range previousRows {
		prevRanks[sr.ASIN] = sr.Rank
	}

	scored := scoring.Score(scorable, scoring.Input{
		PrevRanks:     prevRanks,
		VariantCounts: variantCounts(deduped, scorable),
	})
	result.ValidCount = len(scored)

	mode := models.SheetModeNormal
	if len(scored) < models.MinValidCount {
		mode = models.SheetModeLowData
	}
	result.Mode = mode

	readyToPublish := scoring.ReadyToPublish(readiness.Level)
	indexable := readyToPublish && len(scored) >= models.MinValidCount
	result.Indexable = indexable

	status := models.KeywordStatusWarmingUp
	reason := publishReason(readiness, len(scored), readyToPublish)
	if indexable {
		status = models.KeywordStatusActive
	}
	result.Status = status

	r.logger.Info().
		Str("slug", keyword.Slug).
		Str("period", currentPeriod).
		Str("readiness", string(readiness.Level)).
		Str("status", string(status)).
		Int("valid_count", len(scored)).
		Int("removed", result.Removed).
		Bool("dry_run", opts.DryRun).
		Msg("Refresh computed")

	if opts.DryRun {
		return nil
	}
	return r.persist(ctx, keyword, currentPeriod, mode, readiness.Level, scored, status, reason, indexable, readyToPublish)
}

// persist applies the two sequential writes: keyword publish state, then
// the rank sheet. If the sheet write fails after the keyword write
// succeeded, the keyword is reverted to its pre-refresh snapshot and the
// original failure is returned.
func (r *Refresher) persist(ctx context.Context, keyword *models.Keyword, period string, mode models.SheetMode, level models.ReadinessLevel, rows []models.SanitizedRow, status models.KeywordStatus, reason string, indexable, publishSheet bool) error {
	snapshot := keyword.PublishSnapshot()
	now := r.now()
	newState := models.PublishState{
		Status:          status,
		StatusReason:    reason,
		Indexable:       indexable,
		LastRefreshedAt: &now,
	}

	if err := r.store.UpdateKeywordPublish(ctx, keyword.ID, newState); err != nil {
		return fmt.Errorf("publish keyword state: %w", err)
	}

	if !publishSheet {
		return nil
	}

	sheet := &models.RankSheet{
		KeywordID:      keyword.ID,
		DataPeriod:     period,
		Mode:           mode,
		ValidCount:     len(rows),
		ReadinessLevel: level,
		Rows:           rows,
	}

	// Carry forward the identity and history of a sheet re-published for
	// the same period, and fold the superseded period's summary in.
	if existing, err := r.store.GetRankSheet(ctx, keyword.ID, period); err == nil {
		sheet.ID = existing.ID
		sheet.History = existing.History
	} else if !errors.Is(err, store.ErrNotFound) {
		return r.rollback(ctx, keyword, snapshot, fmt.Errorf("load current sheet: %w", err))
	}
	if previous, err := r.store.GetPreviousSheet(ctx, keyword.ID, period); err == nil {
		sheet.PushHistory(previous.Summary())
	} else if !errors.Is(err, store.ErrNotFound) {
		return r.rollback(ctx, keyword, snapshot, fmt.Errorf("load previous sheet: %w", err))
	}

	if err := r.store.UpsertRankSheet(ctx, sheet); err != nil {
		return r.rollback(ctx, keyword, snapshot, fmt.Errorf("publish rank sheet: %w", err))
	}
	return nil
}

// rolledBackError marks a failure whose keyword write was already
// reverted by the compensating update.
type rolledBackError struct {
	cause error
}

func (e *rolledBackError) Error() string { return e.cause.Error() }
func (e *rolledBackError) Unwrap() error { return e.cause }

// rollback is the compensating update: the keyword write already landed,
// so revert it to the pre-refresh snapshot and re-raise the sheet failure.
func (r *Refresher) rollback(ctx context.Context, keyword *models.Keyword, snapshot models.PublishState, cause error) error {
	if err := r.store.UpdateKeywordPublish(ctx, keyword.ID, snapshot); err != nil {
		r.logger.Error().
			Err(err).
			Str("slug", keyword.Slug).
			Msg("Compensating rollback failed; keyword state may be inconsistent")
		return fmt.Errorf("%w (rollback also failed: %v)", cause, err)
	}
	r.logger.Warn().
		Str("slug", keyword.Slug).
		AnErr("cause", cause).
		Msg("Sheet write failed; keyword state rolled back")
	return &rolledBackError{cause: cause}
}

// mergeMetadata resolves each candidate's card: live cache entries first
// (validated, corrupt ones dropped as misses), then one catalog fetch for
// the misses, recording negative entries for ASINs the provider does not
// know.
func (r *Refresher) mergeMetadata(ctx context.Context, rows []models.CandidateRow, asins []string, dryRun bool, result *Result) error {
	cached, err := r.store.CacheGet(ctx, asins)
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}

	cards := make(map[string]*models.ProductCard, len(asins))
	var misses []string
	for _, asin := range asins {
		entry, ok := cached[asin]
		if !ok {
			metrics.CacheMisses.Inc()
			misses = append(misses, asin)
			continue
		}
		if entry.Status == models.CacheStatusNotFound {
			// Negative hit: known-unknown, skip the provider.
			metrics.CacheHits.WithLabelValues(string(models.CacheStatusNotFound)).Inc()
			result.CacheHits++
			continue
		}
		card := entry.Card()
		if err := models.ValidateCard(card); err != nil {
			metrics.CacheCorrupt.Inc()
			metrics.CacheMisses.Inc()
			r.logger.Warn().Err(err).Str("asin", asin).Msg("Dropping corrupt cache entry")
			misses = append(misses, asin)
			continue
		}
		metrics.CacheHits.WithLabelValues(string(models.CacheStatusExists)).Inc()
		result.CacheHits++
		cards[asin] = card
	}
	result.CacheMisses += len(misses)

	if len(misses) > 0 {
		if err := r.fetchAndCache(ctx, cards, misses, dryRun); err != nil {
			return err
		}
	}

	for i := range rows {
		if card, ok := cards[rows[i].ASIN]; ok {
			rows[i].Card = card
		}
	}
	return nil
}

// fetchAndCache pulls cards for the given ASINs from the catalog, merges
// the valid ones into cards, and upserts positive and negative cache
// entries for everything fetched.
func (r *Refresher) fetchAndCache(ctx context.Context, cards map[string]*models.ProductCard, asins []string, dryRun bool) error {
	fetched, err := r.catalog.GetProductsByASINs(ctx, asins)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}

	now := r.now()
	entries := make([]models.CacheEntry, 0, len(asins))
	for _, asin := range asins {
		card, ok := fetched[asin]
		if !ok || card == nil {
			entries = append(entries, models.NewNegativeCacheEntry(asin, now, r.cacheCfg.NotFoundTTL))
			continue
		}
		if err := models.ValidateCard(card); err != nil {
			r.logger.Warn().Err(err).Str("asin", asin).Msg("Provider returned invalid card, treating as not found")
			entries = append(entries, models.NewNegativeCacheEntry(asin, now, r.cacheCfg.NotFoundTTL))
			continue
		}
		cards[asin] = card
		entries = append(entries, models.NewCacheEntry(card, now, r.cacheCfg.ExistsTTL))
	}

	if dryRun {
		return nil
	}
	// A failed cache write never costs the refresh; the entries are simply
	// refetched next run.
	if err := r.store.CacheUpsert(ctx, entries); err != nil {
		r.logger.Warn().Err(err).Int("entries", len(entries)).Msg("Cache upsert failed, continuing uncached")
	}
	return nil
}

// warmUp re-fetches up to WarmupLimit missing cards and triggers the
// provider's async pre-fetch for them. The async trigger failing is not
// fatal.
func (r *Refresher) warmUp(ctx context.Context, rows []models.CandidateRow, asins []string, dryRun bool, result *Result) error {
	cards := make(map[string]*models.ProductCard, len(asins))
	if err := r.fetchAndCache(ctx, cards, asins, dryRun); err != nil {
		return fmt.Errorf("warm-up: %w", err)
	}
	for i := range rows {
		if card, ok := cards[rows[i].ASIN]; ok {
			rows[i].Card = card
			result.Warmed++
		}
	}

	if _, err := r.catalog.WarmPaapi5(ctx, asins); err != nil {
		r.logger.Warn().Err(err).Int("asins", len(asins)).Msg("Async metadata warm trigger failed")
	}
	return nil
}

// resolvePeriods determines the current and previous report dates. With a
// pinned date the previous period is the newest strictly older one.
func (r *Refresher) resolvePeriods(ctx context.Context, pinned string) (current, previous string, err error) {
	limit := 2
	if pinned != "" {
		limit = 8
	}
	dates, err := r.signals.GetWeeklyReportDates(ctx, limit)
	if err != nil {
		return "", "", fmt.Errorf("fetch report dates: %w", err)
	}
	if pinned == "" {
		if len(dates) == 0 {
			return "", "", fmt.Errorf("no report dates available")
		}
		current = dates[0]
		if len(dates) > 1 {
			previous = dates[1]
		}
		return current, previous, nil
	}

	current = pinned
	for _, d := range dates {
		if d < pinned {
			previous = d
			break
		}
	}
	return current, previous, nil
}

// variantCounts maps each scorable ASIN to the size of its dedup group.
func variantCounts(result dedupe.Result, rows []models.CandidateRow) map[string]int {
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.ASIN] = result.VariantCount(row.ASIN)
	}
	return counts
}

func publishReason(r scoring.Readiness, validCount int, ready bool) string {
	switch {
	case !ready:
		return fmt.Sprintf("metadata readiness %s (%d/%d cards complete)", r.Level, r.ReadyCount, r.Total)
	case validCount < models.MinValidCount:
		return fmt.Sprintf("only %d scorable rows, need %d", validCount, models.MinValidCount)
	default:
		return fmt.Sprintf("published with %d rows at readiness %s", validCount, r.Level)
	}
}

// truncateReason bounds persisted failure reasons; stack traces and giant
// wrapped chains never land in the database.
func truncateReason(reason string) string {
	const maxReason = 500
	if len(reason) > maxReason {
		return reason[:maxReason]
	}
	return reason
}
