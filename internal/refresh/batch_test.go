// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package refresh

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/logging"
	"github.com/tomtom215/ranksheet/internal/models"
	"github.com/tomtom215/ranksheet/internal/upstream"
)

func batchFixture(n int) (*fakeStore, *fakeSignals, *fakeCatalog) {
	st := newFakeStore()
	catalog := &fakeCatalog{products: make(map[string]*models.ProductCard)}
	rows := make([]upstream.SignalRow, 10)
	for i := range rows {
		asin := asinN(i + 1)
		rows[i] = upstream.SignalRow{ASIN: asin, Rank: i + 1, ClickShare: float64(100 - i), ConversionShare: 20}
		catalog.products[asin] = card(asin)
	}

	for i := 0; i < n; i++ {
		slug := "keyword-" + string(rune('a'+i))
		st.keywords[slug] = &models.Keyword{
			ID:          "kw-" + slug,
			Slug:        slug,
			DisplayText: slug,
			TopN:        10,
			IsActive:    true,
			Status:      models.KeywordStatusPending,
			Priority:    n - i,
		}
	}

	signals := &fakeSignals{
		dates: []string{"2026-08-23", "2026-08-16"},
		rows: map[string][]upstream.SignalRow{
			"2026-08-23": rows,
			"2026-08-16": rows,
		},
	}
	return st, signals, catalog
}

func TestRefreshAllKeywords(t *testing.T) {
	st, signals, catalog := batchFixture(5)
	r := testRefresher(st, &fakeLocker{}, signals, catalog)

	batch, err := r.RefreshAllKeywords(context.Background(), BatchOptions{Concurrency: 3})
	if err != nil {
		t.Fatalf("RefreshAllKeywords: %v", err)
	}

	if batch.Total != 5 || batch.Success != 5 || batch.Failed != 0 {
		t.Fatalf("batch = %+v, want 5/5/0", batch)
	}
	if len(batch.Results) != 5 {
		t.Fatalf("results = %d, want 5", len(batch.Results))
	}
	for i, res := range batch.Results {
		if !res.Success {
			t.Errorf("result %d failed: %s", i, res.Error)
		}
	}
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	st, signals, catalog := batchFixture(4)
	// One keyword's slug resolves to nothing, simulating a deleted row
	// between list and refresh.
	broken := st.keywords["keyword-b"]
	delete(st.keywords, "keyword-b")
	st.keywords["keyword-b-gone"] = broken

	r := testRefresher(st, &fakeLocker{}, signals, catalog)
	batch, err := r.RefreshAllKeywords(context.Background(), BatchOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("RefreshAllKeywords: %v", err)
	}

	if batch.Total != 4 {
		t.Fatalf("total = %d, want 4", batch.Total)
	}
	if batch.Failed != 1 || batch.Success != 3 {
		t.Errorf("success/failed = %d/%d, want 3/1", batch.Success, batch.Failed)
	}
}

func TestRefreshAllEmptySet(t *testing.T) {
	st := newFakeStore()
	signals := &fakeSignals{dates: []string{"2026-08-23"}}
	catalog := &fakeCatalog{products: map[string]*models.ProductCard{}}
	r := testRefresher(st, &fakeLocker{}, signals, catalog)

	batch, err := r.RefreshAllKeywords(context.Background(), BatchOptions{})
	if err != nil {
		t.Fatalf("RefreshAllKeywords: %v", err)
	}
	if batch.Total != 0 || len(batch.Results) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

func TestRefreshAllClampsOptions(t *testing.T) {
	st, signals, catalog := batchFixture(2)
	cfg := config.RefreshConfig{Concurrency: 3, BatchLimit: 500, WarmupLimit: 20}
	cacheCfg := config.CacheConfig{ExistsTTL: 30 * 24 * time.Hour, NotFoundTTL: 7 * 24 * time.Hour}
	r := New(st, &fakeLocker{}, signals, catalog, cfg, cacheCfg, logging.NewTestLogger(io.Discard))

	batch, err := r.RefreshAllKeywords(context.Background(), BatchOptions{Concurrency: 99, Limit: 1})
	if err != nil {
		t.Fatalf("RefreshAllKeywords: %v", err)
	}
	if batch.Total != 1 {
		t.Errorf("total = %d, want limit-clamped 1", batch.Total)
	}
}
