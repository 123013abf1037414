// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/logging"
)

func testConfig(baseURL string) config.UpstreamConfig {
	return config.UpstreamConfig{
		BaseURL:       baseURL,
		APIKey:        "test-key",
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func TestSignalsRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"dates":["2026-08-23","2026-08-16"]}`))
	}))
	defer server.Close()

	client := NewSignalsClient(testConfig(server.URL), logging.NewTestLogger(io.Discard))
	dates, err := client.GetWeeklyReportDates(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetWeeklyReportDates: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2026-08-23" {
		t.Errorf("dates = %v, want newest first", dates)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (two retries)", calls.Load())
	}
}

func TestSignalsDoesNotRetryPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewSignalsClient(testConfig(server.URL), logging.NewTestLogger(io.Discard))
	_, err := client.GetKeywordASINs(context.Background(), KeywordASINsQuery{Keyword: "wireless earbuds"})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1 for a 4xx", calls.Load())
	}
}

func TestSignalsRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"rows":[{"asin":"B000000001","top3_rank":1,"click_share":42.5,"conversion_share":12.1}]}`))
	}))
	defer server.Close()

	client := NewSignalsClient(testConfig(server.URL), logging.NewTestLogger(io.Discard))
	rows, err := client.GetKeywordASINs(context.Background(), KeywordASINsQuery{Keyword: "usb hub"})
	if err != nil {
		t.Fatalf("GetKeywordASINs: %v", err)
	}
	if len(rows) != 1 || rows[0].ASIN != "B000000001" || rows[0].ClickShare != 42.5 {
		t.Errorf("rows = %+v", rows)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (429 retried once)", calls.Load())
	}
}

func TestCatalogProductsAndWarm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/products":
			w.Write([]byte(`{"products":{"B000000001":{"asin":"B000000001","title":"Widget","brand":"Acme","image":"https://img.example/w.jpg"}}}`))
		case "/v1/warm-paapi5":
			w.Write([]byte(`{"job_ids":["warm-1"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewCatalogClient(testConfig(server.URL), logging.NewTestLogger(io.Discard))

	products, err := client.GetProductsByASINs(context.Background(), []string{"B000000001", "B000000002"})
	if err != nil {
		t.Fatalf("GetProductsByASINs: %v", err)
	}
	card, ok := products["B000000001"]
	if !ok || card.Title != "Widget" {
		t.Errorf("products = %+v, want B000000001 Widget", products)
	}
	if _, ok := products["B000000002"]; ok {
		t.Error("unknown ASIN should be absent, not present")
	}

	jobs, err := client.WarmPaapi5(context.Background(), []string{"B000000002"})
	if err != nil {
		t.Fatalf("WarmPaapi5: %v", err)
	}
	if len(jobs) != 1 || jobs[0] != "warm-1" {
		t.Errorf("jobs = %v", jobs)
	}
}

func TestCatalogEmptyInputShortCircuits(t *testing.T) {
	client := NewCatalogClient(testConfig("http://127.0.0.1:1"), logging.NewTestLogger(io.Discard))

	products, err := client.GetProductsByASINs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetProductsByASINs: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("products = %+v, want empty", products)
	}

	if _, err := client.WarmPaapi5(context.Background(), nil); err != nil {
		t.Fatalf("WarmPaapi5: %v", err)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		err := &StatusError{Service: "signals", Endpoint: "x", StatusCode: tt.code}
		if err.Retryable() != tt.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tt.code, err.Retryable(), tt.retryable)
		}
	}
}
