// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package upstream

import (
	"context"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/ranksheet/internal/config"
)

// SignalRow is one raw ranking observation for a keyword and period.
type SignalRow struct {
	ASIN            string  `json:"asin"`
	Rank            int     `json:"top3_rank"`
	ClickShare      float64 `json:"click_share"`
	ConversionShare float64 `json:"conversion_share"`
}

// KeywordASINsQuery parameterizes one signal fetch.
type KeywordASINsQuery struct {
	Keyword    string `json:"keyword"`
	ReportDate string `json:"report_date"`
	Limit      int    `json:"limit"`
}

// Signals is the ranking-signal provider consumed by the orchestrator.
type Signals interface {
	// GetWeeklyReportDates returns the newest report dates, most recent
	// first, as ISO dates.
	GetWeeklyReportDates(ctx context.Context, limit int) ([]string, error)

	// GetKeywordASINs returns the ranked rows for one keyword and period.
	GetKeywordASINs(ctx context.Context, q KeywordASINsQuery) ([]SignalRow, error)
}

// SignalsClient talks to the ranking-signal service over HTTP with retry
// and circuit breaker protection.
type SignalsClient struct {
	http *httpClient
	cb   *gobreaker.CircuitBreaker[any]
}

var _ Signals = (*SignalsClient)(nil)

// NewSignalsClient builds the production signals client.
func NewSignalsClient(cfg config.UpstreamConfig, logger zerolog.Logger) *SignalsClient {
	return &SignalsClient{
		http: newHTTPClient("signals", cfg, logger),
		cb:   newBreaker("signals", logger),
	}
}

func (c *SignalsClient) GetWeeklyReportDates(ctx context.Context, limit int) ([]string, error) {
	return castResult[[]string](execute(c.cb, func() (any, error) {
		var payload struct {
			Dates []string `json:"dates"`
		}
		err := c.http.retryWithBackoff(ctx, "report-dates", func() error {
			return c.http.doJSON(ctx, "/v1/report-dates", map[string]int{"limit": limit}, &payload)
		})
		if err != nil {
			return nil, err
		}
		return payload.Dates, nil
	}))
}

func (c *SignalsClient) GetKeywordASINs(ctx context.Context, q KeywordASINsQuery) ([]SignalRow, error) {
	return castResult[[]SignalRow](execute(c.cb, func() (any, error) {
		var payload struct {
			Rows []SignalRow `json:"rows"`
		}
		err := c.http.retryWithBackoff(ctx, "keyword-asins", func() error {
			return c.http.doJSON(ctx, "/v1/keyword-asins", q, &payload)
		})
		if err != nil {
			return nil, err
		}
		return payload.Rows, nil
	}))
}
