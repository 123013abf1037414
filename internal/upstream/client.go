// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package upstream holds the HTTP clients for the two collaborator
// services the pipeline consumes: the ranking-signal provider and the
// product-metadata (catalog) provider. Both get retry with exponential
// backoff and jitter for transient failures, and a circuit breaker so a
// degraded provider cannot stall every refresh.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/metrics"
)

// httpClient is the shared transport for one upstream service.
type httpClient struct {
	service string
	cfg     config.UpstreamConfig
	client  *http.Client
	logger  zerolog.Logger
}

func newHTTPClient(service string, cfg config.UpstreamConfig, logger zerolog.Logger) *httpClient {
	return &httpClient{
		service: service,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With().Str("component", "upstream").Str("service", service).Logger(),
	}
}

// retryWithBackoff executes fn with exponential backoff and jitter on
// transient failure. Permanent errors and context cancellation abort the
// retry loop immediately.
func (c *httpClient) retryWithBackoff(ctx context.Context, endpoint string, fn func() error) error {
	var err error
	delay := c.cfg.RetryDelay

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}

		if attempt < c.cfg.RetryAttempts-1 {
			metrics.UpstreamRetries.WithLabelValues(c.service).Inc()
			jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
			c.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("attempt", attempt+1).
				Int("max_attempts", c.cfg.RetryAttempts).
				Dur("delay", jittered).
				Msg("Retry attempt")
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// doJSON performs one request and decodes the response body into out.
// A non-nil body is POSTed as JSON, otherwise the method is GET.
func (c *httpClient) doJSON(ctx context.Context, endpoint string, body, out any) error {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(c.service, endpoint).
			Observe(time.Since(start).Seconds())
	}()

	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream %s: encode request: %w", c.service, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("upstream %s: build request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %s: %w", c.service, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Service: c.service, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream %s: decode %s response: %w", c.service, endpoint, err)
	}
	return nil
}
