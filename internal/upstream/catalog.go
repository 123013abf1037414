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
	"github.com/tomtom215/ranksheet/internal/models"
)

// Catalog is the product-metadata provider consumed by the orchestrator.
type Catalog interface {
	// GetProductsByASINs returns the known cards keyed by ASIN. ASINs the
	// provider does not know are absent from the map; the caller records
	// them as negative cache entries.
	GetProductsByASINs(ctx context.Context, asins []string) (map[string]*models.ProductCard, error)

	// WarmPaapi5 triggers an async metadata pre-fetch for the given ASINs
	// and returns the provider's job ids.
	WarmPaapi5(ctx context.Context, asins []string) ([]string, error)
}

// CatalogClient talks to the metadata service over HTTP with retry and
// circuit breaker protection.
type CatalogClient struct {
	http *httpClient
	cb   *gobreaker.CircuitBreaker[any]
}

var _ Catalog = (*CatalogClient)(nil)

// NewCatalogClient builds the production catalog client.
func NewCatalogClient(cfg config.UpstreamConfig, logger zerolog.Logger) *CatalogClient {
	return &CatalogClient{
		http: newHTTPClient("catalog", cfg, logger),
		cb:   newBreaker("catalog", logger),
	}
}

func (c *CatalogClient) GetProductsByASINs(ctx context.Context, asins []string) (map[string]*models.ProductCard, error) {
	if len(asins) == 0 {
		return map[string]*models.ProductCard{}, nil
	}
	return castResult[map[string]*models.ProductCard](execute(c.cb, func() (any, error) {
		var payload struct {
			Products map[string]*models.ProductCard `json:"products"`
		}
		err := c.http.retryWithBackoff(ctx, "products", func() error {
			return c.http.doJSON(ctx, "/v1/products", map[string][]string{"asins": asins}, &payload)
		})
		if err != nil {
			return nil, err
		}
		if payload.Products == nil {
			payload.Products = map[string]*models.ProductCard{}
		}
		return payload.Products, nil
	}))
}

func (c *CatalogClient) WarmPaapi5(ctx context.Context, asins []string) ([]string, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	return castResult[[]string](execute(c.cb, func() (any, error) {
		var payload struct {
			JobIDs []string `json:"job_ids"`
		}
		err := c.http.retryWithBackoff(ctx, "warm", func() error {
			return c.http.doJSON(ctx, "/v1/warm-paapi5", map[string][]string{"asins": asins}, &payload)
		})
		if err != nil {
			return nil, err
		}
		return payload.JobIDs, nil
	}))
}
