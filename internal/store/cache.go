// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/ranksheet/internal/models"
)

// CacheGet loads the non-expired cache entries for the given ASINs. ASINs
// with no live entry are simply absent from the returned map; the caller
// treats them as misses.
func (s *Store) CacheGet(ctx context.Context, asins []string) (map[string]models.CacheEntry, error) {
	if len(asins) == 0 {
		return map[string]models.CacheEntry{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT asin, status, title, brand, image, parent_asin, variation_group,
		        price, fetched_at, expires_at
		 FROM asin_cache
		 WHERE asin = ANY($1) AND expires_at > now()`, asins)
	if err != nil {
		return nil, fmt.Errorf("store: cache get: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]models.CacheEntry, len(asins))
	for rows.Next() {
		var e models.CacheEntry
		if err := rows.Scan(
			&e.ASIN, &e.Status, &e.Title, &e.Brand, &e.Image,
			&e.ParentASIN, &e.VariationGroup, &e.Price,
			&e.FetchedAt, &e.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan cache entry: %w", err)
		}
		entries[e.ASIN] = e
	}
	return entries, rows.Err()
}

// CacheUpsert writes entries in one batched round trip, overwriting any
// existing row per ASIN. The cache is re-derivable, so last write wins.
func (s *Store) CacheUpsert(ctx context.Context, entries []models.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO asin_cache
				(asin, status, title, brand, image, parent_asin, variation_group,
				 price, fetched_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (asin) DO UPDATE SET
				status = EXCLUDED.status,
				title = EXCLUDED.title,
				brand = EXCLUDED.brand,
				image = EXCLUDED.image,
				parent_asin = EXCLUDED.parent_asin,
				variation_group = EXCLUDED.variation_group,
				price = EXCLUDED.price,
				fetched_at = EXCLUDED.fetched_at,
				expires_at = EXCLUDED.expires_at`,
			e.ASIN, e.Status, e.Title, e.Brand, e.Image,
			e.ParentASIN, e.VariationGroup, e.Price, e.FetchedAt, e.ExpiresAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store: cache upsert: %w", err)
		}
	}
	return nil
}

// CacheCleanExpired physically deletes rows whose expiry is more than
// graceDays in the past. Recently expired rows are kept around so a TTL
// bump or debugging session can still see them.
func (s *Store) CacheCleanExpired(ctx context.Context, graceDays int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM asin_cache
		 WHERE expires_at < now() - make_interval(days => $1)`, graceDays)
	if err != nil {
		return 0, fmt.Errorf("store: cache clean: %w", err)
	}
	return tag.RowsAffected(), nil
}
