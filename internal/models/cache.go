// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package models

import "time"

// CacheStatus records whether the metadata provider knows an ASIN.
// NOT_FOUND entries are the negative cache that protects the provider from
// repeated lookups for invalid ASINs.
type CacheStatus string

const (
	CacheStatusExists   CacheStatus = "EXISTS"
	CacheStatusNotFound CacheStatus = "NOT_FOUND"
)

// Default TTLs per cache status.
const (
	DefaultExistsTTL   = 30 * 24 * time.Hour
	DefaultNotFoundTTL = 7 * 24 * time.Hour
)

// CacheEntry is one row of the ASIN metadata cache.
//
// Invariant: ExpiresAt is always set; an entry past ExpiresAt is logically
// absent and must never be read.
type CacheEntry struct {
	ASIN           string      `json:"asin"`
	Status         CacheStatus `json:"status"`
	Title          string      `json:"title,omitempty"`
	Brand          string      `json:"brand,omitempty"`
	Image          string      `json:"image,omitempty"`
	ParentASIN     string      `json:"parent_asin,omitempty"`
	VariationGroup string      `json:"variation_group,omitempty"`
	Price          *float64    `json:"price,omitempty"`
	FetchedAt      time.Time   `json:"fetched_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

// NewCacheEntry builds an entry from a fetched card. A non-positive ttl
// falls back to the default positive TTL.
func NewCacheEntry(card *ProductCard, now time.Time, ttl time.Duration) CacheEntry {
	if ttl <= 0 {
		ttl = DefaultExistsTTL
	}
	return CacheEntry{
		ASIN:           card.ASIN,
		Status:         CacheStatusExists,
		Title:          card.Title,
		Brand:          card.Brand,
		Image:          card.Image,
		ParentASIN:     card.ParentASIN,
		VariationGroup: card.VariationGroup,
		Price:          card.Price,
		FetchedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// NewNegativeCacheEntry builds a NOT_FOUND entry. A non-positive ttl falls
// back to the default negative TTL.
func NewNegativeCacheEntry(asin string, now time.Time, ttl time.Duration) CacheEntry {
	if ttl <= 0 {
		ttl = DefaultNotFoundTTL
	}
	return CacheEntry{
		ASIN:      asin,
		Status:    CacheStatusNotFound,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the entry is logically absent at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Card reconstructs a product card from a positive entry. Negative entries
// return nil.
func (e *CacheEntry) Card() *ProductCard {
	if e.Status != CacheStatusExists {
		return nil
	}
	return &ProductCard{
		ASIN:           e.ASIN,
		Title:          e.Title,
		Brand:          e.Brand,
		Image:          e.Image,
		ParentASIN:     e.ParentASIN,
		VariationGroup: e.VariationGroup,
		Price:          e.Price,
	}
}
