// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package models

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ProductCard is the display metadata for one ASIN as returned by the product
// metadata provider or reconstructed from the cache.
//
// Title and Image are the fields that decide readiness; ParentASIN and
// VariationGroup feed the strong dedup key when present.
type ProductCard struct {
	ASIN           string   `json:"asin" validate:"required,min=4,max=20,alphanum"`
	Title          string   `json:"title" validate:"required,min=1,max=1024"`
	Brand          string   `json:"brand" validate:"max=256"`
	Image          string   `json:"image" validate:"omitempty,url"`
	ParentASIN     string   `json:"parent_asin,omitempty" validate:"omitempty,min=4,max=20,alphanum"`
	VariationGroup string   `json:"variation_group,omitempty" validate:"max=128"`
	Price          *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
}

// Complete reports whether the card has the display fields a published row
// needs (title and image).
func (c *ProductCard) Complete() bool {
	return c != nil && c.Title != "" && c.Image != ""
}

// CandidateRow is the ephemeral per-refresh unit: a ranking-signal row joined
// with whatever card metadata is known for its ASIN. It never leaves a single
// refresh execution.
type CandidateRow struct {
	Rank            int          `json:"rank"`
	ASIN            string       `json:"asin"`
	ClickShare      float64      `json:"click_share"`
	ConversionShare float64      `json:"conversion_share"`
	Card            *ProductCard `json:"card,omitempty"`
}

var (
	cardValidatorOnce sync.Once
	cardValidator     *validator.Validate
)

// ValidateCard checks a card against the schema used to gate cache merges.
// A cached card that fails validation is dropped and treated as a cache miss
// rather than trusted.
func ValidateCard(card *ProductCard) error {
	if card == nil {
		return fmt.Errorf("card is nil")
	}
	cardValidatorOnce.Do(func() {
		cardValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := cardValidator.Struct(card); err != nil {
		return fmt.Errorf("card schema: %w", err)
	}
	return nil
}
