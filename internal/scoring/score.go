// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package scoring

import (
	"math"

	"github.com/tomtom215/ranksheet/internal/models"
)

// Badge tags attached to scored rows.
const (
	BadgeTopPick      = "top-pick"
	BadgeRisingFast   = "rising-fast"
	BadgeQualityPick  = "quality-pick"
	BadgeMultiVariant = "multi-variant"
)

// Trend thresholds on prevRank - currentRank.
const (
	risingDelta  = 3
	fallingDelta = -3
)

// Input carries the per-keyword context the score pass needs beyond the
// rows themselves.
type Input struct {
	// PrevRanks maps ASIN to the rank it held in the previous period's
	// sheet. A missing ASIN means no trend signal (delta 0, Stable).
	PrevRanks map[string]int
	// VariantCounts maps ASIN to the size of its dedup group. Counts
	// above 1 earn the multi-variant badge.
	VariantCounts map[string]int
}

// Score transforms candidate rows into sanitized, clamped sheet rows.
// Rows are expected to have complete cards already; a nil card degrades
// to empty display fields rather than panicking. All index math guards
// against NaN, infinities and zero denominators, so adversarial share
// values can never escape the documented bounds: market share and trust
// indices land in [0,100] and the composite score in [1,100].
func Score(rows []models.CandidateRow, in Input) []models.SanitizedRow {
	if len(rows) == 0 {
		return nil
	}

	maxClick := 0.0
	for _, r := range rows {
		if c := sanitize(r.ClickShare); c > maxClick {
			maxClick = c
		}
	}

	ratios := make([]float64, len(rows))
	minRatio, maxRatio := math.MaxFloat64, -math.MaxFloat64
	for i, r := range rows {
		ratios[i] = trustRatio(r.ConversionShare, r.ClickShare)
		if ratios[i] < minRatio {
			minRatio = ratios[i]
		}
		if ratios[i] > maxRatio {
			maxRatio = ratios[i]
		}
	}

	n := len(rows)
	out := make([]models.SanitizedRow, n)
	for i, r := range rows {
		msi := marketShareIndex(r.ClickShare, maxClick)
		bti := buyerTrustIndex(ratios[i], minRatio, maxRatio)

		delta := 0
		if prev, ok := in.PrevRanks[r.ASIN]; ok {
			delta = prev - r.Rank
		}
		label := models.TrendStable
		switch {
		case delta >= risingDelta:
			label = models.TrendRising
		case delta <= fallingDelta:
			label = models.TrendFalling
		}
		trendScore := clampFloat(50+5*float64(delta), 0, 100)

		rankScore := clampFloat(math.Round(100*float64(n-r.Rank+1)/float64(n)), 0, 100)
		popularity := 0.7*float64(msi) + 0.3*rankScore
		score := int(clampFloat(math.Round(0.55*popularity+0.3*float64(bti)+0.15*trendScore), 1, 100))

		row := models.SanitizedRow{
			Rank:             r.Rank,
			ASIN:             r.ASIN,
			Score:            score,
			MarketShareIndex: msi,
			BuyerTrustIndex:  bti,
			TrendDelta:       delta,
			TrendLabel:       label,
		}
		if r.Card != nil {
			row.Title = r.Card.Title
			row.Brand = r.Card.Brand
			row.Image = r.Card.Image
		}
		row.Badges = badges(row, in.VariantCounts[r.ASIN])
		out[i] = row
	}
	return out
}

func badges(row models.SanitizedRow, variants int) []string {
	var tags []string
	if row.Rank == 1 && row.MarketShareIndex >= 90 {
		tags = append(tags, BadgeTopPick)
	}
	if row.TrendDelta >= 5 {
		tags = append(tags, BadgeRisingFast)
	}
	if row.BuyerTrustIndex >= 80 && row.MarketShareIndex <= 40 {
		tags = append(tags, BadgeQualityPick)
	}
	if variants >= 2 {
		tags = append(tags, BadgeMultiVariant)
	}
	return tags
}

func marketShareIndex(click, maxClick float64) int {
	if maxClick <= 0 {
		return 0
	}
	return int(clampFloat(math.Round(100*sanitize(click)/maxClick), 0, 100))
}

func buyerTrustIndex(ratio, min, max float64) int {
	if max <= min {
		return 50
	}
	return int(clampFloat(math.Round(100*(ratio-min)/(max-min)), 0, 100))
}

// trustRatio is conversion/click clamped to [0,2]; zero or non-finite
// denominators yield 0.
func trustRatio(conversion, click float64) float64 {
	c := sanitize(click)
	if c <= 0 {
		return 0
	}
	return clampFloat(sanitize(conversion)/c, 0, 2)
}

// sanitize maps NaN, infinities and negatives to 0.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
