// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package scoring contains the pure computation layer of the refresh
// pipeline: data readiness assessment and per-row score derivation.
// Everything in this package is deterministic and side-effect free so
// it can be exercised exhaustively in unit tests.
package scoring

import "github.com/tomtom215/ranksheet/internal/models"

// Readiness describes how much of the keyword's top slice carries a
// card complete enough to render.
type Readiness struct {
	Level        models.ReadinessLevel
	Ratio        float64
	ReadyCount   int
	Total        int
	MissingASINs []string
}

// AssessReadiness inspects the first topK candidate rows and counts
// those whose card has both a title and an image. Band boundaries are
// inclusive at the lower edge.
func AssessReadiness(rows []models.CandidateRow, topK int) Readiness {
	total := topK
	if len(rows) < total {
		total = len(rows)
	}
	if total < 1 {
		total = 1
	}

	ready := 0
	var missing []string
	for i := 0; i < total && i < len(rows); i++ {
		card := rows[i].Card
		if card != nil && card.Complete() {
			ready++
			continue
		}
		missing = append(missing, rows[i].ASIN)
	}

	ratio := float64(ready) / float64(total)

	var level models.ReadinessLevel
	switch {
	case ratio >= 0.90:
		level = models.ReadinessFull
	case ratio >= 0.70:
		level = models.ReadinessPartial
	case ratio >= 0.50:
		level = models.ReadinessLow
	default:
		level = models.ReadinessCritical
	}

	return Readiness{Level: level, Ratio: ratio, ReadyCount: ready, Total: total, MissingASINs: missing}
}

// ReadyToPublish reports whether a sheet at the given readiness level
// may be published at all.
func ReadyToPublish(level models.ReadinessLevel) bool {
	return level == models.ReadinessFull || level == models.ReadinessPartial
}
