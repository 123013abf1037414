// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package models

import "time"

// SheetMode distinguishes a normally published sheet from one built on too few
// scorable rows.
type SheetMode string

const (
	SheetModeNormal  SheetMode = "NORMAL"
	SheetModeLowData SheetMode = "LOW_DATA"
)

// ReadinessLevel grades how complete the top-K candidate set is.
// Band bounds are inclusive: ratio 0.70 is PARTIAL, not LOW.
type ReadinessLevel string

const (
	ReadinessFull     ReadinessLevel = "FULL"
	ReadinessPartial  ReadinessLevel = "PARTIAL"
	ReadinessLow      ReadinessLevel = "LOW"
	ReadinessCritical ReadinessLevel = "CRITICAL"
)

// TrendLabel summarizes a row's rank movement against the previous period.
type TrendLabel string

const (
	TrendRising  TrendLabel = "Rising"
	TrendFalling TrendLabel = "Falling"
	TrendStable  TrendLabel = "Stable"
)

// MinValidCount is the minimum number of scorable rows required for a keyword
// to become indexable (the publish gate).
const MinValidCount = 3

// SanitizedRow is the scored, persisted unit of a rank sheet.
//
// Invariant: all indices are clamped finite integers; Score >= 1,
// MarketShareIndex and BuyerTrustIndex in [0,100].
type SanitizedRow struct {
	Rank             int        `json:"rank"`
	ASIN             string     `json:"asin"`
	Title            string     `json:"title"`
	Brand            string     `json:"brand"`
	Image            string     `json:"image"`
	Score            int        `json:"score"`
	MarketShareIndex int        `json:"market_share_index"`
	BuyerTrustIndex  int        `json:"buyer_trust_index"`
	TrendDelta       int        `json:"trend_delta"`
	TrendLabel       TrendLabel `json:"trend_label"`
	Badges           []string   `json:"badges,omitempty"`
}

// SheetHistoryEntry is the rolling summary of one superseded period.
type SheetHistoryEntry struct {
	DataPeriod     string         `json:"data_period"`
	Mode           SheetMode      `json:"mode"`
	ValidCount     int            `json:"valid_count"`
	ReadinessLevel ReadinessLevel `json:"readiness_level"`
	TopASIN        string         `json:"top_asin,omitempty"`
}

// MaxSheetHistory caps the rolling history carried on a rank sheet.
const MaxSheetHistory = 8

// RankSheet is one published snapshot of a keyword's top products for a period.
// At most one sheet exists per (KeywordID, DataPeriod); historical periods are
// immutable once superseded.
type RankSheet struct {
	ID             string              `json:"id"`
	KeywordID      string              `json:"keyword_id"`
	DataPeriod     string              `json:"data_period"`
	Mode           SheetMode           `json:"mode"`
	ValidCount     int                 `json:"valid_count"`
	ReadinessLevel ReadinessLevel      `json:"readiness_level"`
	Rows           []SanitizedRow      `json:"rows"`
	History        []SheetHistoryEntry `json:"history,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Summary condenses the sheet into a history entry for the next period.
func (s *RankSheet) Summary() SheetHistoryEntry {
	entry := SheetHistoryEntry{
		DataPeriod:     s.DataPeriod,
		Mode:           s.Mode,
		ValidCount:     s.ValidCount,
		ReadinessLevel: s.ReadinessLevel,
	}
	if len(s.Rows) > 0 {
		entry.TopASIN = s.Rows[0].ASIN
	}
	return entry
}

// PushHistory prepends prev to the sheet's history, dropping entries for the
// same period and trimming to MaxSheetHistory.
func (s *RankSheet) PushHistory(prev SheetHistoryEntry) {
	history := make([]SheetHistoryEntry, 0, len(s.History)+1)
	history = append(history, prev)
	for _, entry := range s.History {
		if entry.DataPeriod == prev.DataPeriod {
			continue
		}
		history = append(history, entry)
	}
	if len(history) > MaxSheetHistory {
		history = history[:MaxSheetHistory]
	}
	s.History = history
}
