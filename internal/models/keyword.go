// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package models

import "time"

// KeywordStatus is the lifecycle state of a tracked keyword.
//
// Transitions are owned by the refresh orchestrator (PENDING/WARMING_UP/ACTIVE/ERROR)
// and by editorial action (PAUSED). The pipeline never deletes keywords.
type KeywordStatus string

const (
	KeywordStatusPending   KeywordStatus = "PENDING"
	KeywordStatusWarmingUp KeywordStatus = "WARMING_UP"
	KeywordStatusActive    KeywordStatus = "ACTIVE"
	KeywordStatusPaused    KeywordStatus = "PAUSED"
	KeywordStatusError     KeywordStatus = "ERROR"
)

// TopN bounds for a keyword's published list size.
const (
	MinTopN     = 5
	MaxTopN     = 50
	DefaultTopN = 10
)

// Keyword is a tracked search term.
//
// Status, StatusReason, Indexable and LastRefreshedAt are mutated only by the
// refresh orchestrator; everything else is editorial.
type Keyword struct {
	ID              string        `json:"id"`
	Slug            string        `json:"slug"`
	DisplayText     string        `json:"display_text"`
	Category        string        `json:"category"`
	Marketplace     string        `json:"marketplace"`
	TopN            int           `json:"top_n"`
	IsActive        bool          `json:"is_active"`
	Status          KeywordStatus `json:"status"`
	StatusReason    string        `json:"status_reason,omitempty"`
	Indexable       bool          `json:"indexable"`
	Priority        int           `json:"priority"`
	LastRefreshedAt *time.Time    `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// EffectiveTopN clamps TopN into the supported range, falling back to the
// default when unset.
func (k *Keyword) EffectiveTopN() int {
	if k.TopN == 0 {
		return DefaultTopN
	}
	if k.TopN < MinTopN {
		return MinTopN
	}
	if k.TopN > MaxTopN {
		return MaxTopN
	}
	return k.TopN
}

// PublishState is the snapshot of the orchestrator-owned keyword fields taken
// before a refresh mutates them. It is what the compensating rollback restores
// when the rank-sheet write fails after the keyword write succeeded.
type PublishState struct {
	Status          KeywordStatus
	StatusReason    string
	Indexable       bool
	LastRefreshedAt *time.Time
}

// PublishSnapshot captures the rollback state of a keyword.
func (k *Keyword) PublishSnapshot() PublishState {
	return PublishState{
		Status:          k.Status,
		StatusReason:    k.StatusReason,
		Indexable:       k.Indexable,
		LastRefreshedAt: k.LastRefreshedAt,
	}
}
