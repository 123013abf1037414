// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tomtom215/ranksheet/internal/models"
)

const keywordColumns = `id, slug, display_text, category, marketplace, top_n,
	is_active, status, status_reason, indexable, priority,
	last_refreshed_at, created_at, updated_at`

func scanKeyword(row pgx.Row) (*models.Keyword, error) {
	var k models.Keyword
	var lastRefreshed pgtype.Timestamptz
	err := row.Scan(
		&k.ID, &k.Slug, &k.DisplayText, &k.Category, &k.Marketplace, &k.TopN,
		&k.IsActive, &k.Status, &k.StatusReason, &k.Indexable, &k.Priority,
		&lastRefreshed, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan keyword: %w", err)
	}
	if lastRefreshed.Valid {
		t := lastRefreshed.Time
		k.LastRefreshedAt = &t
	}
	return &k, nil
}

// GetKeywordBySlug loads one keyword. Returns ErrNotFound if the slug is
// unknown.
func (s *Store) GetKeywordBySlug(ctx context.Context, slug string) (*models.Keyword, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+keywordColumns+` FROM keywords WHERE slug = $1`, slug)
	return scanKeyword(row)
}

// ListActiveKeywords loads up to limit active keywords ordered by priority
// descending, slug ascending for a stable batch order.
func (s *Store) ListActiveKeywords(ctx context.Context, limit int) ([]models.Keyword, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+keywordColumns+` FROM keywords
		 WHERE is_active ORDER BY priority DESC, slug ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list active keywords: %w", err)
	}
	defer rows.Close()

	var keywords []models.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, *k)
	}
	return keywords, rows.Err()
}

// UpdateKeywordPublish writes the orchestrator-owned fields. The same
// statement serves both the publish step and the compensating rollback,
// which replays a pre-refresh snapshot.
func (s *Store) UpdateKeywordPublish(ctx context.Context, id string, state models.PublishState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE keywords
		 SET status = $2, status_reason = $3, indexable = $4,
		     last_refreshed_at = $5, updated_at = now()
		 WHERE id = $1`,
		id, state.Status, state.StatusReason, state.Indexable, state.LastRefreshedAt)
	if err != nil {
		return fmt.Errorf("store: update keyword publish state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetKeywordError forces a keyword into ERROR with a reason, preserving
// Indexable and LastRefreshedAt as they were.
func (s *Store) SetKeywordError(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE keywords
		 SET status = $2, status_reason = $3, updated_at = now()
		 WHERE id = $1`,
		id, models.KeywordStatusError, reason)
	if err != nil {
		return fmt.Errorf("store: set keyword error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
