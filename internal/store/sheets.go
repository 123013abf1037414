// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/ranksheet/internal/models"
)

const sheetColumns = `id, keyword_id, data_period, mode, valid_count,
	readiness_level, rows, history, created_at, updated_at`

func scanSheet(row pgx.Row) (*models.RankSheet, error) {
	var sheet models.RankSheet
	var rowsJSON, historyJSON []byte
	err := row.Scan(
		&sheet.ID, &sheet.KeywordID, &sheet.DataPeriod, &sheet.Mode,
		&sheet.ValidCount, &sheet.ReadinessLevel, &rowsJSON, &historyJSON,
		&sheet.CreatedAt, &sheet.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan rank sheet: %w", err)
	}
	if err := json.Unmarshal(rowsJSON, &sheet.Rows); err != nil {
		return nil, fmt.Errorf("store: decode sheet rows: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &sheet.History); err != nil {
		return nil, fmt.Errorf("store: decode sheet history: %w", err)
	}
	return &sheet, nil
}

// GetRankSheet loads the sheet for one keyword and period.
func (s *Store) GetRankSheet(ctx context.Context, keywordID, dataPeriod string) (*models.RankSheet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sheetColumns+` FROM rank_sheets
		 WHERE keyword_id = $1 AND data_period = $2`, keywordID, dataPeriod)
	return scanSheet(row)
}

// GetPreviousSheet loads the most recent sheet strictly before the given
// period. Periods are ISO dates, so lexical order is chronological order.
func (s *Store) GetPreviousSheet(ctx context.Context, keywordID, beforePeriod string) (*models.RankSheet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sheetColumns+` FROM rank_sheets
		 WHERE keyword_id = $1 AND data_period < $2
		 ORDER BY data_period DESC LIMIT 1`, keywordID, beforePeriod)
	return scanSheet(row)
}

// UpsertRankSheet writes the sheet keyed by (keyword_id, data_period).
// A sheet re-published for the same period is overwritten in place; the
// sheet's ID is assigned on first insert and preserved on update.
func (s *Store) UpsertRankSheet(ctx context.Context, sheet *models.RankSheet) error {
	if sheet.ID == "" {
		sheet.ID = uuid.NewString()
	}
	rowsJSON, err := json.Marshal(sheet.Rows)
	if err != nil {
		return fmt.Errorf("store: encode sheet rows: %w", err)
	}
	historyJSON, err := json.Marshal(sheet.History)
	if err != nil {
		return fmt.Errorf("store: encode sheet history: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rank_sheets
			(id, keyword_id, data_period, mode, valid_count, readiness_level, rows, history)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (keyword_id, data_period) DO UPDATE SET
			mode = EXCLUDED.mode,
			valid_count = EXCLUDED.valid_count,
			readiness_level = EXCLUDED.readiness_level,
			rows = EXCLUDED.rows,
			history = EXCLUDED.history,
			updated_at = now()`,
		sheet.ID, sheet.KeywordID, sheet.DataPeriod, sheet.Mode,
		sheet.ValidCount, sheet.ReadinessLevel, rowsJSON, historyJSON)
	if err != nil {
		return fmt.Errorf("store: upsert rank sheet: %w", err)
	}
	return nil
}
