// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package models

import (
	"strings"
	"testing"
	"time"
)

func TestEffectiveTopN(t *testing.T) {
	tests := []struct {
		name string
		topN int
		want int
	}{
		{name: "zero falls back to default", topN: 0, want: DefaultTopN},
		{name: "below minimum clamps up", topN: 2, want: MinTopN},
		{name: "above maximum clamps down", topN: 500, want: MaxTopN},
		{name: "in range passes through", topN: 25, want: 25},
		{name: "exact minimum", topN: MinTopN, want: MinTopN},
		{name: "exact maximum", topN: MaxTopN, want: MaxTopN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &Keyword{TopN: tt.topN}
			if got := k.EffectiveTopN(); got != tt.want {
				t.Errorf("EffectiveTopN() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCacheEntryTTLDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	positive := NewCacheEntry(&ProductCard{ASIN: "B00TESTASIN", Title: "Widget"}, now, 0)
	if got, want := positive.ExpiresAt, now.Add(DefaultExistsTTL); !got.Equal(want) {
		t.Errorf("EXISTS expiry = %v, want %v (30 days)", got, want)
	}
	if positive.Status != CacheStatusExists {
		t.Errorf("status = %q, want EXISTS", positive.Status)
	}

	negative := NewNegativeCacheEntry("B00MISSING0", now, 0)
	if got, want := negative.ExpiresAt, now.Add(DefaultNotFoundTTL); !got.Equal(want) {
		t.Errorf("NOT_FOUND expiry = %v, want %v (7 days)", got, want)
	}
	if negative.Card() != nil {
		t.Error("negative entry must not reconstruct a card")
	}

	if positive.Expired(now) {
		t.Error("fresh entry reported expired")
	}
	if !positive.Expired(now.Add(DefaultExistsTTL)) {
		t.Error("entry at its expiry instant must be logically absent")
	}
}

func TestCacheEntryConfiguredTTLs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	positive := NewCacheEntry(&ProductCard{ASIN: "B00TESTASIN", Title: "Widget"}, now, time.Hour)
	if got, want := positive.ExpiresAt, now.Add(time.Hour); !got.Equal(want) {
		t.Errorf("EXISTS expiry = %v, want %v", got, want)
	}

	negative := NewNegativeCacheEntry("B00MISSING0", now, 10*time.Minute)
	if got, want := negative.ExpiresAt, now.Add(10*time.Minute); !got.Equal(want) {
		t.Errorf("NOT_FOUND expiry = %v, want %v", got, want)
	}
}

func TestValidateCard(t *testing.T) {
	price := 19.99
	tests := []struct {
		name    string
		card    *ProductCard
		wantErr bool
	}{
		{
			name:    "nil card",
			card:    nil,
			wantErr: true,
		},
		{
			name: "complete card",
			card: &ProductCard{
				ASIN:  "B0ABCD1234",
				Title: "Stainless Steel Water Bottle",
				Brand: "Hydra",
				Image: "https://img.example.com/b0abcd1234.jpg",
				Price: &price,
			},
			wantErr: false,
		},
		{
			name:    "missing title",
			card:    &ProductCard{ASIN: "B0ABCD1234"},
			wantErr: true,
		},
		{
			name:    "missing asin",
			card:    &ProductCard{Title: "Water Bottle"},
			wantErr: true,
		},
		{
			name:    "asin with invalid characters",
			card:    &ProductCard{ASIN: "B0-BAD!!", Title: "Water Bottle"},
			wantErr: true,
		},
		{
			name:    "image must be a url",
			card:    &ProductCard{ASIN: "B0ABCD1234", Title: "Water Bottle", Image: "not a url"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCard(tt.card)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCard() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobDetailTaggedUnion(t *testing.T) {
	tests := []struct {
		name    string
		detail  JobDetail
		wantErr bool
	}{
		{
			name: "refresh_one with matching payload",
			detail: JobDetail{
				JobName:    JobRefreshOne,
				RefreshOne: &RefreshOneDetail{Slug: "water-bottle", ValidCount: 9},
			},
		},
		{
			name: "refresh_all with matching payload",
			detail: JobDetail{
				JobName:    JobRefreshAll,
				RefreshAll: &RefreshAllDetail{Total: 12, Success: 11, Failed: 1},
			},
		},
		{
			name: "refresh_one carrying batch payload",
			detail: JobDetail{
				JobName:    JobRefreshOne,
				RefreshAll: &RefreshAllDetail{Total: 1},
			},
			wantErr: true,
		},
		{
			name:    "unknown job name",
			detail:  JobDetail{JobName: "compact_everything"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.detail.Marshal()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Marshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			got, err := UnmarshalJobDetail(raw)
			if err != nil {
				t.Fatalf("UnmarshalJobDetail() error = %v", err)
			}
			if got.JobName != tt.detail.JobName {
				t.Errorf("round trip job name = %q, want %q", got.JobName, tt.detail.JobName)
			}
			if !strings.Contains(string(raw), string(tt.detail.JobName)) {
				t.Errorf("serialized detail missing tag %q: %s", tt.detail.JobName, raw)
			}
		})
	}
}

func TestRankSheetPushHistory(t *testing.T) {
	sheet := &RankSheet{}
	for i := 0; i < MaxSheetHistory+3; i++ {
		sheet.PushHistory(SheetHistoryEntry{
			DataPeriod: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			ValidCount: i,
		})
	}
	if len(sheet.History) != MaxSheetHistory {
		t.Fatalf("history length = %d, want %d", len(sheet.History), MaxSheetHistory)
	}
	// Most recent period first.
	if sheet.History[0].ValidCount != MaxSheetHistory+2 {
		t.Errorf("history head = %+v, want most recent entry", sheet.History[0])
	}

	// Re-publishing the same period replaces, not duplicates.
	head := sheet.History[0]
	head.ValidCount = 99
	sheet.PushHistory(head)
	if len(sheet.History) != MaxSheetHistory {
		t.Fatalf("history length after same-period push = %d, want %d", len(sheet.History), MaxSheetHistory)
	}
	if sheet.History[0].ValidCount != 99 {
		t.Errorf("same-period push did not replace head: %+v", sheet.History[0])
	}
}
