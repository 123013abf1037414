// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package dedupe groups candidate rows into "same underlying product" clusters
// and keeps one representative per cluster.
//
// Amazon listings fragment one physical product into many ASINs by color and
// size. Two signals identify a cluster: an explicit variant linkage
// (parentAsin or variationGroup) when the catalog provides one, and a title
// similarity heuristic as fallback, because the explicit signal is frequently
// missing.
package dedupe

import (
	"regexp"
	"strings"

	"github.com/tomtom215/ranksheet/internal/models"
)

// Weak-key tuning. These are empirical constants carried over from production
// observation; treat with suspicion before changing.
const (
	// minWeakTokens is the minimum normalized title tokens required before a
	// weak key is formed at all.
	minWeakTokens = 4

	// weakKeyTokens is how many leading tokens participate in the weak key.
	weakKeyTokens = 10
)

// colorStopwords are dropped from normalized titles so color variants of the
// same product produce the same weak key.
var colorStopwords = map[string]struct{}{
	"black": {}, "white": {}, "red": {}, "blue": {}, "green": {},
	"yellow": {}, "pink": {}, "purple": {}, "grey": {}, "gray": {},
	"silver": {}, "gold": {}, "beige": {}, "brown": {}, "orange": {},
	"navy": {}, "teal": {}, "ivory": {}, "charcoal": {}, "rose": {},
}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]+`)
)

// Result is the outcome of one dedupe pass.
type Result struct {
	// Kept holds the first-seen representative of every cluster plus all rows
	// that formed no key, in original order.
	Kept []models.CandidateRow

	// Removed holds the rows collapsed into an earlier representative.
	Removed []models.CandidateRow

	// GroupCountByKey counts rows per cluster key (including keyless rows'
	// absence).
	GroupCountByKey map[string]int

	// GroupKeyByASIN maps each keyed row's ASIN to its cluster key.
	GroupKeyByASIN map[string]string
}

// VariantCount returns the cluster size for an ASIN, or 1 when the row never
// formed a key.
func (r *Result) VariantCount(asin string) int {
	key, ok := r.GroupKeyByASIN[asin]
	if !ok {
		return 1
	}
	return r.GroupCountByKey[key]
}

// Dedupe collapses rows sharing a cluster key to the first-seen row. Rows
// whose card is absent, or whose title fails the weak-key preconditions when
// no strong id exists, get no key and are never deduped against anything.
//
// Dedupe is idempotent: running it on its own Kept output removes nothing.
func Dedupe(rows []models.CandidateRow) Result {
	result := Result{
		Kept:            make([]models.CandidateRow, 0, len(rows)),
		GroupCountByKey: make(map[string]int),
		GroupKeyByASIN:  make(map[string]string),
	}

	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		key, ok := groupKey(&row)
		if !ok {
			result.Kept = append(result.Kept, row)
			continue
		}

		result.GroupCountByKey[key]++
		result.GroupKeyByASIN[row.ASIN] = key

		if _, dup := seen[key]; dup {
			result.Removed = append(result.Removed, row)
			continue
		}
		seen[key] = struct{}{}
		result.Kept = append(result.Kept, row)
	}

	return result
}

// groupKey derives the cluster key for a row. Strong ids win over the weak
// title heuristic.
func groupKey(row *models.CandidateRow) (string, bool) {
	card := row.Card
	if card == nil {
		return "", false
	}

	if card.ParentASIN != "" {
		return "strong|" + card.ParentASIN, true
	}
	if card.VariationGroup != "" {
		return "strong|" + card.VariationGroup, true
	}

	tokens := normalizeTitle(card.Title)
	if len(tokens) < minWeakTokens {
		return "", false
	}
	if len(tokens) > weakKeyTokens {
		tokens = tokens[:weakKeyTokens]
	}

	brand := strings.ToLower(strings.TrimSpace(card.Brand))
	return "weak|" + brand + "|" + strings.Join(tokens, " "), true
}

// normalizeTitle lowercases, strips parenthetical and bracketed text and
// non-alphanumerics, and drops color stopwords.
func normalizeTitle(title string) []string {
	s := strings.ToLower(title)
	s = parenthetical.ReplaceAllString(s, " ")
	s = nonAlnum.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	tokens := fields[:0]
	for _, tok := range fields {
		if _, stop := colorStopwords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}
