// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package refresh

import (
	"time"

	"golang.org/x/time/rate"
)

// Trigger rate-limits manual refresh triggers so a stuck retry loop or an
// over-eager operator cannot flood the queue. One trigger is allowed per
// interval with a single burst slot.
type Trigger struct {
	limiter *rate.Limiter
}

// NewTrigger builds a trigger limiter with the given minimum spacing.
func NewTrigger(interval time.Duration) *Trigger {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Trigger{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether a trigger may fire now.
func (t *Trigger) Allow() bool {
	return t.limiter.Allow()
}

// Check is Allow with a wait hint: a denied trigger reports how long the
// caller should wait before retrying.
func (t *Trigger) Check() (ok bool, retryAfter time.Duration) {
	r := t.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}
