// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from an upstream service.
type StatusError struct {
	Service    string
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: %s returned HTTP %d", e.Service, e.Endpoint, e.StatusCode)
}

// Retryable classifies the failure: timeouts, 5xx and 429 are transient
// and worth retrying; any other 4xx is permanent.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// isPermanent reports whether retrying err can never help.
func isPermanent(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Retryable()
	}
	return false
}
