// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// JobName identifies the unit of work a queue row represents.
type JobName string

const (
	JobRefreshOne JobName = "refresh_one"
	JobRefreshAll JobName = "refresh_all"
)

// JobStatus is the queue-row state machine: QUEUED -> RUNNING -> {SUCCESS, FAILED}.
// A RUNNING row stuck past the staleness threshold is forcibly moved to FAILED
// by the worker's startup sweep.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Terminal reports whether the status ends the state machine.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// RefreshOneDetail is the result payload for a single-keyword refresh job.
type RefreshOneDetail struct {
	Slug           string         `json:"slug"`
	ReportDate     string         `json:"report_date,omitempty"`
	Acquired       bool           `json:"acquired"`
	ReadinessLevel ReadinessLevel `json:"readiness_level,omitempty"`
	ValidCount     int            `json:"valid_count"`
	Removed        int            `json:"removed"`
	CacheHits      int            `json:"cache_hits"`
	CacheMisses    int            `json:"cache_misses"`
}

// RefreshAllDetail is the result payload for a full-batch refresh job.
type RefreshAllDetail struct {
	Concurrency int `json:"concurrency"`
	Limit       int `json:"limit"`
	Total       int `json:"total"`
	Success     int `json:"success"`
	Failed      int `json:"failed"`
}

// JobDetail is a tagged union keyed by JobName: exactly one payload field is
// populated for a given job type. Error carries the failure reason for FAILED
// rows; raw stack traces are never persisted.
type JobDetail struct {
	JobName    JobName           `json:"job_name"`
	RefreshOne *RefreshOneDetail `json:"refresh_one,omitempty"`
	RefreshAll *RefreshAllDetail `json:"refresh_all,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Validate checks that the populated payload matches the tag.
func (d *JobDetail) Validate() error {
	switch d.JobName {
	case JobRefreshOne:
		if d.RefreshAll != nil {
			return fmt.Errorf("job detail: refresh_one tagged with refresh_all payload")
		}
	case JobRefreshAll:
		if d.RefreshOne != nil {
			return fmt.Errorf("job detail: refresh_all tagged with refresh_one payload")
		}
	default:
		return fmt.Errorf("job detail: unknown job name %q", d.JobName)
	}
	return nil
}

// Marshal serializes the detail for the queue row's jsonb column.
func (d *JobDetail) Marshal() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// UnmarshalJobDetail parses a queue row's detail column. An empty column yields
// a zero detail rather than an error.
func UnmarshalJobDetail(raw []byte) (JobDetail, error) {
	var d JobDetail
	if len(raw) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("job detail: %w", err)
	}
	return d, nil
}

// JobRun is one durable work item in the refresh queue.
type JobRun struct {
	ID          string     `json:"id"`
	JobName     JobName    `json:"job_name"`
	KeywordSlug string     `json:"keyword_slug,omitempty"`
	Status      JobStatus  `json:"status"`
	Detail      JobDetail  `json:"detail"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}
