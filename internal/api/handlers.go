// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/ranksheet/internal/models"
	"github.com/tomtom215/ranksheet/internal/store"
)

// maxRequestBody bounds trigger request bodies; these are tiny JSON
// payloads and anything larger is malformed or hostile.
const maxRequestBody = 4 << 10

type refreshOneRequest struct {
	Slug       string `json:"slug" validate:"required,min=1,max=128"`
	ReportDate string `json:"report_date" validate:"omitempty,datetime=2006-01-02"`
}

type refreshAllRequest struct {
	Concurrency int `json:"concurrency" validate:"omitempty,min=1,max=10"`
	Limit       int `json:"limit" validate:"omitempty,min=1,max=2000"`
}

type jobResponse struct {
	Job          *models.JobRun `json:"job"`
	Deduplicated bool           `json:"deduplicated,omitempty"`
}

type errorResponse struct {
	Error        string `json:"error"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

func (router *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := router.store.Ping(r.Context()); err != nil {
		router.respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unreachable"})
		return
	}
	router.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (router *Router) handleRefreshOne(w http.ResponseWriter, r *http.Request) {
	if !router.allowTrigger(w) {
		return
	}

	var req refreshOneRequest
	if !router.decodeRequest(w, r, &req) {
		return
	}

	job, inserted, err := router.queue.EnqueueRefreshOne(r.Context(), req.Slug, req.ReportDate)
	if err != nil {
		router.logger.Error().Err(err).Str("slug", req.Slug).Msg("Enqueue refresh failed")
		router.respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "enqueue failed"})
		return
	}
	router.respondJSON(w, http.StatusAccepted, jobResponse{Job: job, Deduplicated: !inserted})
}

func (router *Router) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if !router.allowTrigger(w) {
		return
	}

	var req refreshAllRequest
	if !router.decodeRequest(w, r, &req) {
		return
	}

	job, inserted, err := router.queue.EnqueueRefreshAll(r.Context(), req.Concurrency, req.Limit)
	if err != nil {
		router.logger.Error().Err(err).Msg("Enqueue batch refresh failed")
		router.respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "enqueue failed"})
		return
	}
	router.respondJSON(w, http.StatusAccepted, jobResponse{Job: job, Deduplicated: !inserted})
}

func (router *Router) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := router.queue.GetJobState(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		router.respondJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	if err != nil {
		router.logger.Error().Err(err).Str("job_id", id).Msg("Job lookup failed")
		router.respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "job lookup failed"})
		return
	}
	router.respondJSON(w, http.StatusOK, jobResponse{Job: job})
}

// allowTrigger applies the manual-trigger rate limit. A denied trigger
// reports the wait so callers can back off instead of hammering.
func (router *Router) allowTrigger(w http.ResponseWriter) bool {
	ok, retryAfter := router.trigger.Check()
	if ok {
		return true
	}
	router.respondJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:        "rate_limited",
		RetryAfterMS: retryAfter.Milliseconds(),
	})
	return false
}

// decodeRequest parses and validates a JSON body. An empty body decodes
// to the zero request, which validation then accepts or rejects per the
// field rules.
func (router *Router) decodeRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		router.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return false
	}
	if err := router.validate.Struct(req); err != nil {
		router.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}

func (router *Router) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		router.logger.Error().Err(err).Msg("Response marshal failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
