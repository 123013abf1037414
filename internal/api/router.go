// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package api provides the ops HTTP surface: health, metrics, and job
// trigger endpoints routed with Chi. It exposes the queue's operations
// only; rank sheets are read by downstream consumers straight from the
// database.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ranksheet/internal/models"
	"github.com/tomtom215/ranksheet/internal/refresh"
)

// JobQueue is the router's view of the job queue.
type JobQueue interface {
	EnqueueRefreshOne(ctx context.Context, slug, reportDate string) (*models.JobRun, bool, error)
	EnqueueRefreshAll(ctx context.Context, concurrency, limit int) (*models.JobRun, bool, error)
	GetJobState(ctx context.Context, id string) (*models.JobRun, error)
}

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router wires the ops endpoints to their dependencies.
type Router struct {
	store    Pinger
	queue    JobQueue
	trigger  *refresh.Trigger
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewRouter builds a Router.
func NewRouter(store Pinger, queue JobQueue, trigger *refresh.Trigger, logger zerolog.Logger) *Router {
	return &Router{
		store:    store,
		queue:    queue,
		trigger:  trigger,
		validate: validator.New(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Setup configures all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", router.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/refresh", router.handleRefreshOne)
		r.Post("/refresh-all", router.handleRefreshAll)
		r.Get("/{id}", router.handleJobStatus)
	})

	return r
}
