// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Command ranksheetd runs the rank-sheet refresh daemon: the queue worker
// and the ops HTTP server under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/ranksheet/internal/api"
	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/lock"
	"github.com/tomtom215/ranksheet/internal/logging"
	"github.com/tomtom215/ranksheet/internal/queue"
	"github.com/tomtom215/ranksheet/internal/refresh"
	"github.com/tomtom215/ranksheet/internal/store"
	"github.com/tomtom215/ranksheet/internal/supervisor"
	"github.com/tomtom215/ranksheet/internal/supervisor/services"
	"github.com/tomtom215/ranksheet/internal/upstream"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.Database, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Database connection failed")
	}
	defer st.Close()

	if err := st.Bootstrap(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Schema bootstrap failed")
	}
	logging.Info().Msg("Database ready")

	locker := lock.NewManager(st, lock.Config{
		AcquireTimeout:   cfg.Lock.AcquireTimeout,
		StatementTimeout: cfg.Lock.StatementTimeout,
	}, logger)
	signals := upstream.NewSignalsClient(cfg.Signals, logger)
	catalog := upstream.NewCatalogClient(cfg.Catalog, logger)
	refresher := refresh.New(st, locker, signals, catalog, cfg.Refresh, cfg.Cache, logger)

	jobQueue := queue.New(st, cfg.Queue, logger)
	worker := queue.NewWorker(st, refresher, cfg.Queue, cfg.Cache, logger)

	trigger := refresh.NewTrigger(cfg.Refresh.TriggerInterval)
	router := api.NewRouter(st, jobQueue, trigger, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddJobService(worker)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("Worker and HTTP server added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Daemon stopped")
}
