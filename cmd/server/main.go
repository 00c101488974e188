// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Command server runs the Prefero recommendation engine: the HTTP API,
// the retraining scheduler, the interaction event pipeline and the
// training progress stream, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/preferolabs/prefero/internal/api"
	"github.com/preferolabs/prefero/internal/config"
	"github.com/preferolabs/prefero/internal/database"
	"github.com/preferolabs/prefero/internal/events"
	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/modelstore"
	recserver "github.com/preferolabs/prefero/internal/recommend/server"
	"github.com/preferolabs/prefero/internal/scheduler"
	"github.com/preferolabs/prefero/internal/state"
	"github.com/preferolabs/prefero/internal/supervisor"
	"github.com/preferolabs/prefero/internal/trainer"
	"github.com/preferolabs/prefero/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Prefero starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable state (jobs, counter, retraining marker).
	badgerDB, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() {
		if err := badgerDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close state store")
		}
	}()
	jobs := state.NewJobStore(badgerDB, cfg.State.JobTTL)
	counter := state.NewCounter(badgerDB)
	training := state.NewTrainingState(badgerDB)

	// Interaction and content storage.
	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	// Model repository and serving.
	repo, err := modelstore.New(cfg.Model.Path)
	if err != nil {
		return fmt.Errorf("opening model repository: %w", err)
	}
	recommender := recserver.New(db, repo)
	if err := recommender.Reload(); err != nil {
		// Startup proceeds on popularity fallback; a corrupt model is
		// replaced by the next training run.
		logging.Warn().Err(err).Msg("Could not load promoted model at startup")
	}

	hub := websocket.NewHub()

	pipeline := trainer.New(db, repo, jobs, training, counter, cfg.Model, hub)
	pipeline.OnSuccess(func(versionID string) {
		if err := recommender.Reload(); err != nil {
			logging.Error().Err(err).Str("version", versionID).Msg("Failed to reload promoted model")
		}
	})

	sched := scheduler.New(cfg.Scheduler, pipeline, repo, counter, training)

	// Interaction pipeline: NATS-backed when enabled, synchronous
	// writes otherwise.
	var publisher api.InteractionPublisher = events.NewDirectPipeline(db, counter)
	var eventRouter *events.Router
	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.EmbeddedServer {
			embedded, err := events.NewEmbeddedServer(cfg.NATS.URL, cfg.NATS.StoreDir)
			if err != nil {
				return fmt.Errorf("starting embedded NATS server: %w", err)
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Error().Err(err).Msg("Embedded NATS shutdown failed")
				}
			}()
			natsURL = embedded.ClientURL()
		}

		wmLogger := events.NewWatermillLogger()
		natsPublisher, err := events.NewNATSPublisher(natsURL, wmLogger)
		if err != nil {
			return fmt.Errorf("connecting NATS publisher: %w", err)
		}
		defer func() {
			if err := natsPublisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Failed to close NATS publisher")
			}
		}()
		subscriber, err := events.NewNATSSubscriber(natsURL, wmLogger)
		if err != nil {
			return fmt.Errorf("connecting NATS subscriber: %w", err)
		}
		eventRouter, err = events.NewRouter(subscriber, db, counter, wmLogger)
		if err != nil {
			return fmt.Errorf("building event router: %w", err)
		}
		publisher = natsPublisher
	}

	handler := api.NewRouter(api.Deps{
		Recommender: recommender,
		Scheduler:   sched,
		Jobs:        jobs,
		Counter:     counter,
		Training:    training,
		Models:      repo,
		Publisher:   publisher,
		Hub:         hub,
		DB:          db,
		Cfg:         cfg,
	})
	httpServer := api.NewServer(&cfg.Server, handler)

	// Supervisor tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if cfg.Scheduler.Enabled {
		tree.AddDataService(sched)
	} else {
		logging.Info().Msg("Retraining scheduler disabled")
	}
	tree.AddMessagingService(hub)
	if eventRouter != nil {
		tree.AddMessagingService(eventRouter)
	}
	tree.AddAPIService(httpServer)

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("Prefero stopped gracefully")
	return nil
}
