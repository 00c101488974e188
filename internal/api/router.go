// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/preferolabs/prefero/internal/config"
	"github.com/preferolabs/prefero/internal/events"
	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/modelstore"
	"github.com/preferolabs/prefero/internal/recommend"
	"github.com/preferolabs/prefero/internal/scheduler"
	"github.com/preferolabs/prefero/internal/state"
	"github.com/preferolabs/prefero/internal/websocket"
)

// Recommender serves ranked recommendations.
type Recommender interface {
	GetRecommendations(ctx context.Context, userID string, limit int, filter string) ([]recommend.ScoredItem, error)
	ModelVersion() string
}

// Trigger starts manual training runs.
type Trigger interface {
	TriggerManual(ctx context.Context, ov scheduler.Overrides) (string, error)
	InFlight() bool
}

// InteractionPublisher accepts recorded interactions. Backed by the
// NATS publisher, or by a direct store write when events are disabled.
type InteractionPublisher interface {
	PublishInteraction(ctx context.Context, e events.InteractionRecorded) error
}

// ModelRepo exposes the version inventory operations the API needs.
type ModelRepo interface {
	Versions() ([]modelstore.Metadata, error)
	CurrentVersion() (string, error)
	Prune(keep int) error
}

// Pinger checks data-store liveness for health reporting.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the router serves from.
type Deps struct {
	Recommender Recommender
	Scheduler   Trigger
	Jobs        *state.JobStore
	Counter     *state.Counter
	Training    *state.TrainingState
	Models      ModelRepo
	Publisher   InteractionPublisher
	Hub         *websocket.Hub
	DB          Pinger
	Cfg         *config.Config
}

// Router is the API handler set.
type Router struct {
	deps Deps
}

// NewRouter builds the chi handler tree.
func NewRouter(deps Deps) http.Handler {
	router := &Router{deps: deps}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(deps.Cfg.API.CORSOrigins))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrometheusMetrics)
		r.Use(RateLimit(deps.Cfg.API.RateLimitReqs, deps.Cfg.API.RateLimitWindow))

		r.Get("/health", router.handleHealth)
		r.Get("/recommendations/user/{userID}", router.handleRecommendations)
		r.Post("/interactions", router.handleRecordInteraction)

		r.Route("/train", func(r chi.Router) {
			r.Post("/", router.handleTriggerTraining)
			r.Get("/status", router.handleTrainingStatus)
			r.Get("/{jobID}", router.handleJobStatus)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", router.handleListModels)
			r.Post("/prune", router.handlePruneModels)
		})

		r.Get("/ws/training", router.handleTrainingSocket)
	})

	return r
}

// Server wraps the HTTP listener as a suture service.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewServer builds the HTTP server for the router.
func NewServer(cfg *config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			WriteTimeout:      cfg.Timeout,
			IdleTimeout:       2 * cfg.Timeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Serve runs the listener until ctx is canceled, then drains in-flight
// requests within the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
