// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/preferolabs/prefero/internal/metrics"
	"github.com/preferolabs/prefero/internal/recommend"
)

// InteractionStore persists consumed interactions.
type InteractionStore interface {
	RecordInteraction(ctx context.Context, in recommend.Interaction) error
}

// InteractionCounter advances the retraining counter.
type InteractionCounter interface {
	Increment(ctx context.Context) (int64, error)
}

// Router consumes interaction events and applies them to storage.
// Delivery is at-least-once; the DuckDB insert is the idempotency
// boundary we accept (duplicate interactions only nudge popularity).
type Router struct {
	router *message.Router
}

// NewRouter builds a Watermill router with the interaction handler
// attached behind recoverer, correlation and retry middleware.
func NewRouter(sub message.Subscriber, store InteractionStore, counter InteractionCounter, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = NewWatermillLogger()
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)
	wmRouter.AddMiddleware(middleware.CorrelationID)

	retry := middleware.Retry{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	wmRouter.AddNoPublisherHandler(
		"interaction_recorded_store",
		TopicInteractionRecorded,
		sub,
		func(msg *message.Message) error {
			e, err := decodeInteraction(msg)
			if err != nil {
				// Malformed payloads never become parseable; ack them.
				logger.Error("Dropping malformed interaction event", err, watermill.LogFields{
					"message_uuid": msg.UUID,
				})
				return nil
			}

			ctx := msg.Context()
			if err := store.RecordInteraction(ctx, e.Interaction()); err != nil {
				return fmt.Errorf("persist interaction: %w", err)
			}
			if _, err := counter.Increment(ctx); err != nil {
				return fmt.Errorf("increment interaction counter: %w", err)
			}
			metrics.EventsConsumed.WithLabelValues(TopicInteractionRecorded).Inc()
			return nil
		},
	)

	return &Router{router: wmRouter}, nil
}

// Serve runs the router until ctx is canceled. It satisfies
// suture.Service.
func (r *Router) Serve(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel closed once the router is consuming.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router.
func (r *Router) Close() error {
	return r.router.Close()
}
