// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package events

import (
	"context"
	"fmt"

	"github.com/preferolabs/prefero/internal/metrics"
)

// DirectPipeline applies interactions synchronously, for deployments
// that run without a broker. It satisfies the same publish contract as
// the NATS-backed Publisher.
type DirectPipeline struct {
	store   InteractionStore
	counter InteractionCounter
}

// NewDirectPipeline wires the store and counter for synchronous writes.
func NewDirectPipeline(store InteractionStore, counter InteractionCounter) *DirectPipeline {
	return &DirectPipeline{store: store, counter: counter}
}

// PublishInteraction persists the interaction and advances the counter
// in the caller's goroutine.
func (p *DirectPipeline) PublishInteraction(ctx context.Context, e InteractionRecorded) error {
	if err := p.store.RecordInteraction(ctx, e.Interaction()); err != nil {
		return fmt.Errorf("persist interaction: %w", err)
	}
	if _, err := p.counter.Increment(ctx); err != nil {
		return fmt.Errorf("increment interaction counter: %w", err)
	}
	metrics.EventsConsumed.WithLabelValues(TopicInteractionRecorded).Inc()
	return nil
}
