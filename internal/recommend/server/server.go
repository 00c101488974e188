// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package server serves ranked recommendations against the currently
// promoted model, falling back to popularity ranking whenever the
// model cannot speak for a user.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/metrics"
	"github.com/preferolabs/prefero/internal/modelstore"
	"github.com/preferolabs/prefero/internal/recommend"
)

// DataSource provides recommendation candidates and per-user history.
type DataSource interface {
	ListContent(ctx context.Context) ([]recommend.ContentItem, error)
	UserHistory(ctx context.Context, userID string) ([]string, error)
}

// ModelSource resolves the currently promoted model.
type ModelSource interface {
	Current() (*recommend.FactorModel, *modelstore.Metadata, error)
}

// Recommender holds the loaded model behind an RWMutex so serving
// never blocks on a reload.
type Recommender struct {
	data   DataSource
	models ModelSource
	logger zerolog.Logger

	mu      sync.RWMutex
	model   *recommend.FactorModel
	version string
}

// New creates a Recommender. The model is loaded lazily on first use
// and refreshed via Reload after each successful training run.
func New(data DataSource, models ModelSource) *Recommender {
	return &Recommender{
		data:   data,
		models: models,
		logger: logging.WithComponent("recommender"),
	}
}

// Reload swaps in the currently promoted model. A corrupt or missing
// model leaves the previously loaded one serving.
func (r *Recommender) Reload() error {
	model, meta, err := r.models.Current()
	if err != nil {
		return fmt.Errorf("loading current model: %w", err)
	}
	if model == nil {
		r.logger.Debug().Msg("No promoted model to load")
		return nil
	}

	r.mu.Lock()
	r.model = model
	r.version = meta.VersionID
	r.mu.Unlock()

	r.logger.Info().
		Str("version", meta.VersionID).
		Int("users", meta.NUsers).
		Int("items", meta.NItems).
		Msg("Model loaded")
	return nil
}

// ModelVersion returns the loaded model's version ID, or "" when
// serving from popularity only.
func (r *Recommender) ModelVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// current returns the loaded model, attempting a lazy load first.
func (r *Recommender) current() *recommend.FactorModel {
	r.mu.RLock()
	model := r.model
	r.mu.RUnlock()
	if model != nil {
		return model
	}

	if err := r.Reload(); err != nil {
		r.logger.Warn().Err(err).Msg("Lazy model load failed, serving popularity fallback")
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

// GetRecommendations returns up to limit ranked items for a user.
// filter restricts candidates to a content category when non-empty.
// Unknown users, an absent model, or an unreadable interaction history
// all degrade to popularity ranking rather than failing.
func (r *Recommender) GetRecommendations(ctx context.Context, userID string, limit int, filter string) ([]recommend.ScoredItem, error) {
	start := time.Now()
	defer func() {
		metrics.RecommendationLatency.Observe(time.Since(start).Seconds())
	}()

	candidates, err := r.data.ListContent(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	if filter != "" {
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.Category == filter {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	model := r.current()
	if model == nil {
		return r.popularity(candidates, limit), nil
	}
	if _, known := model.Users().Lookup(userID); !known {
		return r.popularity(candidates, limit), nil
	}

	history, err := r.data.UserHistory(ctx, userID)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("History unavailable, serving popularity fallback")
		return r.popularity(candidates, limit), nil
	}
	if len(history) == 0 {
		return r.popularity(candidates, limit), nil
	}

	exclude := make(map[string]struct{}, len(history))
	for _, id := range history {
		exclude[id] = struct{}{}
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	metrics.RecommendationRequests.WithLabelValues(recommend.SourceModel).Inc()
	return model.Recommend(userID, ids, exclude, limit), nil
}

func (r *Recommender) popularity(candidates []recommend.ContentItem, limit int) []recommend.ScoredItem {
	metrics.RecommendationRequests.WithLabelValues(recommend.SourcePopularity).Inc()
	return recommend.RankByPopularity(candidates, limit)
}
