// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package recommend implements the matrix factorization model that powers
// Prefero's personalized recommendations, along with the ID encoders and
// the popularity fallback used for cold-start users.
package recommend

import (
	"time"
)

// Interaction is a single explicit feedback event: a user assigned a
// preference value to a content item.
type Interaction struct {
	// UserID is the external user identifier.
	UserID string `json:"user_id"`

	// ContentID is the external content identifier.
	ContentID string `json:"content_id"`

	// Value is the preference strength, expected in [1, 5].
	Value float64 `json:"value"`

	// Timestamp is when the interaction occurred.
	Timestamp time.Time `json:"timestamp"`
}

// ContentItem is a catalog entry eligible for recommendation.
type ContentItem struct {
	// ID is the external content identifier.
	ID string `json:"id"`

	// Title is the display title.
	Title string `json:"title"`

	// Category is an optional content category.
	Category string `json:"category,omitempty"`

	// PopularityScore ranks items for the cold-start fallback.
	// Higher is more popular.
	PopularityScore float64 `json:"popularity_score"`
}

// ScoredItem is a recommendation candidate with its predicted score.
type ScoredItem struct {
	// ContentID is the external content identifier.
	ContentID string `json:"content_id"`

	// Score is the predicted preference, clipped to [1, 5] for model
	// predictions, or the popularity score for fallback results.
	Score float64 `json:"score"`

	// Source records whether the score came from the model or the
	// popularity fallback.
	Source string `json:"source"`
}

// Recommendation sources.
const (
	SourceModel      = "model"
	SourcePopularity = "popularity"
)

// ProgressFunc receives per-epoch training progress. epoch is 1-based.
type ProgressFunc func(epoch, totalEpochs int, loss float64)

// Config contains matrix factorization hyperparameters.
type Config struct {
	// EmbeddingDim is the latent factor dimensionality.
	// Default: 50.
	EmbeddingDim int

	// LearningRate is the SGD step size.
	// Default: 0.005.
	LearningRate float64

	// Regularization is the L2 penalty on embeddings and biases.
	// Default: 0.02.
	Regularization float64

	// Epochs is the number of full passes over the training data.
	// Default: 20.
	Epochs int

	// BatchSize is the mini-batch size. Updates are applied per sample;
	// the batch granularity controls loss accumulation and cancellation
	// checks. Default: 1000.
	BatchSize int

	// Seed seeds embedding initialization and epoch shuffling.
	// If 0, a default seed is used.
	Seed int64
}

// DefaultConfig returns default matrix factorization hyperparameters.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim:   50,
		LearningRate:   0.005,
		Regularization: 0.02,
		Epochs:         20,
		BatchSize:      1000,
		Seed:           42,
	}
}

// withDefaults fills zero values with defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = def.EmbeddingDim
	}
	if c.LearningRate <= 0 {
		c.LearningRate = def.LearningRate
	}
	if c.Regularization < 0 {
		c.Regularization = def.Regularization
	}
	if c.Epochs <= 0 {
		c.Epochs = def.Epochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Seed == 0 {
		c.Seed = def.Seed
	}
	return c
}
