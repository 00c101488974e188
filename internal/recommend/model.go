// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// Prediction bounds. Scores outside this range are clipped.
const (
	MinScore = 1.0
	MaxScore = 5.0
)

// ErrNoInteractions is returned when Train is called with no data.
var ErrNoInteractions = errors.New("no interactions found for training")

// FactorModel is a biased matrix factorization model trained with
// mini-batch SGD on explicit feedback.
//
// The predicted preference for user u and content c is
//
//	dot(userEmb[u], contentEmb[c]) + userBias[u] + contentBias[c] + globalBias
//
// clipped to [MinScore, MaxScore]. Untrained models and unknown
// identifiers predict the global bias.
//
// Train replaces all parameters; Predict and Recommend are safe for
// concurrent use with each other but not with Train. Callers that retrain
// in place must serialize externally; Prefero trains a fresh instance per
// run and swaps it after promotion.
type FactorModel struct {
	mu  sync.RWMutex
	cfg Config

	users    *Encoder
	contents *Encoder

	userEmb     [][]float64
	contentEmb  [][]float64
	userBias    []float64
	contentBias []float64
	globalBias  float64

	trained bool
}

// NewFactorModel creates an untrained model with the given hyperparameters.
// Zero-valued fields fall back to DefaultConfig.
func NewFactorModel(cfg Config) *FactorModel {
	return &FactorModel{cfg: cfg.withDefaults()}
}

// Config returns the model's effective hyperparameters.
func (m *FactorModel) Config() Config {
	return m.cfg
}

// Trained reports whether the model has been fit.
func (m *FactorModel) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

// Users returns the fitted user encoder, or nil before training.
func (m *FactorModel) Users() *Encoder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users
}

// Contents returns the fitted content encoder, or nil before training.
func (m *FactorModel) Contents() *Encoder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contents
}

// GlobalBias returns the fitted global bias (mean training value).
func (m *FactorModel) GlobalBias() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalBias
}

// Train fits the model on the given interactions and returns the per-epoch
// mean squared error history. progress may be nil.
//
// Each batch runs a forward pass first: residuals and the epoch loss are
// computed from the parameters as they stood at the start of the batch,
// then updates are applied per sample in batch order. Results are
// deterministic for a fixed seed and input order. Cancellation is checked
// between batches; a cancelled run leaves the model in an undefined state
// and the error is returned.
//
//nolint:gocyclo // training loops are inherently branchy
func (m *FactorModel) Train(ctx context.Context, interactions []Interaction, progress ProgressFunc) ([]float64, error) {
	if len(interactions) == 0 {
		return nil, ErrNoInteractions
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	userIDs := make([]string, len(interactions))
	contentIDs := make([]string, len(interactions))
	for i, inter := range interactions {
		userIDs[i] = inter.UserID
		contentIDs[i] = inter.ContentID
	}
	m.users = FitEncoder(userIDs)
	m.contents = FitEncoder(contentIDs)

	nUsers := m.users.Len()
	nContents := m.contents.Len()
	dim := m.cfg.EmbeddingDim

	// Pre-encode training rows.
	userIdx := make([]int, len(interactions))
	contentIdx := make([]int, len(interactions))
	values := make([]float64, len(interactions))
	var sum float64
	for i, inter := range interactions {
		userIdx[i] = m.users.Encode(inter.UserID)
		contentIdx[i] = m.contents.Encode(inter.ContentID)
		values[i] = inter.Value
		sum += inter.Value
	}
	m.globalBias = sum / float64(len(interactions))

	// Initialize embeddings with small gaussian noise, biases at zero.
	//nolint:gosec // G404: math/rand is fine for model initialization
	rng := rand.New(rand.NewSource(m.cfg.Seed))

	m.userEmb = make([][]float64, nUsers)
	for u := range m.userEmb {
		m.userEmb[u] = make([]float64, dim)
		for f := range m.userEmb[u] {
			m.userEmb[u][f] = rng.NormFloat64() * 0.1
		}
	}
	m.contentEmb = make([][]float64, nContents)
	for c := range m.contentEmb {
		m.contentEmb[c] = make([]float64, dim)
		for f := range m.contentEmb[c] {
			m.contentEmb[c][f] = rng.NormFloat64() * 0.1
		}
	}
	m.userBias = make([]float64, nUsers)
	m.contentBias = make([]float64, nContents)

	lr := m.cfg.LearningRate
	reg := m.cfg.Regularization
	batchSize := m.cfg.BatchSize
	n := len(interactions)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	history := make([]float64, 0, m.cfg.Epochs)
	residuals := make([]float64, batchSize)

	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		var epochLoss float64

		for start := 0; start < n; start += batchSize {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("training cancelled at epoch %d: %w", epoch+1, err)
			}

			end := start + batchSize
			if end > n {
				end = n
			}

			batch := order[start:end]

			// Forward pass: residuals are fixed from the parameters at
			// the start of the batch.
			var batchLoss float64
			for i, row := range batch {
				u := userIdx[row]
				c := contentIdx[row]

				var dot float64
				for f := 0; f < dim; f++ {
					dot += m.userEmb[u][f] * m.contentEmb[c][f]
				}
				pred := dot + m.userBias[u] + m.contentBias[c] + m.globalBias
				residuals[i] = values[row] - pred
				batchLoss += residuals[i] * residuals[i]
			}

			for i, row := range batch {
				u := userIdx[row]
				c := contentIdx[row]
				residual := residuals[i]

				ue := m.userEmb[u]
				ce := m.contentEmb[c]
				for f := 0; f < dim; f++ {
					uf := ue[f]
					cf := ce[f]
					ue[f] += lr * (residual*cf - reg*uf)
					ce[f] += lr * (residual*uf - reg*cf)
				}
				m.userBias[u] += lr * (residual - reg*m.userBias[u])
				m.contentBias[c] += lr * (residual - reg*m.contentBias[c])
			}
			epochLoss += batchLoss
		}

		mse := epochLoss / float64(n)
		history = append(history, mse)
		if progress != nil {
			progress(epoch+1, m.cfg.Epochs, mse)
		}
	}

	m.trained = true
	return history, nil
}

// Predict returns the predicted preference for a user/content pair,
// clipped to [MinScore, MaxScore]. Untrained models and identifiers not
// seen during training predict the global bias (0 for untrained models).
func (m *FactorModel) Predict(userID, contentID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.predictLocked(userID, contentID)
}

func (m *FactorModel) predictLocked(userID, contentID string) float64 {
	if !m.trained {
		return m.globalBias
	}

	u, uok := m.users.Lookup(userID)
	c, cok := m.contents.Lookup(contentID)
	if !uok || !cok {
		return m.globalBias
	}

	var dot float64
	for f := range m.userEmb[u] {
		dot += m.userEmb[u][f] * m.contentEmb[c][f]
	}
	return clip(dot+m.userBias[u]+m.contentBias[c]+m.globalBias, MinScore, MaxScore)
}

// Recommend scores candidates for a user and returns the top limit items
// by descending score, skipping anything in exclude. The sort is stable:
// ties keep candidate order. limit <= 0 returns all scored candidates.
func (m *FactorModel) Recommend(userID string, candidates []string, exclude map[string]struct{}, limit int) []ScoredItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scored := make([]ScoredItem, 0, len(candidates))
	for _, id := range candidates {
		if _, skip := exclude[id]; skip {
			continue
		}
		scored = append(scored, ScoredItem{
			ContentID: id,
			Score:     m.predictLocked(userID, id),
			Source:    SourceModel,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snapshot is the serializable state of a trained model.
type Snapshot struct {
	EmbeddingDim int
	Users        *Encoder
	Contents     *Encoder
	UserEmb      [][]float64
	ContentEmb   [][]float64
	UserBias     []float64
	ContentBias  []float64
	GlobalBias   float64
}

// Snapshot captures the model parameters for persistence.
// Returns an error if the model is untrained.
func (m *FactorModel) Snapshot() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil, errors.New("cannot snapshot untrained model")
	}

	return &Snapshot{
		EmbeddingDim: m.cfg.EmbeddingDim,
		Users:        m.users,
		Contents:     m.contents,
		UserEmb:      m.userEmb,
		ContentEmb:   m.contentEmb,
		UserBias:     m.userBias,
		ContentBias:  m.contentBias,
		GlobalBias:   m.globalBias,
	}, nil
}

// FromSnapshot reconstructs a trained model from persisted state.
func FromSnapshot(snap *Snapshot) (*FactorModel, error) {
	if snap == nil {
		return nil, errors.New("nil snapshot")
	}
	if snap.Users == nil || snap.Contents == nil {
		return nil, errors.New("snapshot missing encoders")
	}
	if len(snap.UserEmb) != snap.Users.Len() || len(snap.UserBias) != snap.Users.Len() {
		return nil, fmt.Errorf("user parameter count %d does not match encoder size %d",
			len(snap.UserEmb), snap.Users.Len())
	}
	if len(snap.ContentEmb) != snap.Contents.Len() || len(snap.ContentBias) != snap.Contents.Len() {
		return nil, fmt.Errorf("content parameter count %d does not match encoder size %d",
			len(snap.ContentEmb), snap.Contents.Len())
	}
	for _, row := range snap.UserEmb {
		if len(row) != snap.EmbeddingDim {
			return nil, fmt.Errorf("user embedding width %d does not match dimension %d",
				len(row), snap.EmbeddingDim)
		}
	}
	for _, row := range snap.ContentEmb {
		if len(row) != snap.EmbeddingDim {
			return nil, fmt.Errorf("content embedding width %d does not match dimension %d",
				len(row), snap.EmbeddingDim)
		}
	}

	cfg := DefaultConfig()
	cfg.EmbeddingDim = snap.EmbeddingDim

	return &FactorModel{
		cfg:         cfg.withDefaults(),
		users:       snap.Users,
		contents:    snap.Contents,
		userEmb:     snap.UserEmb,
		contentEmb:  snap.ContentEmb,
		userBias:    snap.UserBias,
		contentBias: snap.ContentBias,
		globalBias:  snap.GlobalBias,
		trained:     true,
	}, nil
}
