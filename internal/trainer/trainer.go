// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package trainer runs the end-to-end training pipeline: load recent
// interactions, fit the factorization model, persist a new version and
// promote it. Every run is tracked as a durable job record so API
// clients can poll progress, and failures are contained in the job
// rather than escaping to the caller's goroutine.
package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/preferolabs/prefero/internal/config"
	"github.com/preferolabs/prefero/internal/database"
	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/metrics"
	"github.com/preferolabs/prefero/internal/modelstore"
	"github.com/preferolabs/prefero/internal/recommend"
	"github.com/preferolabs/prefero/internal/state"
)

// Progress fractions for the pipeline phases. Loading owns the first
// tenth, training the middle, persistence the rest.
const (
	progressLoaded  = 0.10
	progressTrained = 0.90
	progressDone    = 1.0
)

// Broadcaster receives job updates for live progress streaming. A nil
// Broadcaster is valid and disables streaming.
type Broadcaster interface {
	BroadcastJob(job *state.TrainingJob)
}

// RunOptions controls a single pipeline run. Zero Epochs or BatchSize
// fall back to the configured model defaults.
type RunOptions struct {
	// Force bypasses the model freshness check.
	Force bool

	Epochs    int
	BatchSize int

	// JobID identifies the job record. Empty generates one.
	JobID string
}

// Trainer wires the interaction store, model repository and durable
// state into the training pipeline.
type Trainer struct {
	db       *database.DB
	repo     *modelstore.Repository
	jobs     *state.JobStore
	training *state.TrainingState
	counter  *state.Counter
	cfg      config.ModelConfig
	hub      Broadcaster
	logger   zerolog.Logger

	// onSuccess runs after a new version is promoted, with the version
	// ID. The recommendation server hooks its reload here.
	onSuccess func(versionID string)

	now func() time.Time
}

// New creates a Trainer. hub and onSuccess may be nil.
func New(db *database.DB, repo *modelstore.Repository, jobs *state.JobStore, training *state.TrainingState, counter *state.Counter, cfg config.ModelConfig, hub Broadcaster) *Trainer {
	return &Trainer{
		db:       db,
		repo:     repo,
		jobs:     jobs,
		training: training,
		counter:  counter,
		cfg:      cfg,
		hub:      hub,
		logger:   logging.WithComponent("trainer"),
		now:      time.Now,
	}
}

// OnSuccess registers a callback invoked after each successful
// promotion.
func (t *Trainer) OnSuccess(fn func(versionID string)) {
	t.onSuccess = fn
}

// Run executes the pipeline. The returned error mirrors what was
// recorded in the job; callers log it but do not need to act on it.
func (t *Trainer) Run(ctx context.Context, opts RunOptions) error {
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	job := &state.TrainingJob{
		ID:      jobID,
		Status:  state.JobRunning,
		Message: "checking model freshness",
	}
	t.putJob(ctx, job)

	start := t.now()
	logger := t.logger.With().Str("job_id", jobID).Logger()
	logger.Info().Bool("force", opts.Force).Msg("Training run starting")

	if !opts.Force {
		skip, reason, err := t.isFresh(ctx, start)
		if err != nil {
			return t.fail(ctx, job, start, fmt.Errorf("freshness check: %w", err))
		}
		if skip {
			job.Status = state.JobSkipped
			job.Progress = progressDone
			job.Message = reason
			t.putJob(ctx, job)
			metrics.RecordTrainingRun(state.JobSkipped, t.now().Sub(start))
			logger.Info().Str("reason", reason).Msg("Training run skipped")
			return nil
		}
	}

	job.Message = "loading interactions"
	t.putJob(ctx, job)

	interactions, err := t.db.QueryRecent(ctx, t.cfg.MaxInteractions)
	if err != nil {
		return t.fail(ctx, job, start, fmt.Errorf("loading interactions: %w", err))
	}
	if len(interactions) == 0 {
		return t.fail(ctx, job, start, recommend.ErrNoInteractions)
	}

	job.Progress = progressLoaded
	job.Message = fmt.Sprintf("training on %d interactions", len(interactions))
	t.putJob(ctx, job)
	metrics.TrainingInteractions.Set(float64(len(interactions)))

	modelCfg := recommend.Config{
		EmbeddingDim:   t.cfg.EmbeddingDim,
		LearningRate:   t.cfg.LearningRate,
		Regularization: t.cfg.Regularization,
		Epochs:         t.cfg.Epochs,
		BatchSize:      t.cfg.BatchSize,
		Seed:           t.cfg.Seed,
	}
	if opts.Epochs > 0 {
		modelCfg.Epochs = opts.Epochs
	}
	if opts.BatchSize > 0 {
		modelCfg.BatchSize = opts.BatchSize
	}

	model := recommend.NewFactorModel(modelCfg)
	losses, err := model.Train(ctx, interactions, func(epoch, totalEpochs int, loss float64) {
		frac := float64(epoch) / float64(totalEpochs)
		job.Progress = progressLoaded + (progressTrained-progressLoaded)*frac
		job.Message = fmt.Sprintf("epoch %d/%d, loss %.4f", epoch, totalEpochs, loss)
		t.putJob(ctx, job)
		metrics.TrainingLoss.Set(loss)
		logger.Debug().Int("epoch", epoch).Int("total_epochs", totalEpochs).Float64("loss", loss).Msg("Epoch complete")
	})
	if err != nil {
		return t.fail(ctx, job, start, fmt.Errorf("training: %w", err))
	}

	job.Progress = progressTrained
	job.Message = "saving model"
	t.putJob(ctx, job)

	finalLoss := 0.0
	if len(losses) > 0 {
		finalLoss = losses[len(losses)-1]
	}
	versionID, meta, err := t.repo.Save(ctx, model, modelstore.SaveInfo{
		InteractionCount: len(interactions),
		FinalLoss:        finalLoss,
		TrainedAt:        t.now().UTC(),
	})
	if err != nil {
		return t.fail(ctx, job, start, fmt.Errorf("saving model: %w", err))
	}
	if err := t.repo.Promote(versionID); err != nil {
		return t.fail(ctx, job, start, fmt.Errorf("promoting model: %w", err))
	}

	if err := t.training.SetLastRetrainingTime(ctx, t.now().UTC()); err != nil {
		logger.Error().Err(err).Msg("Failed to record retraining time")
	}
	if err := t.counter.Reset(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to reset interaction counter")
	}
	if versions, err := t.repo.Versions(); err == nil {
		metrics.ModelVersionsStored.Set(float64(len(versions)))
	}

	job.Status = state.JobCompleted
	job.Progress = progressDone
	job.Message = fmt.Sprintf("model %s promoted", versionID)
	t.putJob(ctx, job)
	metrics.RecordTrainingRun(state.JobCompleted, t.now().Sub(start))

	logger.Info().
		Str("version_id", versionID).
		Int("interactions", meta.InteractionCount).
		Float64("final_loss", finalLoss).
		Dur("duration", t.now().Sub(start)).
		Msg("Training run completed")

	if t.onSuccess != nil {
		t.onSuccess(versionID)
	}
	return nil
}

// isFresh reports whether the promoted model is recent enough to skip
// this run.
func (t *Trainer) isFresh(ctx context.Context, now time.Time) (bool, string, error) {
	last, ok, err := t.training.LastRetrainingTime(ctx)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "", nil
	}
	age := now.Sub(last)
	if age < t.cfg.FreshnessWindow {
		return true, fmt.Sprintf("model is fresh (trained %s ago)", age.Round(time.Second)), nil
	}
	return false, "", nil
}

func (t *Trainer) fail(ctx context.Context, job *state.TrainingJob, start time.Time, err error) error {
	job.Status = state.JobFailed
	job.Message = "training failed"
	job.Error = err.Error()
	// The failure may be the context itself being canceled, so the
	// final record is written with cancelation stripped.
	t.putJob(context.WithoutCancel(ctx), job)
	metrics.RecordTrainingRun(state.JobFailed, t.now().Sub(start))
	t.logger.Error().Err(err).Str("job_id", job.ID).Msg("Training run failed")
	return err
}

// putJob persists the record and pushes it to the websocket hub. Job
// store failures are logged and swallowed so bookkeeping never aborts
// a run.
func (t *Trainer) putJob(ctx context.Context, job *state.TrainingJob) {
	if err := t.jobs.Put(ctx, job); err != nil {
		t.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job record")
	}
	if t.hub != nil {
		snapshot := *job
		t.hub.BroadcastJob(&snapshot)
	}
}
