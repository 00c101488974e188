// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package scheduler decides when the model is retrained. A background
// loop evaluates the retraining policy on a short tick; the API can
// also trigger a run manually. At most one run is ever in flight.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/preferolabs/prefero/internal/config"
	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/metrics"
	"github.com/preferolabs/prefero/internal/state"
	"github.com/preferolabs/prefero/internal/trainer"
)

// ErrRetrainInProgress is returned when a trigger arrives while a
// training run is already in flight.
var ErrRetrainInProgress = errors.New("a training run is already in progress")

// Decision reasons recorded in metrics.
const (
	reasonNoModel     = "no_model"
	reasonThreshold   = "interaction_threshold"
	reasonTooSoon     = "interval_not_elapsed"
	reasonBelowCount  = "below_threshold"
	reasonOutOfWindow = "outside_window"
)

// Runner executes a training pipeline run.
type Runner interface {
	Run(ctx context.Context, opts trainer.RunOptions) error
}

// VersionSource reports the currently promoted model version.
type VersionSource interface {
	CurrentVersion() (string, error)
}

// Overrides are the manual-trigger knobs exposed through the API.
type Overrides struct {
	Force     bool
	Epochs    int
	BatchSize int
}

// Scheduler owns the retraining policy and the mutual exclusion
// between automatic and manual runs.
type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   Runner
	versions VersionSource
	counter  *state.Counter
	training *state.TrainingState
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight bool
}

// New creates a Scheduler.
func New(cfg config.SchedulerConfig, runner Runner, versions VersionSource, counter *state.Counter, training *state.TrainingState) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		versions: versions,
		counter:  counter,
		training: training,
		logger:   logging.WithComponent("scheduler"),
		now:      time.Now,
	}
}

// TryBegin attempts to claim the single training slot. It returns false
// when a run is already in flight.
func (s *Scheduler) TryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

// End releases the training slot.
func (s *Scheduler) End() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// InFlight reports whether a training run is currently executing.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// ShouldRetrain evaluates the automatic retraining policy. Check order:
// a missing model always retrains, then the elapsed interval gates the
// interaction threshold.
func (s *Scheduler) ShouldRetrain(ctx context.Context, now time.Time) (bool, error) {
	version, err := s.versions.CurrentVersion()
	if err != nil {
		return false, err
	}
	if version == "" {
		metrics.SchedulerDecisions.WithLabelValues(reasonNoModel).Inc()
		return true, nil
	}

	last, ok, err := s.training.LastRetrainingTime(ctx)
	if err != nil {
		return false, err
	}
	if ok && now.Sub(last) < s.cfg.RetrainInterval {
		metrics.SchedulerDecisions.WithLabelValues(reasonTooSoon).Inc()
		return false, nil
	}

	count, err := s.counter.Get(ctx)
	if err != nil {
		return false, err
	}
	if count >= s.cfg.InteractionThreshold {
		metrics.SchedulerDecisions.WithLabelValues(reasonThreshold).Inc()
		return true, nil
	}
	metrics.SchedulerDecisions.WithLabelValues(reasonBelowCount).Inc()
	return false, nil
}

// inWindow reports whether now falls inside the configured daily
// retraining window. Equal start and end hours disable the window.
// The window only constrains automatic runs.
func (s *Scheduler) inWindow(now time.Time) bool {
	start, end := s.cfg.WindowStartHour, s.cfg.WindowEndHour
	if start == end {
		return true
	}
	h := now.Hour()
	if start < end {
		return h >= start && h < end
	}
	// Window wraps midnight, e.g. 22 to 4.
	return h >= start || h < end
}

// Serve runs the scheduler loop until ctx is canceled. It satisfies
// suture.Service. Evaluation errors are logged and backed off, never
// fatal.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("tick_interval", s.cfg.TickInterval).
		Dur("retrain_interval", s.cfg.RetrainInterval).
		Int64("interaction_threshold", s.cfg.InteractionThreshold).
		Msg("Scheduler starting")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			metrics.SchedulerTicks.Inc()
			if err := s.tick(ctx); err != nil {
				s.logger.Error().Err(err).Dur("backoff", s.cfg.ErrorBackoff).Msg("Scheduler tick failed, backing off")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.cfg.ErrorBackoff):
				}
			}
		}
	}
}

// tick evaluates the policy once and runs training when due.
func (s *Scheduler) tick(ctx context.Context) error {
	if s.InFlight() {
		s.logger.Debug().Msg("Training already in flight, skipping tick")
		return nil
	}

	now := s.now()
	if !s.inWindow(now) {
		metrics.SchedulerDecisions.WithLabelValues(reasonOutOfWindow).Inc()
		return nil
	}

	due, err := s.ShouldRetrain(ctx, now)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	if !s.TryBegin() {
		return nil
	}
	defer s.End()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	// Pipeline failures are recorded in the job and logged by the
	// trainer; the loop keeps ticking either way.
	if err := s.runner.Run(runCtx, trainer.RunOptions{JobID: uuid.NewString()}); err != nil {
		s.logger.Warn().Err(err).Msg("Automatic training run failed")
	}
	return nil
}

// TriggerManual starts a training run on demand and returns the job ID
// for status polling. The run proceeds in the background; a concurrent
// trigger fails with ErrRetrainInProgress.
func (s *Scheduler) TriggerManual(ctx context.Context, ov Overrides) (string, error) {
	if !s.TryBegin() {
		return "", ErrRetrainInProgress
	}

	jobID := uuid.NewString()
	s.logger.Info().Str("job_id", jobID).Bool("force", ov.Force).Msg("Manual training triggered")

	go func() {
		defer s.End()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RunTimeout)
		defer cancel()

		if err := s.runner.Run(runCtx, trainer.RunOptions{
			Force:     ov.Force,
			Epochs:    ov.Epochs,
			BatchSize: ov.BatchSize,
			JobID:     jobID,
		}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Manual training run failed")
		}
	}()

	return jobID, nil
}
