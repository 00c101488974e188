// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/preferolabs/prefero/internal/config"
	"github.com/preferolabs/prefero/internal/state"
	"github.com/preferolabs/prefero/internal/trainer"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []trainer.RunOptions
	block   chan struct{}
	started chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, opts trainer.RunOptions) error {
	r.mu.Lock()
	r.calls = append(r.calls, opts)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeVersions struct {
	version string
	err     error
}

func (v *fakeVersions) CurrentVersion() (string, error) {
	return v.version, v.err
}

func newTestScheduler(t *testing.T, cfg config.SchedulerConfig, runner Runner, versions VersionSource) (*Scheduler, *state.Counter, *state.TrainingState) {
	t.Helper()
	db, err := state.Open("")
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	counter := state.NewCounter(db)
	training := state.NewTrainingState(db)
	return New(cfg, runner, versions, counter, training), counter, training
}

func TestShouldRetrainPrecedence(t *testing.T) {
	t.Parallel()

	cfg := config.SchedulerConfig{
		RetrainInterval:      12 * time.Hour,
		InteractionThreshold: 50,
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		version      string
		lastTrained  time.Time
		interactions int64
		want         bool
	}{
		{
			name: "no model always retrains",
			want: true,
		},
		{
			name:         "no model retrains even below threshold",
			interactions: 1,
			want:         true,
		},
		{
			name:        "interval not elapsed blocks threshold",
			version:     "v-abc",
			lastTrained: now.Add(-time.Hour),
			// Above threshold, but the interval check comes first.
			interactions: 500,
			want:         false,
		},
		{
			name:         "interval elapsed and threshold met",
			version:      "v-abc",
			lastTrained:  now.Add(-24 * time.Hour),
			interactions: 50,
			want:         true,
		},
		{
			name:         "interval elapsed but below threshold",
			version:      "v-abc",
			lastTrained:  now.Add(-24 * time.Hour),
			interactions: 49,
			want:         false,
		},
		{
			name:         "no recorded time falls through to threshold",
			version:      "v-abc",
			interactions: 50,
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			s, counter, training := newTestScheduler(t, cfg, &fakeRunner{}, &fakeVersions{version: tt.version})

			if !tt.lastTrained.IsZero() {
				if err := training.SetLastRetrainingTime(ctx, tt.lastTrained); err != nil {
					t.Fatalf("SetLastRetrainingTime() error = %v", err)
				}
			}
			for i := int64(0); i < tt.interactions; i++ {
				if _, err := counter.Increment(ctx); err != nil {
					t.Fatalf("Increment() error = %v", err)
				}
			}

			got, err := s.ShouldRetrain(ctx, now)
			if err != nil {
				t.Fatalf("ShouldRetrain() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ShouldRetrain() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRetrainVersionError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("pointer unreadable")
	s, _, _ := newTestScheduler(t, config.SchedulerConfig{}, &fakeRunner{}, &fakeVersions{err: wantErr})

	_, err := s.ShouldRetrain(context.Background(), time.Now())
	if !errors.Is(err, wantErr) {
		t.Errorf("ShouldRetrain() error = %v, want %v", err, wantErr)
	}
}

func TestInWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"disabled window", 0, 0, 15, true},
		{"inside daytime window", 9, 17, 12, true},
		{"before daytime window", 9, 17, 8, false},
		{"at window end", 9, 17, 17, false},
		{"inside overnight window", 22, 4, 23, true},
		{"after midnight inside overnight window", 22, 4, 2, true},
		{"outside overnight window", 22, 4, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.SchedulerConfig{WindowStartHour: tt.start, WindowEndHour: tt.end}
			s, _, _ := newTestScheduler(t, cfg, &fakeRunner{}, &fakeVersions{})

			now := time.Date(2026, 3, 1, tt.hour, 30, 0, 0, time.UTC)
			if got := s.inWindow(now); got != tt.want {
				t.Errorf("inWindow(hour=%d) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestTickRunsWhenDue(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	// No promoted model, so training is due immediately.
	s, _, _ := newTestScheduler(t, config.SchedulerConfig{RunTimeout: time.Minute}, runner, &fakeVersions{})

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runner.callCount() != 1 {
		t.Errorf("runner called %d times, want 1", runner.callCount())
	}
	if s.InFlight() {
		t.Error("training slot not released after tick")
	}
}

func TestTickSuppressedOutsideWindow(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	cfg := config.SchedulerConfig{WindowStartHour: 2, WindowEndHour: 4, RunTimeout: time.Minute}
	s, _, _ := newTestScheduler(t, cfg, runner, &fakeVersions{})
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runner.callCount() != 0 {
		t.Errorf("runner called %d times outside window, want 0", runner.callCount())
	}
}

func TestTriggerManual(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, _, _ := newTestScheduler(t, config.SchedulerConfig{RunTimeout: time.Minute}, runner, &fakeVersions{version: "v-abc"})

	jobID, err := s.TriggerManual(context.Background(), Overrides{Force: true, Epochs: 3})
	if err != nil {
		t.Fatalf("TriggerManual() error = %v", err)
	}
	if jobID == "" {
		t.Fatal("TriggerManual() returned empty job ID")
	}
	<-runner.started

	// A second trigger while the first is in flight must be rejected.
	if _, err := s.TriggerManual(context.Background(), Overrides{}); !errors.Is(err, ErrRetrainInProgress) {
		t.Errorf("concurrent TriggerManual() error = %v, want ErrRetrainInProgress", err)
	}

	close(runner.block)

	// The slot frees once the run finishes.
	deadline := time.After(2 * time.Second)
	for s.InFlight() {
		select {
		case <-deadline:
			t.Fatal("training slot never released")
		case <-time.After(10 * time.Millisecond):
		}
	}

	runner.mu.Lock()
	opts := runner.calls[0]
	runner.mu.Unlock()
	if !opts.Force || opts.Epochs != 3 || opts.JobID != jobID {
		t.Errorf("runner options = %+v, want force with epochs 3 and job %s", opts, jobID)
	}
}

func TestTryBeginEnd(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, config.SchedulerConfig{}, &fakeRunner{}, &fakeVersions{})

	if !s.TryBegin() {
		t.Fatal("TryBegin() on idle scheduler = false, want true")
	}
	if s.TryBegin() {
		t.Fatal("TryBegin() while in flight = true, want false")
	}
	s.End()
	if !s.TryBegin() {
		t.Fatal("TryBegin() after End() = false, want true")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := config.SchedulerConfig{TickInterval: 10 * time.Millisecond, RunTimeout: time.Minute}
	s, _, _ := newTestScheduler(t, cfg, &fakeRunner{}, &fakeVersions{version: "v-abc"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not stop on cancel")
	}
}
