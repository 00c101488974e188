// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func testDB(t *testing.T) *badger.DB {
	t.Helper()

	db, err := Open("")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestJobStorePutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(testDB(t), time.Hour)

	job := &TrainingJob{ID: "job-1", Status: JobRunning, Progress: 0.5, Message: "training model"}
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != JobRunning || got.Progress != 0.5 {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.StartedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be populated")
	}
}

func TestJobStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore(testDB(t), time.Hour)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreStatusTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(testDB(t), time.Hour)

	job := &TrainingJob{ID: "job-2", Status: JobPending}
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("Put pending failed: %v", err)
	}

	job.Status = JobFailed
	job.Error = "no interactions found for training"
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("Put failed failed: %v", err)
	}

	got, err := store.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != JobFailed || got.Error != "no interactions found for training" {
		t.Errorf("unexpected terminal job: %+v", got)
	}
}

func TestJobStoreList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(testDB(t), time.Hour)

	// Put stamps UpdatedAt, so space the writes out to get distinct
	// timestamps.
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, &TrainingJob{ID: id, Status: JobCompleted}); err != nil {
			t.Fatalf("Put %s failed: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	jobs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for i, want := range []string{"c", "b", "a"} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d].ID = %q, want %q (newest first)", i, jobs[i].ID, want)
		}
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].UpdatedAt.After(jobs[i-1].UpdatedAt) {
			t.Error("expected jobs sorted newest first")
		}
	}
}

func TestCounterIncrementGetReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counter := NewCounter(testDB(t))

	if got, err := counter.Get(ctx); err != nil || got != 0 {
		t.Fatalf("fresh counter: got (%d, %v), want (0, nil)", got, err)
	}

	for i := int64(1); i <= 3; i++ {
		got, err := counter.Increment(ctx)
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if got != i {
			t.Errorf("Increment returned %d, want %d", got, i)
		}
	}

	if err := counter.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if got, err := counter.Get(ctx); err != nil || got != 0 {
		t.Errorf("after reset: got (%d, %v), want (0, nil)", got, err)
	}
}

func TestCounterConcurrentIncrements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counter := NewCounter(testDB(t))

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := counter.Increment(ctx); err != nil {
					t.Errorf("Increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := counter.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != workers*perWorker {
		t.Errorf("expected %d, got %d", workers*perWorker, got)
	}
}

func TestTrainingStateRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := NewTrainingState(testDB(t))

	if _, found, err := ts.LastRetrainingTime(ctx); err != nil || found {
		t.Fatalf("fresh state: found=%v err=%v, want false/nil", found, err)
	}

	when := time.Date(2026, 8, 30, 3, 15, 0, 0, time.UTC)
	if err := ts.SetLastRetrainingTime(ctx, when); err != nil {
		t.Fatalf("SetLastRetrainingTime failed: %v", err)
	}

	got, found, err := ts.LastRetrainingTime(ctx)
	if err != nil || !found {
		t.Fatalf("LastRetrainingTime: found=%v err=%v", found, err)
	}
	if !got.Equal(when) {
		t.Errorf("expected %v, got %v", when, got)
	}
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewCounter(db).Increment(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Increment: expected context.Canceled, got %v", err)
	}
	if err := NewJobStore(db, 0).Put(ctx, &TrainingJob{ID: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Put: expected context.Canceled, got %v", err)
	}
}
