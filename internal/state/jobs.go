// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Training job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSkipped   = "skipped"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ErrJobNotFound is returned when a job ID is unknown or expired.
var ErrJobNotFound = errors.New("training job not found")

// TrainingJob is the durable record of a training pipeline run.
type TrainingJob struct {
	// ID is the job identifier returned to API clients.
	ID string `json:"id"`

	// Status is one of the Job* constants.
	Status string `json:"status"`

	// Progress is the pipeline completion fraction in [0, 1].
	Progress float64 `json:"progress"`

	// Message is a human-readable progress description.
	Message string `json:"message"`

	// Error carries the failure reason for failed jobs.
	Error string `json:"error,omitempty"`

	// StartedAt is when the job record was first written.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is the last status transition time.
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStore persists training job records with a TTL so that finished
// jobs expire rather than accumulating forever.
type JobStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewJobStore creates a JobStore. ttl <= 0 disables expiry.
func NewJobStore(db *badger.DB, ttl time.Duration) *JobStore {
	return &JobStore{db: db, ttl: ttl}
}

// Put writes or replaces a job record, refreshing its TTL.
func (s *JobStore) Put(ctx context.Context, job *TrainingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()
	if job.StartedAt.IsZero() {
		job.StartedAt = job.UpdatedAt
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(jobKeyPrefix+job.ID), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get retrieves a job record by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*TrainingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var job TrainingJob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns all unexpired job records, most recently updated first.
func (s *JobStore) List(ctx context.Context) ([]TrainingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var jobs []TrainingJob
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var job TrainingJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Newest first for API display.
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	return jobs, nil
}
