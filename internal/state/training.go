// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// TrainingState persists the timestamp of the last successful training
// run, which the scheduler's interval check consults.
type TrainingState struct {
	db *badger.DB
}

// NewTrainingState creates a TrainingState over the given database.
func NewTrainingState(db *badger.DB) *TrainingState {
	return &TrainingState{db: db}
}

// LastRetrainingTime returns the last successful training completion time.
// The second return is false when no training has ever completed.
func (t *TrainingState) LastRetrainingTime(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	var ts time.Time
	found := false
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastRetrainKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, perr := time.Parse(time.RFC3339Nano, string(val))
			if perr != nil {
				return fmt.Errorf("corrupt timestamp %q: %w", val, perr)
			}
			ts = parsed
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last retraining time: %w", err)
	}
	return ts, found, nil
}

// SetLastRetrainingTime records a training completion time.
func (t *TrainingState) SetLastRetrainingTime(ctx context.Context, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastRetrainKey), []byte(ts.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("write last retraining time: %w", err)
	}
	return nil
}
