// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/preferolabs/prefero/internal/metrics"
)

// Counter tracks the number of interactions recorded since the last
// successful training run. Increments are at-least-once: a crash between
// persisting an interaction and incrementing can lose a count, and a
// retried event can double-count, both of which only shift when the next
// retraining triggers.
type Counter struct {
	db *badger.DB

	// mu serializes read-modify-write cycles so concurrent increments
	// cannot hit Badger transaction conflicts.
	mu sync.Mutex
}

// NewCounter creates a Counter over the given database.
func NewCounter(db *badger.DB) *Counter {
	return &Counter{db: db}
}

// Increment adds one to the counter and returns the new value.
func (c *Counter) Increment(ctx context.Context) (int64, error) {
	return c.add(ctx, 1)
}

// Reset sets the counter to zero.
func (c *Counter) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(counterKey), []byte("0"))
	})
	if err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}
	metrics.InteractionCounter.Set(0)
	return nil
}

// Get returns the current counter value. A missing key reads as zero.
func (c *Counter) Get(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var value int64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(counterKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, perr := strconv.ParseInt(string(val), 10, 64)
			if perr != nil {
				return fmt.Errorf("corrupt counter value %q: %w", val, perr)
			}
			value = parsed
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return value, nil
}

func (c *Counter) add(ctx context.Context, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var next int64
	err := c.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get([]byte(counterKey))
		if err == nil {
			verr := item.Value(func(val []byte) error {
				parsed, perr := strconv.ParseInt(string(val), 10, 64)
				if perr != nil {
					return fmt.Errorf("corrupt counter value %q: %w", val, perr)
				}
				current = parsed
				return nil
			})
			if verr != nil {
				return verr
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		next = current + delta
		return txn.Set([]byte(counterKey), []byte(strconv.FormatInt(next, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}

	metrics.InteractionCounter.Set(float64(next))
	return next, nil
}
