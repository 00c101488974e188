// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package state provides durable runtime state backed by BadgerDB:
// training job records (with TTL), the interaction counter consulted by
// the retraining scheduler, and the last-retraining timestamp. All state
// survives restarts.
package state

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/preferolabs/prefero/internal/logging"
)

// Key prefixes for BadgerDB storage.
const (
	jobKeyPrefix = "job:"

	counterKey     = "counter:interactions"
	lastRetrainKey = "training:last_retraining_time"
)

// Open opens (or creates) the Badger database at dir. An empty dir opens
// an in-memory database, which is used by tests.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger logs through its own interface; route it to zerolog.
	opts = opts.WithLogger(badgerLogger{logging.WithComponent("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}
