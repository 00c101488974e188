// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/preferolabs/prefero/internal/config"
	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/metrics"
)

// DB wraps the DuckDB connection holding interaction history and the
// content catalog.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// breaker guards read queries on the serving path so a wedged
	// database fails fast instead of piling up request goroutines.
	breaker *gobreaker.CircuitBreaker[any]
}

// New opens (or creates) the database and initializes the schema.
// An empty path opens an in-memory database.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := ""
	if cfg.Path != "" {
		// Ensure the parent directory exists before DuckDB tries to
		// create the file. 0750 per gosec G301.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}

		// Disable auto-install/auto-load to prevent hangs in restricted
		// network environments.
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
			cfg.Path, numThreads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is embedded, so a small pool is enough. A single writer
	// avoids transaction conflicts on the append-only interactions table.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	db := &DB{
		conn:    conn,
		cfg:     cfg,
		breaker: newReadBreaker(),
	}

	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("Database opened")

	return db, nil
}

func newReadBreaker() *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "db-reads",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

func (db *DB) initSchema() error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS interactions_id_seq`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id BIGINT PRIMARY KEY DEFAULT nextval('interactions_id_seq'),
			user_id VARCHAR NOT NULL,
			content_id VARCHAR NOT NULL,
			value DOUBLE NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_user_id ON interactions (user_id)`,
		`CREATE TABLE IF NOT EXISTS content (
			id VARCHAR PRIMARY KEY,
			title VARCHAR NOT NULL,
			category VARCHAR NOT NULL DEFAULT '',
			popularity_score DOUBLE NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// read runs fn through the circuit breaker and records query metrics.
func (db *DB) read(operation, table string, fn func() (any, error)) (any, error) {
	start := time.Now()
	result, err := db.breaker.Execute(fn)
	metrics.RecordDBQuery(operation, table, time.Since(start), err)
	return result, err
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	logging.Debug().Msg("Closing database connection")
	return db.conn.Close()
}
