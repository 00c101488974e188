// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/preferolabs/prefero/internal/metrics"
	"github.com/preferolabs/prefero/internal/recommend"
)

// RecordInteraction appends a single interaction event.
func (db *DB) RecordInteraction(ctx context.Context, in recommend.Interaction) error {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO interactions (user_id, content_id, value, created_at) VALUES (?, ?, ?, ?)`,
		in.UserID, in.ContentID, in.Value, ts)
	metrics.RecordDBQuery("insert", "interactions", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// QueryRecent returns up to limit of the most recent interactions,
// newest first. Training bounds its working set with this.
func (db *DB) QueryRecent(ctx context.Context, limit int) ([]recommend.Interaction, error) {
	result, err := db.read("select", "interactions", func() (any, error) {
		rows, err := db.conn.QueryContext(ctx,
			`SELECT user_id, content_id, value, created_at
			 FROM interactions
			 ORDER BY created_at DESC, id DESC
			 LIMIT ?`, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to query interactions: %w", err)
		}
		defer rows.Close() //nolint:errcheck

		var out []recommend.Interaction
		for rows.Next() {
			var in recommend.Interaction
			if err := rows.Scan(&in.UserID, &in.ContentID, &in.Value, &in.Timestamp); err != nil {
				return nil, fmt.Errorf("failed to scan interaction: %w", err)
			}
			out = append(out, in)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("interaction rows: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]recommend.Interaction), nil
}

// UserHistory returns the distinct content IDs a user has interacted
// with. Serving excludes these from recommendations.
func (db *DB) UserHistory(ctx context.Context, userID string) ([]string, error) {
	result, err := db.read("select", "interactions", func() (any, error) {
		rows, err := db.conn.QueryContext(ctx,
			`SELECT DISTINCT content_id FROM interactions WHERE user_id = ?`, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to query user history: %w", err)
		}
		defer rows.Close() //nolint:errcheck

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("failed to scan content id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("history rows: %w", err)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// CountInteractions returns the total number of stored interactions.
func (db *DB) CountInteractions(ctx context.Context) (int64, error) {
	start := time.Now()
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`).Scan(&n)
	metrics.RecordDBQuery("count", "interactions", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return n, nil
}
