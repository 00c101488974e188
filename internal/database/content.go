// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package database

import (
	"context"
	"fmt"

	"github.com/preferolabs/prefero/internal/recommend"
)

// UpsertContent inserts or replaces a catalog entry.
func (db *DB) UpsertContent(ctx context.Context, item recommend.ContentItem) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO content (id, title, category, popularity_score) VALUES (?, ?, ?, ?)`,
		item.ID, item.Title, item.Category, item.PopularityScore)
	if err != nil {
		return fmt.Errorf("failed to upsert content %s: %w", item.ID, err)
	}
	return nil
}

// ListContent returns the full content catalog. These are the
// recommendation candidates.
func (db *DB) ListContent(ctx context.Context) ([]recommend.ContentItem, error) {
	result, err := db.read("select", "content", func() (any, error) {
		rows, err := db.conn.QueryContext(ctx,
			`SELECT id, title, category, popularity_score FROM content ORDER BY id`)
		if err != nil {
			return nil, fmt.Errorf("failed to query content: %w", err)
		}
		defer rows.Close() //nolint:errcheck

		var items []recommend.ContentItem
		for rows.Next() {
			var it recommend.ContentItem
			if err := rows.Scan(&it.ID, &it.Title, &it.Category, &it.PopularityScore); err != nil {
				return nil, fmt.Errorf("failed to scan content item: %w", err)
			}
			items = append(items, it)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("content rows: %w", err)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]recommend.ContentItem), nil
}
