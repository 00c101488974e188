// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package recommend

import (
	"testing"
)

func TestRankByPopularity(t *testing.T) {
	t.Parallel()

	items := []ContentItem{
		{ID: "c1", PopularityScore: 0.5},
		{ID: "c2", PopularityScore: 0.9},
		{ID: "c3", PopularityScore: 0.7},
	}

	got := RankByPopularity(items, 0)
	wantOrder := []string{"c2", "c3", "c1"}
	for i, want := range wantOrder {
		if got[i].ContentID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].ContentID, want)
		}
		if got[i].Source != SourcePopularity {
			t.Errorf("expected popularity source, got %q", got[i].Source)
		}
	}
}

func TestRankByPopularityStableTies(t *testing.T) {
	t.Parallel()

	items := []ContentItem{
		{ID: "first", PopularityScore: 0.5},
		{ID: "second", PopularityScore: 0.5},
		{ID: "third", PopularityScore: 0.5},
	}

	got := RankByPopularity(items, 0)
	wantOrder := []string{"first", "second", "third"}
	for i, want := range wantOrder {
		if got[i].ContentID != want {
			t.Errorf("tie order not stable at %d: got %s, want %s", i, got[i].ContentID, want)
		}
	}
}

func TestRankByPopularityLimit(t *testing.T) {
	t.Parallel()

	items := []ContentItem{
		{ID: "c1", PopularityScore: 0.1},
		{ID: "c2", PopularityScore: 0.2},
		{ID: "c3", PopularityScore: 0.3},
	}

	if got := RankByPopularity(items, 2); len(got) != 2 {
		t.Errorf("expected 2 results, got %d", len(got))
	}
	if got := RankByPopularity(items, 10); len(got) != 3 {
		t.Errorf("limit above length should return all, got %d", len(got))
	}
	if got := RankByPopularity(nil, 5); len(got) != 0 {
		t.Errorf("empty catalog should return empty, got %d", len(got))
	}
}
