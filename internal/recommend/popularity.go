// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package recommend

import (
	"sort"
)

// RankByPopularity returns the top limit items by descending popularity
// score. The sort is stable, so ties keep encounter order. limit <= 0
// returns all items.
//
// This is the cold-start fallback: it serves users with no history and
// requests made before any model has been trained.
func RankByPopularity(items []ContentItem, limit int) []ScoredItem {
	ranked := make([]ScoredItem, len(items))
	for i, item := range items {
		ranked[i] = ScoredItem{
			ContentID: item.ID,
			Score:     item.PopularityScore,
			Source:    SourcePopularity,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
