// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package modelstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/preferolabs/prefero/internal/recommend"
)

func trainedModel(t *testing.T, seed int64) *recommend.FactorModel {
	t.Helper()

	var interactions []recommend.Interaction
	for u := 0; u < 5; u++ {
		for c := 0; c < 4; c++ {
			interactions = append(interactions, recommend.Interaction{
				UserID:    fmt.Sprintf("u%d", u),
				ContentID: fmt.Sprintf("c%d", c),
				Value:     float64(1 + (u+c)%5),
			})
		}
	}

	m := recommend.NewFactorModel(recommend.Config{EmbeddingDim: 4, Epochs: 5, BatchSize: 8, Seed: seed})
	if _, err := m.Train(context.Background(), interactions, nil); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	repo, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	model := trainedModel(t, 1)
	versionID, meta, err := repo.Save(context.Background(), model, SaveInfo{
		InteractionCount: 20,
		FinalLoss:        0.25,
		TrainedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if meta.NUsers != 5 || meta.NItems != 4 {
		t.Errorf("unexpected metadata sizes: %+v", meta)
	}
	if meta.InteractionCount != 20 {
		t.Errorf("expected interaction count 20, got %d", meta.InteractionCount)
	}

	loaded, loadedMeta, err := repo.Load(versionID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loadedMeta.VersionID != versionID {
		t.Errorf("expected version %s, got %s", versionID, loadedMeta.VersionID)
	}

	for u := 0; u < 5; u++ {
		for c := 0; c < 4; c++ {
			uid, cid := fmt.Sprintf("u%d", u), fmt.Sprintf("c%d", c)
			if got, want := loaded.Predict(uid, cid), model.Predict(uid, cid); got != want {
				t.Fatalf("Predict(%s, %s): loaded %v, original %v", uid, cid, got, want)
			}
		}
	}
}

func TestCurrentWithoutPromotion(t *testing.T) {
	t.Parallel()

	repo, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	model, meta, err := repo.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if model != nil || meta != nil {
		t.Error("expected (nil, nil) before any promotion")
	}
}

func TestPromoteAndCurrent(t *testing.T) {
	t.Parallel()

	repo, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	v1, _, err := repo.Save(context.Background(), trainedModel(t, 1), SaveInfo{})
	if err != nil {
		t.Fatalf("Save v1 failed: %v", err)
	}
	if err := repo.Promote(v1); err != nil {
		t.Fatalf("Promote v1 failed: %v", err)
	}

	model, meta, err := repo.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if model == nil || meta.VersionID != v1 {
		t.Fatalf("expected current %s, got %+v", v1, meta)
	}

	// Swapping the pointer to a second version must not disturb the first.
	v2, _, err := repo.Save(context.Background(), trainedModel(t, 2), SaveInfo{})
	if err != nil {
		t.Fatalf("Save v2 failed: %v", err)
	}
	if err := repo.Promote(v2); err != nil {
		t.Fatalf("Promote v2 failed: %v", err)
	}

	_, meta, err = repo.Current()
	if err != nil {
		t.Fatalf("Current after swap failed: %v", err)
	}
	if meta.VersionID != v2 {
		t.Errorf("expected current %s after swap, got %s", v2, meta.VersionID)
	}

	if _, _, err := repo.Load(v1); err != nil {
		t.Errorf("superseded version should remain loadable: %v", err)
	}
}

func TestPromoteUnknownVersion(t *testing.T) {
	t.Parallel()

	repo, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := repo.Promote("v-does-not-exist"); err == nil {
		t.Error("expected error promoting unknown version")
	}
}

func TestLoadCorruptArtifacts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "missing encoders",
			corrupt: func(t *testing.T, dir string) {
				t.Helper()
				if err := os.Remove(filepath.Join(dir, encodersFile)); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "missing embeddings",
			corrupt: func(t *testing.T, dir string) {
				t.Helper()
				if err := os.Remove(filepath.Join(dir, embeddingsFile)); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "missing metadata",
			corrupt: func(t *testing.T, dir string) {
				t.Helper()
				if err := os.Remove(filepath.Join(dir, metadataFile)); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "flipped embeddings byte",
			corrupt: func(t *testing.T, dir string) {
				t.Helper()
				path := filepath.Join(dir, embeddingsFile)
				data, err := os.ReadFile(path)
				if err != nil {
					t.Fatal(err)
				}
				data[len(data)-1] ^= 0xFF
				if err := os.WriteFile(path, data, 0o640); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "truncated embeddings",
			corrupt: func(t *testing.T, dir string) {
				t.Helper()
				path := filepath.Join(dir, embeddingsFile)
				data, err := os.ReadFile(path)
				if err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, data[:len(data)/2], 0o640); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "garbage metadata",
			corrupt: func(t *testing.T, dir string) {
				t.Helper()
				if err := os.WriteFile(filepath.Join(dir, metadataFile), []byte("{not json"), 0o640); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo, err := New(t.TempDir())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			versionID, _, err := repo.Save(context.Background(), trainedModel(t, 1), SaveInfo{})
			if err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			tt.corrupt(t, filepath.Join(repo.Root(), versionID))

			_, _, err = repo.Load(versionID)
			if !errors.Is(err, ErrModelCorrupt) {
				t.Errorf("expected ErrModelCorrupt, got %v", err)
			}
		})
	}
}

func TestPruneKeepsPromotedAndNewest(t *testing.T) {
	t.Parallel()

	repo, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 4; i++ {
		id, _, err := repo.Save(context.Background(), trainedModel(t, int64(i+1)), SaveInfo{
			TrainedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
		ids = append(ids, id)
	}

	// Promote the oldest so Prune must skip it.
	if err := repo.Promote(ids[0]); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	if err := repo.Prune(2); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	remaining, err := repo.Versions()
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}

	got := make(map[string]bool, len(remaining))
	for _, m := range remaining {
		got[m.VersionID] = true
	}

	if !got[ids[0]] {
		t.Error("promoted version must survive pruning")
	}
	if !got[ids[3]] || !got[ids[2]] {
		t.Errorf("newest versions should survive, got %v", got)
	}
	if got[ids[1]] {
		t.Error("oldest unpromoted version should have been pruned")
	}
}

func TestVersionsSortedByTrainedAt(t *testing.T) {
	t.Parallel()

	repo, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	base := time.Now().UTC()
	// Save out of chronological order.
	for _, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		if _, _, err := repo.Save(context.Background(), trainedModel(t, 1), SaveInfo{
			TrainedAt: base.Add(offset),
		}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	versions, err := repo.Versions()
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i].TrainedAt.Before(versions[i-1].TrainedAt) {
			t.Errorf("versions not sorted oldest-first")
		}
	}
}
