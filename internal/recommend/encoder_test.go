// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package recommend

import (
	"testing"
)

func TestFitEncoderFirstSeenOrder(t *testing.T) {
	t.Parallel()

	e := FitEncoder([]string{"u3", "u1", "u3", "u2", "u1"})

	if e.Len() != 3 {
		t.Fatalf("expected 3 classes, got %d", e.Len())
	}

	tests := []struct {
		id   string
		want int
	}{
		{"u3", 0},
		{"u1", 1},
		{"u2", 2},
	}
	for _, tt := range tests {
		if got := e.Encode(tt.id); got != tt.want {
			t.Errorf("Encode(%q) = %d, want %d", tt.id, got, tt.want)
		}
	}
}

func TestEncoderUnknownFallsBackToZero(t *testing.T) {
	t.Parallel()

	e := FitEncoder([]string{"a", "b"})

	if got := e.Encode("never-seen"); got != 0 {
		t.Errorf("expected unknown id to encode to 0, got %d", got)
	}

	if _, ok := e.Lookup("never-seen"); ok {
		t.Error("Lookup should report unknown ids as not found")
	}
	if idx, ok := e.Lookup("b"); !ok || idx != 1 {
		t.Errorf("Lookup(b) = (%d, %v), want (1, true)", idx, ok)
	}
}

func TestEncoderInverse(t *testing.T) {
	t.Parallel()

	e := FitEncoder([]string{"x", "y"})

	if id, ok := e.Inverse(1); !ok || id != "y" {
		t.Errorf("Inverse(1) = (%q, %v), want (y, true)", id, ok)
	}
	if _, ok := e.Inverse(-1); ok {
		t.Error("Inverse(-1) should not be found")
	}
	if _, ok := e.Inverse(2); ok {
		t.Error("Inverse beyond range should not be found")
	}
}

func TestEncoderEmpty(t *testing.T) {
	t.Parallel()

	e := FitEncoder(nil)
	if e.Len() != 0 {
		t.Errorf("expected empty encoder, got %d classes", e.Len())
	}
	if got := e.Encode("anything"); got != 0 {
		t.Errorf("expected 0 for any id on empty encoder, got %d", got)
	}
}
