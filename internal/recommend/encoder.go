// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package recommend

// Encoder maps external string identifiers to dense matrix indices.
// Indices are assigned in first-seen order during fitting. Unknown
// identifiers encode to index 0 so that lookups against a trained model
// degrade to an arbitrary-but-valid row rather than panicking; callers
// that need to distinguish unseen identifiers use Lookup.
//
// Encoder is gob-serializable and immutable after FitEncoder returns.
type Encoder struct {
	// Classes holds identifiers in index order.
	Classes []string

	// ByID maps identifier to index.
	ByID map[string]int
}

// FitEncoder builds an Encoder over the given identifiers.
// Duplicates keep their first-seen index.
func FitEncoder(ids []string) *Encoder {
	e := &Encoder{
		Classes: make([]string, 0, len(ids)),
		ByID:    make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		if _, ok := e.ByID[id]; ok {
			continue
		}
		e.ByID[id] = len(e.Classes)
		e.Classes = append(e.Classes, id)
	}
	return e
}

// Encode returns the index for id, or 0 when id was not seen during fitting.
func (e *Encoder) Encode(id string) int {
	if idx, ok := e.ByID[id]; ok {
		return idx
	}
	return 0
}

// Lookup returns the index for id and whether it was seen during fitting.
func (e *Encoder) Lookup(id string) (int, bool) {
	idx, ok := e.ByID[id]
	return idx, ok
}

// Inverse returns the identifier at idx.
func (e *Encoder) Inverse(idx int) (string, bool) {
	if idx < 0 || idx >= len(e.Classes) {
		return "", false
	}
	return e.Classes[idx], true
}

// Len returns the number of distinct identifiers.
func (e *Encoder) Len() int {
	return len(e.Classes)
}
