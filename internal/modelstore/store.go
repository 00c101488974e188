// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package modelstore persists trained factorization models as immutable
// versioned directories and maintains an atomically swapped "current"
// pointer to the promoted version.
//
// # Layout
//
//	<root>/
//	    v-<uuid>/
//	        encoders.gob     user and content encoders
//	        embeddings.bin   packed little-endian float64 parameters
//	        metadata.json    dimensions, global bias, checksum, timestamps
//	    current -> v-<uuid>  symlink to the promoted version
//
// Versions are never modified after Save returns. Promote replaces the
// pointer with a write-new-then-rename swap, so readers always resolve
// either the old or the new version, never a missing one. Superseded
// versions are retained until Prune is called explicitly.
package modelstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/metrics"
	"github.com/preferolabs/prefero/internal/recommend"
)

// Artifact filenames within a version directory.
const (
	encodersFile   = "encoders.gob"
	embeddingsFile = "embeddings.bin"
	metadataFile   = "metadata.json"

	// currentLink is the promoted-version pointer.
	currentLink = "current"

	versionPrefix = "v-"
)

// ErrModelCorrupt wraps any load failure caused by missing, unparsable,
// or inconsistent artifacts.
var ErrModelCorrupt = errors.New("model artifacts corrupt")

// Metadata describes a stored model version.
type Metadata struct {
	// VersionID is the version directory name.
	VersionID string `json:"version_id"`

	// EmbeddingDim is the latent factor dimensionality.
	EmbeddingDim int `json:"embedding_dim"`

	// NUsers and NItems are encoder sizes.
	NUsers int `json:"n_users"`
	NItems int `json:"n_items"`

	// GlobalBias is the mean training value.
	GlobalBias float64 `json:"global_bias"`

	// Checksum is the SHA-256 of embeddings.bin.
	Checksum string `json:"checksum"`

	// InteractionCount is how many interactions trained this version.
	InteractionCount int `json:"interaction_count"`

	// FinalLoss is the last epoch's mean squared error.
	FinalLoss float64 `json:"final_loss"`

	// TrainedAt is when training completed.
	TrainedAt time.Time `json:"trained_at"`
}

// SaveInfo carries training run details recorded in metadata.
type SaveInfo struct {
	InteractionCount int
	FinalLoss        float64
	TrainedAt        time.Time
}

// Repository manages model versions under a root directory.
type Repository struct {
	root   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// encodersArtifact is the gob payload of encoders.gob.
type encodersArtifact struct {
	Users    *recommend.Encoder
	Contents *recommend.Encoder
}

// New creates a Repository rooted at dir, creating it if needed.
func New(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	return &Repository{
		root:   dir,
		logger: logging.WithComponent("modelstore"),
	}, nil
}

// Root returns the repository root directory.
func (r *Repository) Root() string {
	return r.root
}

// Save writes a new immutable version directory for the model and returns
// its directory name and metadata. The version is not promoted.
func (r *Repository) Save(ctx context.Context, model *recommend.FactorModel, info SaveInfo) (string, *Metadata, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	snap, err := model.Snapshot()
	if err != nil {
		return "", nil, fmt.Errorf("snapshot model: %w", err)
	}

	versionID := versionPrefix + uuid.New().String()
	dir := filepath.Join(r.root, versionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("create version directory: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(dir) }

	if err := writeEncoders(filepath.Join(dir, encodersFile), snap); err != nil {
		cleanup()
		return "", nil, err
	}

	embeddings := packEmbeddings(snap)
	if err := os.WriteFile(filepath.Join(dir, embeddingsFile), embeddings, 0o640); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write embeddings: %w", err)
	}

	hash := sha256.Sum256(embeddings)

	trainedAt := info.TrainedAt
	if trainedAt.IsZero() {
		trainedAt = time.Now().UTC()
	}

	meta := &Metadata{
		VersionID:        versionID,
		EmbeddingDim:     snap.EmbeddingDim,
		NUsers:           snap.Users.Len(),
		NItems:           snap.Contents.Len(),
		GlobalBias:       snap.GlobalBias,
		Checksum:         hex.EncodeToString(hash[:]),
		InteractionCount: info.InteractionCount,
		FinalLoss:        info.FinalLoss,
		TrainedAt:        trainedAt,
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), metaBytes, 0o640); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write metadata: %w", err)
	}

	r.logger.Info().
		Str("version", versionID).
		Int("users", meta.NUsers).
		Int("items", meta.NItems).
		Msg("model version saved")

	if versions, err := r.Versions(); err == nil {
		metrics.ModelVersionsStored.Set(float64(len(versions)))
	}

	return versionID, meta, nil
}

// Promote points the current symlink at versionID. The swap writes a new
// symlink beside the old one and renames it over, so a concurrent reader
// resolves either the previous or the new version.
func (r *Repository) Promote(versionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.root, versionID)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("version %s not found: %w", versionID, err)
	}

	tmp := filepath.Join(r.root, currentLink+".tmp."+uuid.New().String()[:8])
	if err := os.Symlink(versionID, tmp); err != nil {
		return fmt.Errorf("create pointer symlink: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(r.root, currentLink)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap pointer symlink: %w", err)
	}

	r.logger.Info().Str("version", versionID).Msg("model version promoted")
	return nil
}

// CurrentVersion returns the promoted version ID, or "" when no version
// has been promoted yet.
func (r *Repository) CurrentVersion() (string, error) {
	target, err := os.Readlink(filepath.Join(r.root, currentLink))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("resolve current pointer: %w", err)
	}
	return filepath.Base(target), nil
}

// Current loads the promoted model. Returns (nil, nil, nil) when no
// version has been promoted yet; corrupt artifacts return an error.
func (r *Repository) Current() (*recommend.FactorModel, *Metadata, error) {
	versionID, err := r.CurrentVersion()
	if err != nil {
		return nil, nil, err
	}
	if versionID == "" {
		return nil, nil, nil
	}
	return r.Load(versionID)
}

// Load reads a version's artifacts and reconstructs the model. Any
// missing or inconsistent artifact fails with an ErrModelCorrupt-wrapped
// error; a partially initialized model is never returned.
func (r *Repository) Load(versionID string) (*recommend.FactorModel, *Metadata, error) {
	dir := filepath.Join(r.root, versionID)

	meta, err := readMetadata(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, nil, err
	}

	enc, err := readEncoders(filepath.Join(dir, encodersFile))
	if err != nil {
		return nil, nil, err
	}

	embeddings, err := os.ReadFile(filepath.Join(dir, embeddingsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read embeddings: %v", ErrModelCorrupt, err)
	}

	hash := sha256.Sum256(embeddings)
	if checksum := hex.EncodeToString(hash[:]); checksum != meta.Checksum {
		return nil, nil, fmt.Errorf("%w: embeddings checksum mismatch: recorded %s, computed %s",
			ErrModelCorrupt, meta.Checksum, checksum)
	}

	snap, err := unpackEmbeddings(embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}

	if enc.Users.Len() != len(snap.UserEmb) || enc.Contents.Len() != len(snap.ContentEmb) {
		return nil, nil, fmt.Errorf("%w: encoder sizes (%d users, %d items) do not match embeddings (%d, %d)",
			ErrModelCorrupt, enc.Users.Len(), enc.Contents.Len(), len(snap.UserEmb), len(snap.ContentEmb))
	}
	if snap.EmbeddingDim != meta.EmbeddingDim {
		return nil, nil, fmt.Errorf("%w: embeddings dimension %d does not match metadata %d",
			ErrModelCorrupt, snap.EmbeddingDim, meta.EmbeddingDim)
	}

	snap.Users = enc.Users
	snap.Contents = enc.Contents
	snap.GlobalBias = meta.GlobalBias

	model, err := recommend.FromSnapshot(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}

	return model, meta, nil
}

// Versions lists all stored version IDs, oldest first by training time.
func (r *Repository) Versions() ([]Metadata, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("read model directory: %w", err)
	}

	var versions []Metadata
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), versionPrefix) {
			continue
		}
		meta, err := readMetadata(filepath.Join(r.root, entry.Name(), metadataFile))
		if err != nil {
			r.logger.Warn().Err(err).Str("version", entry.Name()).Msg("skipping unreadable version")
			continue
		}
		versions = append(versions, *meta)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].TrainedAt.Before(versions[j].TrainedAt)
	})
	return versions, nil
}

// Prune removes old versions beyond the newest keep, never touching the
// promoted version. It is never called automatically.
func (r *Repository) Prune(keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if keep < 1 {
		keep = 1
	}

	versions, err := r.Versions()
	if err != nil {
		return err
	}

	current, err := r.CurrentVersion()
	if err != nil {
		return err
	}

	// versions is oldest-first; delete from the front.
	excess := len(versions) - keep
	for i := 0; i < excess; i++ {
		v := versions[i].VersionID
		if v == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.root, v)); err != nil {
			return fmt.Errorf("remove version %s: %w", v, err)
		}
		r.logger.Info().Str("version", v).Msg("model version pruned")
	}

	if remaining, err := r.Versions(); err == nil {
		metrics.ModelVersionsStored.Set(float64(len(remaining)))
	}
	return nil
}

func writeEncoders(path string, snap *recommend.Snapshot) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(encodersArtifact{Users: snap.Users, Contents: snap.Contents}); err != nil {
		return fmt.Errorf("encode encoders: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return fmt.Errorf("write encoders: %w", err)
	}
	return nil
}

func readEncoders(path string) (*encodersArtifact, error) {
	f, err := os.Open(path) //nolint:gosec // path is inside the repository root
	if err != nil {
		return nil, fmt.Errorf("%w: read encoders: %v", ErrModelCorrupt, err)
	}
	defer func() { _ = f.Close() }()

	var artifact encodersArtifact
	if err := gob.NewDecoder(f).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("%w: decode encoders: %v", ErrModelCorrupt, err)
	}
	if artifact.Users == nil || artifact.Contents == nil {
		return nil, fmt.Errorf("%w: encoders artifact incomplete", ErrModelCorrupt)
	}
	return &artifact, nil
}

func readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the repository root
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrModelCorrupt, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrModelCorrupt, err)
	}
	return &meta, nil
}

// packEmbeddings serializes model parameters as little-endian float64
// arrays behind a fixed header of [nUsers, nItems, dim] int64 values.
func packEmbeddings(snap *recommend.Snapshot) []byte {
	nUsers := len(snap.UserEmb)
	nItems := len(snap.ContentEmb)
	dim := snap.EmbeddingDim

	size := 3*8 + 8*(nUsers*dim+nItems*dim+nUsers+nItems)
	buf := bytes.NewBuffer(make([]byte, 0, size))

	writeInt64 := func(v int64) {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
	writeFloats := func(vals []float64) {
		_ = binary.Write(buf, binary.LittleEndian, vals)
	}

	writeInt64(int64(nUsers))
	writeInt64(int64(nItems))
	writeInt64(int64(dim))

	for _, row := range snap.UserEmb {
		writeFloats(row)
	}
	for _, row := range snap.ContentEmb {
		writeFloats(row)
	}
	writeFloats(snap.UserBias)
	writeFloats(snap.ContentBias)

	return buf.Bytes()
}

func unpackEmbeddings(data []byte) (*recommend.Snapshot, error) {
	r := bytes.NewReader(data)

	var nUsers, nItems, dim int64
	for _, dst := range []*int64{&nUsers, &nItems, &dim} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("read embeddings header: %w", err)
		}
	}
	if nUsers < 0 || nItems < 0 || dim <= 0 {
		return nil, fmt.Errorf("invalid embeddings header: users=%d items=%d dim=%d", nUsers, nItems, dim)
	}

	want := 3*8 + 8*(nUsers*dim+nItems*dim+nUsers+nItems)
	if int64(len(data)) != want {
		return nil, fmt.Errorf("embeddings size %d does not match header (want %d)", len(data), want)
	}

	readFloats := func(n int64) ([]float64, error) {
		vals := make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
			return nil, fmt.Errorf("read embeddings block: %w", err)
		}
		return vals, nil
	}

	snap := &recommend.Snapshot{EmbeddingDim: int(dim)}

	snap.UserEmb = make([][]float64, nUsers)
	for u := range snap.UserEmb {
		row, err := readFloats(dim)
		if err != nil {
			return nil, err
		}
		snap.UserEmb[u] = row
	}
	snap.ContentEmb = make([][]float64, nItems)
	for c := range snap.ContentEmb {
		row, err := readFloats(dim)
		if err != nil {
			return nil, err
		}
		snap.ContentEmb[c] = row
	}

	var err error
	if snap.UserBias, err = readFloats(nUsers); err != nil {
		return nil, err
	}
	if snap.ContentBias, err = readFloats(nItems); err != nil {
		return nil, err
	}

	return snap, nil
}
