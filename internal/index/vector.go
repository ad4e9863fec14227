package index

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/mailidx/internal/document"
	merrors "github.com/Aman-CERP/mailidx/internal/errors"
)

// Vector index file names inside a semantic index directory.
const (
	vectorGraphFile = "vectors.hnsw"
	vectorMetaFile  = "vectors.meta"
)

// VectorMetadata describes the provenance of a stored vector.
type VectorMetadata struct {
	DocID       document.DocID
	DocKind     document.DocKind
	ProjectID   int64 // 0 when unscoped
	ModelID     string
	ContentHash string
}

// Key returns the document identity for this vector.
func (m VectorMetadata) Key() document.Key {
	return document.Key{ID: m.DocID, Kind: m.DocKind}
}

// VectorHit is a nearest-neighbor search result.
type VectorHit struct {
	Meta  VectorMetadata
	Score float64 // 1/(1+distance), higher is closer
}

// VectorIndex stores document embeddings in an HNSW graph keyed by an
// internal uint64 ID per document. Deletes are lazy: the graph node
// stays until the next save, searches filter tombstones out.
type VectorIndex struct {
	mu sync.RWMutex

	graph   *hnsw.Graph[uint64]
	nextID  uint64
	byKey   map[document.Key]uint64
	meta    map[uint64]VectorMetadata
	deleted map[uint64]bool
	dims    int
	closed  bool
}

// VectorConfig tunes the HNSW graph.
type VectorConfig struct {
	M        int
	EfSearch int
}

// DefaultVectorConfig returns the graph parameters used in production.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{M: 16, EfSearch: 20}
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex(cfg VectorConfig) *VectorIndex {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // level generation factor, 1/ln(M)

	return &VectorIndex{
		graph:   graph,
		nextID:  1,
		byKey:   make(map[document.Key]uint64),
		meta:    make(map[uint64]VectorMetadata),
		deleted: make(map[uint64]bool),
	}
}

// Upsert stores a vector for a document, replacing any previous one.
// The first inserted vector fixes the index dimension.
func (v *VectorIndex) Upsert(meta VectorMetadata, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("cannot index empty vector for %s", meta.Key())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	if v.dims == 0 {
		v.dims = len(vec)
	} else if len(vec) != v.dims {
		return merrors.New(merrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector dimension %d does not match index dimension %d", len(vec), v.dims), nil).
			WithDetail("doc", meta.Key().String()).
			WithSuggestion("reindex the scope after changing embedding models")
	}

	key := meta.Key()
	if old, ok := v.byKey[key]; ok {
		// Old graph node is tombstoned, not removed.
		v.deleted[old] = true
		delete(v.meta, old)
	}

	id := v.nextID
	v.nextID++
	v.graph.Add(hnsw.MakeNode(id, vec))
	v.byKey[key] = id
	v.meta[id] = meta
	return nil
}

// Delete tombstones the vector for a document. Missing keys are a no-op.
func (v *VectorIndex) Delete(key document.Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.byKey[key]; ok {
		v.deleted[id] = true
		delete(v.meta, id)
		delete(v.byKey, key)
	}
}

// Get returns the stored metadata for a document, if present.
func (v *VectorIndex) Get(key document.Key) (VectorMetadata, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.byKey[key]
	if !ok {
		return VectorMetadata{}, false
	}
	m, ok := v.meta[id]
	return m, ok
}

// Search returns up to k nearest live documents for the query vector.
func (v *VectorIndex) Search(query []float32, k int) ([]VectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if v.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	// Overfetch to compensate for tombstones filtered below.
	fetch := k + len(v.deleted)
	nodes := v.graph.Search(query, fetch)

	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		if v.deleted[node.Key] {
			continue
		}
		meta, ok := v.meta[node.Key]
		if !ok {
			continue
		}
		distance := v.graph.Distance(query, node.Value)
		hits = append(hits, VectorHit{Meta: meta, Score: 1.0 / (1.0 + float64(distance))})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Count returns the number of live documents in the index.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.byKey)
}

// Dimensions returns the vector dimension, 0 before the first insert.
func (v *VectorIndex) Dimensions() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dims
}

// vectorSidecar is the gob-encoded metadata written next to the graph.
type vectorSidecar struct {
	NextID  uint64
	ByKey   map[document.Key]uint64
	Meta    map[uint64]VectorMetadata
	Deleted map[uint64]bool
	Dims    int
}

// Save exports the graph and its metadata sidecar into dir. Both files
// go through temp-and-rename so a crash cannot leave a torn pair.
func (v *VectorIndex) Save(dir string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	graphPath := filepath.Join(dir, vectorGraphFile)
	tmpGraph := graphPath + ".tmp"
	f, err := os.Create(tmpGraph)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	if err := v.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpGraph)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close graph file: %w", err)
	}

	metaPath := filepath.Join(dir, vectorMetaFile)
	tmpMeta := metaPath + ".tmp"
	mf, err := os.Create(tmpMeta)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	sidecar := vectorSidecar{
		NextID:  v.nextID,
		ByKey:   v.byKey,
		Meta:    v.meta,
		Deleted: v.deleted,
		Dims:    v.dims,
	}
	if err := gob.NewEncoder(mf).Encode(&sidecar); err != nil {
		_ = mf.Close()
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		return fmt.Errorf("failed to close metadata file: %w", err)
	}

	if err := os.Rename(tmpGraph, graphPath); err != nil {
		return fmt.Errorf("failed to commit graph file: %w", err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		return fmt.Errorf("failed to commit metadata file: %w", err)
	}
	return nil
}

// Load restores a previously saved index from dir.
func (v *VectorIndex) Load(dir string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	f, err := os.Open(filepath.Join(dir, vectorGraphFile))
	if err != nil {
		return fmt.Errorf("failed to open graph file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Import requires an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	mf, err := os.Open(filepath.Join(dir, vectorMetaFile))
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer func() { _ = mf.Close() }()

	var sidecar vectorSidecar
	if err := gob.NewDecoder(mf).Decode(&sidecar); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}

	v.nextID = sidecar.NextID
	v.byKey = sidecar.ByKey
	v.meta = sidecar.Meta
	v.deleted = sidecar.Deleted
	v.dims = sidecar.Dims
	return nil
}

// Close marks the index closed. Further mutations fail.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}
