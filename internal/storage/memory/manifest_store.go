package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// ManifestStore keeps asset records in-memory, keyed by asset path.
type ManifestStore struct {
	mu      sync.RWMutex
	records map[string]pipeline.AssetRecord
}

// NewManifestStore constructs a ManifestStore.
func NewManifestStore() *ManifestStore {
	return &ManifestStore{records: make(map[string]pipeline.AssetRecord)}
}

// RecordAssets upserts records by asset path.
func (s *ManifestStore) RecordAssets(_ context.Context, records []pipeline.AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.AssetPath] = rec
	}
	return nil
}

// Lookup returns the record for assetPath.
func (s *ManifestStore) Lookup(assetPath string) (pipeline.AssetRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[assetPath]
	return rec, ok
}

// Len reports how many assets are recorded.
func (s *ManifestStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
