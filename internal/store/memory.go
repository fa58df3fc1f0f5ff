// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/trend"
)

// MemoryStore is a map-backed store for tests and ephemeral runs. It
// implements aggregate.Store and trend.ScoreStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]aggregate.Record
	trends  map[aggregate.EntityType][]trend.Score
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]aggregate.Record),
		trends:  make(map[aggregate.EntityType][]trend.Score),
	}
}

// Get returns the record for key, or aggregate.ErrKeyNotFound.
func (s *MemoryStore) Get(_ context.Context, key aggregate.Key) (aggregate.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key.String()]
	if !ok {
		return aggregate.Record{}, aggregate.ErrKeyNotFound
	}
	return rec, nil
}

// Put stores a finalized record, overwriting any previous copy.
func (s *MemoryStore) Put(_ context.Context, rec aggregate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key.String()] = rec
	return nil
}

// ScanRange returns records with a bucket start in [start, end),
// ordered by bucket then entity type then entity id.
func (s *MemoryStore) ScanRange(_ context.Context, start, end time.Time) ([]aggregate.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []aggregate.Record
	for _, rec := range s.records {
		if !rec.Key.Bucket.Before(start) && rec.Key.Bucket.Before(end) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if !a.Bucket.Equal(b.Bucket) {
			return a.Bucket.Before(b.Bucket)
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.EntityID < b.EntityID
	})
	return out, nil
}

// DeleteBefore removes records with a bucket start before horizon.
func (s *MemoryStore) DeleteBefore(_ context.Context, horizon time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, rec := range s.records {
		if rec.Key.Bucket.Before(horizon) {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// ReplaceScores replaces the ranked set for entityType.
func (s *MemoryStore) ReplaceScores(_ context.Context, entityType aggregate.EntityType, scores []trend.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trends[entityType] = append([]trend.Score(nil), scores...)
	return nil
}

// Scores returns the stored ranked set for entityType.
func (s *MemoryStore) Scores(_ context.Context, entityType aggregate.EntityType) ([]trend.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]trend.Score(nil), s.trends[entityType]...), nil
}
