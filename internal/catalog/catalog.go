// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package catalog provides the track metadata lookup used by
// recommendation scoring. The catalog is read-mostly; tracks are
// loaded at startup or upserted as metadata syncs arrive.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Track is one catalog entry.
type Track struct {
	TrackID  string    `json:"track_id"`
	Title    string    `json:"title,omitempty"`
	ArtistID string    `json:"artist_id,omitempty"`
	Genre    string    `json:"genre,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Catalog is the read surface the recommendation scorer consumes.
type Catalog interface {
	// Track returns the entry for a track id.
	Track(trackID string) (Track, bool)

	// Tracks returns all entries, ordered by track id.
	Tracks() []Track

	// Size returns the number of entries.
	Size() int
}

// Memory is a map-backed catalog. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	tracks map[string]Track
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{tracks: make(map[string]Track)}
}

// Upsert adds or replaces a track entry. The AddedAt of an existing
// entry is preserved so metadata updates do not reset recency.
func (m *Memory) Upsert(track Track) error {
	if track.TrackID == "" {
		return fmt.Errorf("track id is required")
	}
	if track.AddedAt.IsZero() {
		track.AddedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tracks[track.TrackID]; ok && !existing.AddedAt.IsZero() {
		track.AddedAt = existing.AddedAt
	}
	m.tracks[track.TrackID] = track
	return nil
}

// Track returns the entry for a track id.
func (m *Memory) Track(trackID string) (Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	track, ok := m.tracks[trackID]
	return track, ok
}

// Tracks returns all entries ordered by track id.
func (m *Memory) Tracks() []Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Track, 0, len(m.tracks))
	for _, track := range m.tracks {
		out = append(out, track)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// Size returns the number of entries.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks)
}

// LoadFile loads catalog entries from a JSON array file and returns a
// populated in-memory catalog.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var tracks []Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, fmt.Errorf("parse catalog file %q: %w", path, err)
	}

	m := NewMemory()
	for _, track := range tracks {
		if err := m.Upsert(track); err != nil {
			return nil, fmt.Errorf("catalog entry: %w", err)
		}
	}
	return m, nil
}
