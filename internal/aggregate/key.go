// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package aggregate maintains rolling play counts and durations per
// (user, artist, genre, track) over tumbling time windows, and derives
// per-user listening profiles from the same event stream.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EntityType identifies the dimension a counter aggregates over.
type EntityType string

const (
	// EntityUser aggregates per listener.
	EntityUser EntityType = "user"
	// EntityArtist aggregates per artist.
	EntityArtist EntityType = "artist"
	// EntityGenre aggregates per genre.
	EntityGenre EntityType = "genre"
	// EntityTrack aggregates per track.
	EntityTrack EntityType = "track"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityUser, EntityArtist, EntityGenre, EntityTrack:
		return true
	}
	return false
}

// Key uniquely identifies one rolling counter: an entity within one
// window bucket. Bucket is the UTC start of the bucket interval.
type Key struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Bucket     time.Time  `json:"bucket"`
}

// String renders the key for logs and error context.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s@%s", k.EntityType, k.EntityID, k.Bucket.UTC().Format(time.RFC3339))
}

// Record is one rolling counter. Counters are monotonically
// non-decreasing within a window; a record never moves between buckets.
type Record struct {
	Key           Key       `json:"key"`
	PlayCount     int64     `json:"play_count"`
	TotalDuration int64     `json:"total_duration"` // seconds
	LastUpdated   time.Time `json:"last_updated"`
}

// ErrKeyNotFound is returned by Store.Get for missing keys.
var ErrKeyNotFound = errors.New("aggregate key not found")

// Store is the persistence boundary for finalized aggregate records.
// Implementations live in internal/store; the aggregator only writes
// finalized (immutable) records through it.
type Store interface {
	// Get returns the record for a key, or ErrKeyNotFound.
	Get(ctx context.Context, key Key) (Record, error)

	// Put persists a finalized record. Must be idempotent: re-putting
	// the same finalized record is safe.
	Put(ctx context.Context, rec Record) error

	// ScanRange returns all records whose bucket start falls in
	// [start, end), ordered by bucket then entity type then entity id.
	ScanRange(ctx context.Context, start, end time.Time) ([]Record, error)
}
