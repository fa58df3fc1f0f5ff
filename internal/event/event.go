// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package event defines the canonical play event and the ingestion
// normalizer that produces it from raw payloads.
package event

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to PlayEvent.
const SchemaVersion = 1

// RawEvent is the wire payload delivered by external sources (broker
// consumers, batch loaders). Field presence is validated by the
// Normalizer before a PlayEvent is emitted.
type RawEvent struct {
	EventID        string `json:"event_id,omitempty"`
	UserID         string `json:"user_id" validate:"required"`
	TrackID        string `json:"track_id" validate:"required"`
	ArtistID       string `json:"artist_id,omitempty"`
	Genre          string `json:"genre,omitempty"`
	Timestamp      int64  `json:"timestamp" validate:"required"` // unix seconds
	DurationPlayed int    `json:"duration_played" validate:"gte=0"`
	Device         string `json:"device,omitempty"`
	Context        string `json:"context,omitempty"` // playlist, album, radio, search

	// Raw payload for debugging and future fields
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// PlayEvent is the canonical listening event. Immutable once ingested.
type PlayEvent struct {
	SchemaVersion int `json:"schema_version,omitempty"`

	// Identification
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	TrackID   string    `json:"track_id"`
	ArtistID  string    `json:"artist_id,omitempty"`
	Genre     string    `json:"genre,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// DurationPlayed is the listened duration in seconds.
	DurationPlayed int `json:"duration_played"`

	// Playback context
	Device  string `json:"device,omitempty"`
	Context string `json:"context,omitempty"`

	// Late marks an event whose timestamp is behind the normalizer's
	// high-water mark. The aggregator decides whether the target bucket
	// still accepts it.
	Late bool `json:"late,omitempty"`
}

// NewPlayEvent creates an event with a unique ID, current timestamp,
// and schema version. Primarily used by tests and in-process producers.
func NewPlayEvent(userID, trackID string) *PlayEvent {
	return &PlayEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		UserID:        userID,
		TrackID:       trackID,
		Timestamp:     time.Now().UTC(),
	}
}

// GetSchemaVersion returns the schema version, defaulting to 1 for
// events written before explicit versioning.
func (e *PlayEvent) GetSchemaVersion() int {
	if e.SchemaVersion == 0 {
		return 1
	}
	return e.SchemaVersion
}

// Validate checks required fields on a canonical event.
func (e *PlayEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "required"}
	}
	if e.TrackID == "" {
		return &ValidationError{Field: "track_id", Message: "required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "required"}
	}
	if e.DurationPlayed < 0 {
		return &ValidationError{Field: "duration_played", Message: "must be non-negative"}
	}
	return nil
}

// ValidationError names the raw event field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid play event: " + e.Field + ": " + e.Message
}

// Context constants for playback context classification.
const (
	ContextPlaylist = "playlist"
	ContextAlbum    = "album"
	ContextRadio    = "radio"
	ContextSearch   = "search"
)
