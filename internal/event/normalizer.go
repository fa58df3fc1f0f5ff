// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package event

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/crescendo-audio/crescendo/internal/metrics"
)

// Normalizer converts raw event payloads into canonical PlayEvents.
// It is a pure transform apart from the high-water mark it tracks for
// late tagging. Safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate

	// highWater is the maximum event timestamp observed, unix nanos.
	// Events behind it are tagged late.
	highWater atomic.Int64
}

// NewNormalizer creates a normalizer with struct-tag validation.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Normalize validates a raw payload and emits a canonical PlayEvent.
// On validation failure it returns a ValidationError naming the
// offending field. Out-of-order timestamps are accepted but tagged Late.
func (n *Normalizer) Normalize(raw *RawEvent) (*PlayEvent, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "payload", Message: "required"}
	}

	if err := n.validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := fieldName(verrs[0])
			metrics.RecordValidationFailure(field)
			return nil, &ValidationError{Field: field, Message: verrs[0].Tag()}
		}
		metrics.RecordValidationFailure("unknown")
		return nil, &ValidationError{Field: "unknown", Message: err.Error()}
	}

	ts := time.Unix(raw.Timestamp, 0).UTC()

	ev := &PlayEvent{
		SchemaVersion:  SchemaVersion,
		EventID:        raw.EventID,
		UserID:         raw.UserID,
		TrackID:        raw.TrackID,
		ArtistID:       raw.ArtistID,
		Genre:          strings.ToLower(strings.TrimSpace(raw.Genre)),
		Timestamp:      ts,
		DurationPlayed: raw.DurationPlayed,
		Device:         raw.Device,
		Context:        raw.Context,
	}
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}

	ev.Late = n.observe(ts)
	if ev.Late {
		metrics.LateEventsTagged.Inc()
	}

	metrics.EventsNormalized.Inc()
	return ev, nil
}

// observe advances the high-water mark and reports whether ts is behind it.
func (n *Normalizer) observe(ts time.Time) bool {
	nanos := ts.UnixNano()
	for {
		cur := n.highWater.Load()
		if nanos <= cur {
			return nanos < cur
		}
		if n.highWater.CompareAndSwap(cur, nanos) {
			return false
		}
	}
}

// HighWater returns the maximum event timestamp observed so far.
// Zero time if nothing has been normalized yet.
func (n *Normalizer) HighWater() time.Time {
	nanos := n.highWater.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

// fieldName maps a validator field error to the wire field name.
func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "UserID":
		return "user_id"
	case "TrackID":
		return "track_id"
	case "Timestamp":
		return "timestamp"
	case "DurationPlayed":
		return "duration_played"
	default:
		return strings.ToLower(fe.Field())
	}
}
