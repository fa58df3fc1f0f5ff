// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package event

import (
	"errors"
	"testing"
	"time"
)

func validRaw() *RawEvent {
	return &RawEvent{
		EventID:        "evt-1",
		UserID:         "user-1",
		TrackID:        "track-1",
		ArtistID:       "artist-1",
		Genre:          "Rock",
		Timestamp:      time.Now().Unix(),
		DurationPlayed: 180,
		Device:         "mobile",
		Context:        ContextPlaylist,
	}
}

func TestNormalizeValid(t *testing.T) {
	n := NewNormalizer()

	ev, err := n.Normalize(validRaw())
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}

	if ev.UserID != "user-1" || ev.TrackID != "track-1" {
		t.Errorf("unexpected identity fields: %+v", ev)
	}
	if ev.Genre != "rock" {
		t.Errorf("genre should be lowercased, got %q", ev.Genre)
	}
	if ev.Late {
		t.Error("first event should not be late")
	}
	if ev.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d, want %d", ev.SchemaVersion, SchemaVersion)
	}
}

func TestNormalizeValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*RawEvent)
		wantField string
	}{
		{"missing user_id", func(r *RawEvent) { r.UserID = "" }, "user_id"},
		{"missing track_id", func(r *RawEvent) { r.TrackID = "" }, "track_id"},
		{"missing timestamp", func(r *RawEvent) { r.Timestamp = 0 }, "timestamp"},
		{"negative duration", func(r *RawEvent) { r.DurationPlayed = -1 }, "duration_played"},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(raw)

			_, err := n.Normalize(raw)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("error names field %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestNormalizeNilPayload(t *testing.T) {
	n := NewNormalizer()
	if _, err := n.Normalize(nil); err == nil {
		t.Fatal("expected error for nil payload")
	}
}

func TestNormalizeGeneratesEventID(t *testing.T) {
	n := NewNormalizer()
	raw := validRaw()
	raw.EventID = ""

	ev, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if ev.EventID == "" {
		t.Error("expected generated event ID")
	}
}

func TestNormalizeLateTagging(t *testing.T) {
	n := NewNormalizer()
	now := time.Now().Unix()

	fresh := validRaw()
	fresh.Timestamp = now
	if ev, err := n.Normalize(fresh); err != nil || ev.Late {
		t.Fatalf("fresh event should not be late (err=%v)", err)
	}

	behind := validRaw()
	behind.EventID = "evt-2"
	behind.Timestamp = now - 3600
	ev, err := n.Normalize(behind)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if !ev.Late {
		t.Error("out-of-order event should be tagged late")
	}

	// Equal to high water is not late.
	same := validRaw()
	same.EventID = "evt-3"
	same.Timestamp = now
	ev, err = n.Normalize(same)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if ev.Late {
		t.Error("event at the high-water mark should not be late")
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	s := NewSerializer()
	ev := NewPlayEvent("user-1", "track-1")
	ev.Genre = "jazz"
	ev.DurationPlayed = 200

	data, err := s.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	got, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if got.EventID != ev.EventID || got.Genre != "jazz" || got.DurationPlayed != 200 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestSerializerRejectsInvalid(t *testing.T) {
	s := NewSerializer()
	ev := &PlayEvent{TrackID: "track-1"} // missing event_id, user_id

	if _, err := s.Marshal(ev); err == nil {
		t.Fatal("expected marshal of invalid event to fail")
	}
}
