// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package event

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Serializer handles event encoding/decoding at the wire boundary.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts a canonical event to JSON bytes.
func (s *Serializer) Marshal(ev *PlayEvent) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal converts JSON bytes to a canonical event.
func (s *Serializer) Unmarshal(data []byte) (*PlayEvent, error) {
	var ev PlayEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &ev, nil
}

// UnmarshalRaw converts JSON bytes to a raw, unvalidated payload.
func (s *Serializer) UnmarshalRaw(data []byte) (*RawEvent, error) {
	var raw RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal raw event: %w", err)
	}
	return &raw, nil
}
