// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/event"
	"github.com/crescendo-audio/crescendo/internal/store"
)

func testPipeline(t *testing.T) (*Pipeline, *aggregate.Aggregator) {
	t.Helper()
	agg, err := aggregate.New(aggregate.Config{
		WindowSize: time.Hour,
		Grace:      5 * time.Minute,
		Retention:  24 * time.Hour,
		Shards:     8,
	}, store.NewMemoryStore(), zerolog.Nop())
	if err != nil {
		t.Fatalf("aggregate.New() failed: %v", err)
	}
	return NewPipeline(event.NewNormalizer(), agg, zerolog.Nop()), agg
}

func rawPayload(eventID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"event_id":%q,"user_id":"user-1","track_id":"track-1","artist_id":"artist-1","genre":"Rock","timestamp":%d,"duration_played":120}`,
		eventID, ts.Unix()))
}

func TestProcessAppliesValidEvent(t *testing.T) {
	p, agg := testPipeline(t)
	ts := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)

	if err := p.Process(context.Background(), rawPayload("evt-1", ts)); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	key := aggregate.Key{EntityType: aggregate.EntityUser, EntityID: "user-1", Bucket: ts.Truncate(time.Hour)}
	rec, ok := agg.LiveRecord(key)
	if !ok || rec.PlayCount != 1 {
		t.Errorf("event not applied: ok=%v rec=%+v", ok, rec)
	}
}

func TestProcessRejectsBadPayloadWithoutError(t *testing.T) {
	p, _ := testPipeline(t)

	// Undecodable JSON and an invalid event are both permanent
	// rejections: no error, so the message gets acked and not redelivered.
	if err := p.Process(context.Background(), []byte("{broken")); err != nil {
		t.Errorf("undecodable payload should not error: %v", err)
	}
	if err := p.Process(context.Background(), []byte(`{"track_id":"track-1"}`)); err != nil {
		t.Errorf("invalid event should not error: %v", err)
	}
}

func TestRunConsumesFromGoChannel(t *testing.T) {
	p, agg := testPipeline(t)
	ts := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, pubSub, "listen.events")
	}()

	// Give the subscription a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 3; i++ {
		msg := message.NewMessage(watermill.NewUUID(), rawPayload(fmt.Sprintf("evt-%d", i), ts))
		if err := pubSub.Publish("listen.events", msg); err != nil {
			t.Fatalf("Publish() failed: %v", err)
		}
	}

	key := aggregate.Key{EntityType: aggregate.EntityUser, EntityID: "user-1", Bucket: ts.Truncate(time.Hour)}
	deadline := time.After(2 * time.Second)
	for {
		if rec, ok := agg.LiveRecord(key); ok && rec.PlayCount == 3 {
			break
		}
		select {
		case <-deadline:
			rec, _ := agg.LiveRecord(key)
			t.Fatalf("timed out waiting for events, got %+v", rec)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run() returned %v, want context.Canceled", err)
	}
}

func TestRunDeduplicatesReplayedMessages(t *testing.T) {
	p, agg := testPipeline(t)
	ts := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)

	// Same event id delivered twice, as after a redelivery.
	payload := rawPayload("evt-dup", ts)
	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	key := aggregate.Key{EntityType: aggregate.EntityUser, EntityID: "user-1", Bucket: ts.Truncate(time.Hour)}
	rec, _ := agg.LiveRecord(key)
	if rec.PlayCount != 1 {
		t.Errorf("replayed message applied %d times, want 1", rec.PlayCount)
	}
	if stats := agg.Stats(); stats.DuplicateEvents != 1 {
		t.Errorf("duplicate count = %d, want 1", stats.DuplicateEvents)
	}
}
