// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package trend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
)

// fakeSource serves canned finalized records.
type fakeSource struct {
	records []aggregate.Record
	buckets map[int64]struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{buckets: make(map[int64]struct{})}
}

func (f *fakeSource) add(entityType aggregate.EntityType, id string, bucket time.Time, plays int64) {
	f.records = append(f.records, aggregate.Record{
		Key:       aggregate.Key{EntityType: entityType, EntityID: id, Bucket: bucket},
		PlayCount: plays,
	})
	f.buckets[bucket.Unix()] = struct{}{}
}

func (f *fakeSource) FinalizedRange(entityType aggregate.EntityType, start, end time.Time) []aggregate.Record {
	var out []aggregate.Record
	for _, rec := range f.records {
		if rec.Key.EntityType != entityType {
			continue
		}
		if !rec.Key.Bucket.Before(start) && rec.Key.Bucket.Before(end) {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeSource) FinalizedBucketCount(start, end time.Time) int {
	n := 0
	for unix := range f.buckets {
		ts := time.Unix(unix, 0).UTC()
		if !ts.Before(start) && ts.Before(end) {
			n++
		}
	}
	return n
}

// memScoreStore is an in-memory ScoreStore.
type memScoreStore struct {
	mu   sync.Mutex
	sets map[aggregate.EntityType][]Score
}

func newMemScoreStore() *memScoreStore {
	return &memScoreStore{sets: make(map[aggregate.EntityType][]Score)}
}

func (m *memScoreStore) ReplaceScores(_ context.Context, entityType aggregate.EntityType, scores []Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[entityType] = scores
	return nil
}

func (m *memScoreStore) Scores(_ context.Context, entityType aggregate.EntityType) ([]Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[entityType], nil
}

func testRanker(t *testing.T, source Source, store ScoreStore) *Ranker {
	t.Helper()
	ranker, err := NewRanker(Config{
		GrowthWeight: 0.6,
		VolumeWeight: 0.4,
		VolumeFloor:  10,
		Lookback:     24 * time.Hour,
	}, source, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRanker() failed: %v", err)
	}
	return ranker
}

func TestComputeRanksByBlendedScore(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	cur := now.Add(-2 * time.Hour)
	prev := now.Add(-26 * time.Hour)

	// riser: 10 -> 100 plays. steady: 100 -> 100. faller: 100 -> 20.
	source.add(aggregate.EntityArtist, "riser", prev, 10)
	source.add(aggregate.EntityArtist, "riser", cur, 100)
	source.add(aggregate.EntityArtist, "steady", prev, 100)
	source.add(aggregate.EntityArtist, "steady", cur, 100)
	source.add(aggregate.EntityArtist, "faller", prev, 100)
	source.add(aggregate.EntityArtist, "faller", cur, 20)

	ranker := testRanker(t, source, newMemScoreStore())
	ranker.SetClock(func() time.Time { return now })

	scores, err := ranker.Compute(context.Background(), aggregate.EntityArtist)
	if err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("got %d scores, want 3", len(scores))
	}

	// riser: growth 9.0, volume 1.0 -> 5.8
	// steady: growth 0.0, volume 1.0 -> 0.4
	// faller: growth -0.8, volume 0.2 -> -0.4
	if scores[0].EntityID != "riser" || scores[1].EntityID != "steady" || scores[2].EntityID != "faller" {
		t.Errorf("ranking = %s, %s, %s; want riser, steady, faller",
			scores[0].EntityID, scores[1].EntityID, scores[2].EntityID)
	}
	if scores[0].Rank != 1 || scores[2].Rank != 3 {
		t.Errorf("ranks not sequential: %+v", scores)
	}
	if scores[0].Growth != 9.0 {
		t.Errorf("riser growth = %v, want 9.0", scores[0].Growth)
	}
}

func TestComputeVolumeFloorDampsSmallEntities(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	cur := now.Add(-2 * time.Hour)
	prev := now.Add(-26 * time.Hour)

	// tiny: 1 -> 5 plays. Without the floor its growth would be 4.0;
	// with floor 10 it is 0.4 and the big mover wins.
	source.add(aggregate.EntityTrack, "tiny", prev, 1)
	source.add(aggregate.EntityTrack, "tiny", cur, 5)
	source.add(aggregate.EntityTrack, "big", prev, 50)
	source.add(aggregate.EntityTrack, "big", cur, 150)

	ranker := testRanker(t, source, newMemScoreStore())
	ranker.SetClock(func() time.Time { return now })

	scores, err := ranker.Compute(context.Background(), aggregate.EntityTrack)
	if err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}
	if scores[0].EntityID != "big" {
		t.Errorf("top entity = %s, want big", scores[0].EntityID)
	}
	if scores[1].Growth != 0.4 {
		t.Errorf("tiny growth = %v, want 0.4 (floored denominator)", scores[1].Growth)
	}
}

func TestComputeDeterministicTieBreak(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	cur := now.Add(-2 * time.Hour)

	// Identical stats: ties break by entity id ascending.
	source.add(aggregate.EntityGenre, "rock", cur, 50)
	source.add(aggregate.EntityGenre, "ambient", cur, 50)
	source.add(aggregate.EntityGenre, "jazz", cur, 50)

	ranker := testRanker(t, source, newMemScoreStore())
	ranker.SetClock(func() time.Time { return now })

	for run := 0; run < 3; run++ {
		scores, err := ranker.Compute(context.Background(), aggregate.EntityGenre)
		if err != nil {
			t.Fatalf("Compute() failed: %v", err)
		}
		if scores[0].EntityID != "ambient" || scores[1].EntityID != "jazz" || scores[2].EntityID != "rock" {
			t.Fatalf("run %d: unstable tie break: %s, %s, %s",
				run, scores[0].EntityID, scores[1].EntityID, scores[2].EntityID)
		}
	}
}

func TestComputeInsufficientData(t *testing.T) {
	ranker := testRanker(t, newFakeSource(), newMemScoreStore())

	_, err := ranker.Compute(context.Background(), aggregate.EntityArtist)
	if err == nil {
		t.Fatal("expected error with no finalized buckets")
	}

	var insufficientErr *InsufficientDataError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected *InsufficientDataError, got %T: %v", err, err)
	}
	if insufficientErr.EntityType != aggregate.EntityArtist {
		t.Errorf("error entity type = %s, want artist", insufficientErr.EntityType)
	}
}

func TestComputeReplacesStoredSet(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	store := newMemScoreStore()
	source.add(aggregate.EntityArtist, "first", now.Add(-2*time.Hour), 10)

	ranker := testRanker(t, source, store)
	ranker.SetClock(func() time.Time { return now })

	if _, err := ranker.Compute(context.Background(), aggregate.EntityArtist); err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}

	// New data for a different entity; recompute replaces wholesale.
	source.add(aggregate.EntityArtist, "second", now.Add(-time.Hour), 500)
	if _, err := ranker.Compute(context.Background(), aggregate.EntityArtist); err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}

	top, err := ranker.Top(context.Background(), aggregate.EntityArtist, 10)
	if err != nil {
		t.Fatalf("Top() failed: %v", err)
	}
	if len(top) != 2 || top[0].EntityID != "second" {
		t.Errorf("stored set = %+v, want second ranked first of 2", top)
	}
}

func TestRankUsesCallerLookback(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	// Both buckets sit inside a 24h lookback; with 6h the older one
	// falls into the prior window instead.
	source.add(aggregate.EntityArtist, "artist-1", now.Add(-2*time.Hour), 90)
	source.add(aggregate.EntityArtist, "artist-1", now.Add(-10*time.Hour), 30)

	store := newMemScoreStore()
	ranker := testRanker(t, source, store)
	ranker.SetClock(func() time.Time { return now })

	wide, err := ranker.Rank(context.Background(), aggregate.EntityArtist, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Rank(24h) failed: %v", err)
	}
	if wide[0].CurrentPlays != 120 || wide[0].PriorPlays != 0 {
		t.Errorf("24h lookback: current=%d prior=%d, want 120/0", wide[0].CurrentPlays, wide[0].PriorPlays)
	}

	narrow, err := ranker.Rank(context.Background(), aggregate.EntityArtist, 6*time.Hour, 10)
	if err != nil {
		t.Fatalf("Rank(6h) failed: %v", err)
	}
	if narrow[0].CurrentPlays != 90 || narrow[0].PriorPlays != 30 {
		t.Errorf("6h lookback: current=%d prior=%d, want 90/30", narrow[0].CurrentPlays, narrow[0].PriorPlays)
	}

	// Ad hoc rankings never touch the stored set.
	top, err := ranker.Top(context.Background(), aggregate.EntityArtist, 10)
	if err != nil {
		t.Fatalf("Top() failed: %v", err)
	}
	if len(top) != 0 {
		t.Errorf("stored set = %+v, want empty after Rank calls", top)
	}
}

func TestRankInsufficientDataForLookback(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	// The only finalized bucket is older than the 60-day comparison
	// range a 30-day lookback covers.
	source.add(aggregate.EntityArtist, "artist-1", now.Add(-90*24*time.Hour), 50)

	ranker := testRanker(t, source, newMemScoreStore())
	ranker.SetClock(func() time.Time { return now })

	_, err := ranker.Rank(context.Background(), aggregate.EntityArtist, 30*24*time.Hour, 10)
	var insufficientErr *InsufficientDataError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected *InsufficientDataError, got %T: %v", err, err)
	}
}

func TestRankRejectsBadLookback(t *testing.T) {
	ranker := testRanker(t, newFakeSource(), newMemScoreStore())
	if _, err := ranker.Rank(context.Background(), aggregate.EntityArtist, 0, 10); err == nil {
		t.Error("expected error for zero lookback")
	}
	if _, err := ranker.Rank(context.Background(), "playlist", time.Hour, 10); err == nil {
		t.Error("expected error for unknown entity type")
	}
}

func TestTopLimitsResults(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	for i, id := range []string{"a", "b", "c", "d"} {
		source.add(aggregate.EntityTrack, id, now.Add(-2*time.Hour), int64(100-i*10))
	}

	ranker := testRanker(t, source, newMemScoreStore())
	ranker.SetClock(func() time.Time { return now })
	if _, err := ranker.Compute(context.Background(), aggregate.EntityTrack); err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}

	top, err := ranker.Top(context.Background(), aggregate.EntityTrack, 2)
	if err != nil {
		t.Fatalf("Top() failed: %v", err)
	}
	if len(top) != 2 || top[0].EntityID != "a" || top[1].EntityID != "b" {
		t.Errorf("Top(2) = %+v, want a, b", top)
	}
}

func TestComputeRejectsUnknownEntityType(t *testing.T) {
	ranker := testRanker(t, newFakeSource(), newMemScoreStore())
	if _, err := ranker.Compute(context.Background(), "playlist"); err == nil {
		t.Error("expected error for unknown entity type")
	}
	if _, err := ranker.Top(context.Background(), "playlist", 10); err == nil {
		t.Error("expected error for unknown entity type")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"negative weight", Config{GrowthWeight: -1, VolumeWeight: 1, VolumeFloor: 10, Lookback: time.Hour}, true},
		{"zero weights", Config{VolumeFloor: 10, Lookback: time.Hour}, true},
		{"zero floor", Config{GrowthWeight: 0.6, VolumeWeight: 0.4, Lookback: time.Hour}, true},
		{"zero lookback", Config{GrowthWeight: 0.6, VolumeWeight: 0.4, VolumeFloor: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
