// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/trend"
)

// recordStore is the shared surface both implementations satisfy.
type recordStore interface {
	aggregate.Store
	trend.ScoreStore
	DeleteBefore(ctx context.Context, horizon time.Time) (int, error)
}

func openBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open(Options{Path: ""}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(entityType aggregate.EntityType, id string, bucket time.Time, plays int64) aggregate.Record {
	return aggregate.Record{
		Key:           aggregate.Key{EntityType: entityType, EntityID: id, Bucket: bucket},
		PlayCount:     plays,
		TotalDuration: plays * 100,
		LastUpdated:   bucket.Add(time.Hour),
	}
}

func runStoreTests(t *testing.T, s recordStore) {
	ctx := context.Background()
	bucket := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, aggregate.Key{EntityType: aggregate.EntityUser, EntityID: "nobody", Bucket: bucket})
		if !errors.Is(err, aggregate.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		rec := record(aggregate.EntityUser, "user-1", bucket, 5)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}

		got, err := s.Get(ctx, rec.Key)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got.PlayCount != 5 || got.TotalDuration != 500 {
			t.Errorf("got %+v, want plays=5 duration=500", got)
		}
	})

	t.Run("put idempotent", func(t *testing.T) {
		rec := record(aggregate.EntityTrack, "track-1", bucket, 3)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("repeated Put() failed: %v", err)
		}

		got, err := s.Get(ctx, rec.Key)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got.PlayCount != 3 {
			t.Errorf("replayed put changed record: %+v", got)
		}
	})

	t.Run("scan range ordered", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			b := bucket.Add(time.Duration(i) * time.Hour)
			if err := s.Put(ctx, record(aggregate.EntityArtist, "artist-1", b, int64(i+1))); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}
		}

		got, err := s.ScanRange(ctx, bucket, bucket.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("ScanRange() failed: %v", err)
		}

		var artists []aggregate.Record
		for _, rec := range got {
			if rec.Key.EntityType == aggregate.EntityArtist {
				artists = append(artists, rec)
			}
		}
		if len(artists) != 2 {
			t.Fatalf("got %d artist records, want 2 (end exclusive)", len(artists))
		}
		if artists[0].Key.Bucket.After(artists[1].Key.Bucket) {
			t.Error("records not in bucket order")
		}
	})

	t.Run("delete before horizon", func(t *testing.T) {
		old := bucket.Add(-48 * time.Hour)
		if err := s.Put(ctx, record(aggregate.EntityGenre, "rock", old, 7)); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}

		if _, err := s.DeleteBefore(ctx, bucket.Add(-24*time.Hour)); err != nil {
			t.Fatalf("DeleteBefore() failed: %v", err)
		}

		if _, err := s.Get(ctx, aggregate.Key{EntityType: aggregate.EntityGenre, EntityID: "rock", Bucket: old}); !errors.Is(err, aggregate.ErrKeyNotFound) {
			t.Errorf("old record should be deleted, got err=%v", err)
		}
		if _, err := s.Get(ctx, aggregate.Key{EntityType: aggregate.EntityUser, EntityID: "user-1", Bucket: bucket}); err != nil {
			t.Errorf("recent record should survive: %v", err)
		}
	})

	t.Run("trend scores replace wholesale", func(t *testing.T) {
		first := []trend.Score{
			{EntityType: aggregate.EntityArtist, EntityID: "a", Rank: 1, Score: 2.0},
			{EntityType: aggregate.EntityArtist, EntityID: "b", Rank: 2, Score: 1.0},
		}
		if err := s.ReplaceScores(ctx, aggregate.EntityArtist, first); err != nil {
			t.Fatalf("ReplaceScores() failed: %v", err)
		}

		second := []trend.Score{
			{EntityType: aggregate.EntityArtist, EntityID: "c", Rank: 1, Score: 3.0},
		}
		if err := s.ReplaceScores(ctx, aggregate.EntityArtist, second); err != nil {
			t.Fatalf("ReplaceScores() failed: %v", err)
		}

		got, err := s.Scores(ctx, aggregate.EntityArtist)
		if err != nil {
			t.Fatalf("Scores() failed: %v", err)
		}
		if len(got) != 1 || got[0].EntityID != "c" {
			t.Errorf("stored set = %+v, want single entry c", got)
		}
	})

	t.Run("trend scores empty entity type", func(t *testing.T) {
		got, err := s.Scores(ctx, aggregate.EntityGenre)
		if err != nil {
			t.Fatalf("Scores() failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty set, got %+v", got)
		}
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreTests(t, openBadger(t))
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	bucket := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	s, err := Open(Options{Path: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	rec := record(aggregate.EntityUser, "user-1", bucket, 9)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(Options{Path: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if got.PlayCount != 9 {
		t.Errorf("got %+v, want plays=9", got)
	}
}
