// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package store persists finalized aggregate records and ranked trend
// sets in BadgerDB, with an in-memory fallback for tests and
// storage-less deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/trend"
)

// Key layout. Aggregate keys embed the zero-padded bucket unix so a
// prefix iteration walks buckets in time order. Trend sets live under
// one key per entity type so replacement is a single atomic write.
const (
	aggKeyPrefix   = "agg:"
	trendKeyPrefix = "trend:"
)

// BadgerStore is a durable store backed by BadgerDB. It implements
// aggregate.Store and trend.ScoreStore.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Options controls how the underlying BadgerDB is opened.
type Options struct {
	// Path is the database directory. Empty opens an in-memory database.
	Path string

	// SyncWrites forces fsync on every write.
	SyncWrites bool
}

// Open opens or creates a BadgerDB-backed store.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Open(opts Options, logger zerolog.Logger) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs Badger value-log garbage collection until it reports
// nothing left to collect. Safe to call periodically.
func (s *BadgerStore) RunGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

// aggKey encodes an aggregate key. The zero-padded bucket keeps
// lexicographic order aligned with time order.
func aggKey(key aggregate.Key) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s:%s", aggKeyPrefix, key.Bucket.Unix(), key.EntityType, key.EntityID))
}

func trendKey(entityType aggregate.EntityType) []byte {
	return []byte(trendKeyPrefix + string(entityType))
}

// Get returns the finalized record for key, or aggregate.ErrKeyNotFound.
func (s *BadgerStore) Get(_ context.Context, key aggregate.Key) (aggregate.Record, error) {
	var rec aggregate.Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(aggKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return aggregate.ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return aggregate.Record{}, err
	}
	return rec, nil
}

// Put persists a finalized record. Re-putting the same record simply
// overwrites it with identical content, so replayed rolls are safe.
func (s *BadgerStore) Put(_ context.Context, rec aggregate.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(aggKey(rec.Key), data); err != nil {
			return fmt.Errorf("set record: %w", err)
		}
		return nil
	})
}

// ScanRange returns all records with a bucket start in [start, end),
// ordered by bucket then entity type then entity id. Key encoding
// makes the iteration order match without a sort.
func (s *BadgerStore) ScanRange(_ context.Context, start, end time.Time) ([]aggregate.Record, error) {
	var out []aggregate.Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(fmt.Sprintf("%s%020d:", aggKeyPrefix, start.Unix()))
		stop := fmt.Sprintf("%s%020d:", aggKeyPrefix, end.Unix())
		prefix := []byte(aggKeyPrefix)

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if string(item.Key()) >= stop {
				break
			}
			var rec aggregate.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record %s: %w", item.Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBefore removes finalized records with a bucket start before
// horizon. Used by retention cleanup.
func (s *BadgerStore) DeleteBefore(_ context.Context, horizon time.Time) (int, error) {
	stop := fmt.Sprintf("%s%020d:", aggKeyPrefix, horizon.Unix())

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(aggKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= stop {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return deleted, fmt.Errorf("delete record %s: %w", key, err)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().Int("records", deleted).Time("horizon", horizon).Msg("retention cleanup")
	}
	return deleted, nil
}

// ReplaceScores atomically replaces the ranked set for entityType.
func (s *BadgerStore) ReplaceScores(_ context.Context, entityType aggregate.EntityType, scores []trend.Score) error {
	data, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("marshal trend scores: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(trendKey(entityType), data); err != nil {
			return fmt.Errorf("set trend scores: %w", err)
		}
		return nil
	})
}

// Scores returns the stored ranked set for entityType, empty if no
// computation has been persisted.
func (s *BadgerStore) Scores(_ context.Context, entityType aggregate.EntityType) ([]trend.Score, error) {
	var scores []trend.Score

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(trendKey(entityType))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get trend scores: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &scores)
		})
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}
