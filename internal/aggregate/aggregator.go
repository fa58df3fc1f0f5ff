// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package aggregate

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/event"
	"github.com/crescendo-audio/crescendo/internal/metrics"
)

// Config holds aggregator tuning parameters.
type Config struct {
	// WindowSize is the tumbling bucket duration.
	WindowSize time.Duration

	// Grace is how long after a bucket ends before it may be finalized.
	// Late events landing inside the grace period are still applied.
	Grace time.Duration

	// Retention is how far back finalized buckets are kept in memory.
	Retention time.Duration

	// Shards is the number of lock shards for the live key space.
	Shards int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize: time.Hour,
		Grace:      5 * time.Minute,
		Retention:  30 * 24 * time.Hour,
		Shards:     64,
	}
}

// Stats reports aggregator counters for monitoring and tests.
type Stats struct {
	DroppedLateEvents int64
	DuplicateEvents   int64
	LiveKeys          int
	FinalizedBuckets  int
	PendingBuckets    int
}

// Aggregator maintains rolling counters with per-key exclusive mutation.
// Independent keys mutate fully in parallel via lock sharding; the
// window cut is coordinated through a single RWMutex so Apply calls
// racing a finalization block briefly and are then handled under the
// late policy. Safe for concurrent use.
type Aggregator struct {
	cfg    Config
	store  Store
	logger zerolog.Logger
	clock  func() time.Time

	// cutMu orders Apply against the finalization cut. Apply holds the
	// read side for its whole fanout so an event is never split across
	// a window roll.
	cutMu     sync.RWMutex
	watermark time.Time // buckets starting before this are closed (guarded by cutMu)

	shards []*shard
	dedup  []*dedupShard

	// rollMu serializes RollWindow with itself.
	rollMu sync.Mutex

	// pending holds closed buckets not yet durably persisted. A failed
	// roll leaves them here; the next roll retries idempotently.
	// finalized holds durable, immutable buckets readable without
	// coordination with in-flight applies.
	finalMu   sync.RWMutex
	pending   map[int64]map[Key]Record
	finalized map[int64]map[Key]Record

	profiles *ProfileTracker

	droppedLate atomic.Int64
	duplicates  atomic.Int64
}

// shard holds a slice of the live key space under one mutex.
type shard struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// dedupShard tracks event ids seen per bucket for idempotent replay.
type dedupShard struct {
	mu   sync.Mutex
	seen map[int64]map[string]struct{} // bucket unix -> event ids
}

// New creates an aggregator persisting finalized buckets through store.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, store Store, logger zerolog.Logger) (*Aggregator, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %v", cfg.WindowSize)
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 64
	}
	if cfg.Retention < cfg.WindowSize {
		return nil, fmt.Errorf("retention %v must cover at least one window %v", cfg.Retention, cfg.WindowSize)
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{records: make(map[Key]*Record)}
	}
	dedup := make([]*dedupShard, cfg.Shards)
	for i := range dedup {
		dedup[i] = &dedupShard{seen: make(map[int64]map[string]struct{})}
	}

	return &Aggregator{
		cfg:       cfg,
		store:     store,
		logger:    logger.With().Str("component", "aggregate").Logger(),
		clock:     time.Now,
		shards:    shards,
		dedup:     dedup,
		pending:   make(map[int64]map[Key]Record),
		finalized: make(map[int64]map[Key]Record),
		profiles:  NewProfileTracker(cfg.Shards),
	}, nil
}

// SetClock overrides the time source. Test hook.
func (a *Aggregator) SetClock(clock func() time.Time) {
	a.clock = clock
}

// Profiles returns the per-user profile tracker fed by this aggregator.
func (a *Aggregator) Profiles() *ProfileTracker {
	return a.profiles
}

// BucketFor returns the UTC start of the bucket containing ts.
func (a *Aggregator) BucketFor(ts time.Time) time.Time {
	return ts.UTC().Truncate(a.cfg.WindowSize)
}

// Apply folds one canonical event into every rolling counter it touches
// (user, artist, genre, track) plus the user's profile. It is
// idempotent per event id within a window: replays are skipped and
// counted. Events targeting an already-finalized bucket are dropped and
// counted in dropped_late_events. Apply never fails on event content;
// malformed input is rejected upstream by the normalizer.
func (a *Aggregator) Apply(ev *event.PlayEvent) {
	start := a.clock()
	defer func() { metrics.RecordApply(a.clock().Sub(start)) }()

	bucket := a.BucketFor(ev.Timestamp)

	a.cutMu.RLock()
	defer a.cutMu.RUnlock()

	if bucket.Before(a.watermark) {
		a.droppedLate.Add(1)
		metrics.DroppedLateEvents.Inc()
		a.logger.Debug().
			Str("event_id", ev.EventID).
			Time("bucket", bucket).
			Time("watermark", a.watermark).
			Bool("tagged_late", ev.Late).
			Msg("late event dropped after finalization")
		return
	}

	if a.markSeen(bucket, ev.EventID) {
		a.duplicates.Add(1)
		metrics.DuplicateEvents.Inc()
		return
	}

	for _, key := range a.keysFor(ev, bucket) {
		a.shardFor(key).apply(key, ev, start)
	}
	a.profiles.Apply(ev)
}

// keysFor fans an event out to the entity keys it contributes to.
func (a *Aggregator) keysFor(ev *event.PlayEvent, bucket time.Time) []Key {
	keys := make([]Key, 0, 4)
	keys = append(keys,
		Key{EntityType: EntityUser, EntityID: ev.UserID, Bucket: bucket},
		Key{EntityType: EntityTrack, EntityID: ev.TrackID, Bucket: bucket},
	)
	if ev.ArtistID != "" {
		keys = append(keys, Key{EntityType: EntityArtist, EntityID: ev.ArtistID, Bucket: bucket})
	}
	if ev.Genre != "" {
		keys = append(keys, Key{EntityType: EntityGenre, EntityID: ev.Genre, Bucket: bucket})
	}
	return keys
}

// markSeen records the event id for its bucket. Returns true if the id
// was already applied within that bucket.
func (a *Aggregator) markSeen(bucket time.Time, eventID string) bool {
	d := a.dedup[hashString(eventID)%uint32(len(a.dedup))]
	unix := bucket.Unix()

	d.mu.Lock()
	defer d.mu.Unlock()

	ids, ok := d.seen[unix]
	if !ok {
		ids = make(map[string]struct{})
		d.seen[unix] = ids
	}
	if _, dup := ids[eventID]; dup {
		return true
	}
	ids[eventID] = struct{}{}
	return false
}

func (a *Aggregator) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.EntityType))
	h.Write([]byte{0})
	h.Write([]byte(key.EntityID))
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// apply increments the counter for key under the shard lock.
func (s *shard) apply(key Key, ev *event.PlayEvent, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{Key: key}
		s.records[key] = rec
	}
	rec.PlayCount++
	rec.TotalDuration += int64(ev.DurationPlayed)
	rec.LastUpdated = now.UTC()
}

// RollWindow closes every bucket whose grace period has elapsed at now,
// persists its records through the store, and publishes it to the
// finalized read-only set. It never runs concurrently with itself. A
// storage failure fails the whole attempt; closed buckets stay pending
// and the next roll retries persistence idempotently. Buckets older
// than the retention horizon are pruned from the finalized set.
func (a *Aggregator) RollWindow(ctx context.Context, now time.Time) error {
	a.rollMu.Lock()
	defer a.rollMu.Unlock()

	a.cut(now)

	if err := a.persistPending(ctx); err != nil {
		metrics.RecordWindowRoll(err)
		return err
	}

	a.prune(now)
	metrics.RecordWindowRoll(nil)
	return nil
}

// cut advances the watermark and moves expired live buckets into the
// pending set. Runs under the exclusive side of cutMu so no Apply is
// mid-fanout while the cut is taken.
func (a *Aggregator) cut(now time.Time) {
	cutoff := now.UTC().Add(-a.cfg.Grace).Truncate(a.cfg.WindowSize)

	a.cutMu.Lock()
	defer a.cutMu.Unlock()

	if !cutoff.After(a.watermark) {
		return
	}
	a.watermark = cutoff

	closed := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		for key, rec := range sh.records {
			if !key.Bucket.Before(cutoff) {
				continue
			}
			unix := key.Bucket.Unix()

			a.finalMu.Lock()
			bucket, ok := a.pending[unix]
			if !ok {
				bucket = make(map[Key]Record)
				a.pending[unix] = bucket
			}
			bucket[key] = *rec
			a.finalMu.Unlock()

			delete(sh.records, key)
			closed++
		}
		sh.mu.Unlock()
	}

	// Dedup state for closed buckets is no longer needed: replays now
	// land behind the watermark and are dropped as late.
	for _, d := range a.dedup {
		d.mu.Lock()
		for unix := range d.seen {
			if unix < cutoff.Unix() {
				delete(d.seen, unix)
			}
		}
		d.mu.Unlock()
	}

	if closed > 0 {
		a.logger.Info().
			Int("records", closed).
			Time("watermark", cutoff).
			Msg("window cut taken")
	}
}

// persistPending writes every pending bucket through the store and, on
// success, publishes it to the finalized set. Records are written in
// deterministic order so a retried roll replays the same sequence.
func (a *Aggregator) persistPending(ctx context.Context) error {
	a.finalMu.RLock()
	buckets := make([]int64, 0, len(a.pending))
	for unix := range a.pending {
		buckets = append(buckets, unix)
	}
	a.finalMu.RUnlock()
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	for _, unix := range buckets {
		a.finalMu.RLock()
		bucket := a.pending[unix]
		recs := make([]Record, 0, len(bucket))
		for _, rec := range bucket {
			recs = append(recs, rec)
		}
		a.finalMu.RUnlock()
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].Key.EntityType != recs[j].Key.EntityType {
				return recs[i].Key.EntityType < recs[j].Key.EntityType
			}
			return recs[i].Key.EntityID < recs[j].Key.EntityID
		})

		for _, rec := range recs {
			if err := a.store.Put(ctx, rec); err != nil {
				return fmt.Errorf("persist finalized record %s: %w", rec.Key, err)
			}
		}

		a.finalMu.Lock()
		a.finalized[unix] = a.pending[unix]
		delete(a.pending, unix)
		metrics.FinalizedBuckets.Set(float64(len(a.finalized)))
		a.finalMu.Unlock()
	}
	return nil
}

// prune drops finalized buckets past the retention horizon.
func (a *Aggregator) prune(now time.Time) {
	horizon := now.UTC().Add(-a.cfg.Retention).Unix()

	a.finalMu.Lock()
	defer a.finalMu.Unlock()

	for unix := range a.finalized {
		if unix < horizon {
			delete(a.finalized, unix)
		}
	}
	metrics.FinalizedBuckets.Set(float64(len(a.finalized)))
}

// FinalizedRange returns finalized records of one entity type whose
// bucket start falls in [start, end), sorted by bucket then entity id.
// The returned slice is a copy; readers need no coordination with
// in-flight Apply calls.
func (a *Aggregator) FinalizedRange(entityType EntityType, start, end time.Time) []Record {
	a.finalMu.RLock()
	defer a.finalMu.RUnlock()

	var out []Record
	for unix, bucket := range a.finalized {
		ts := time.Unix(unix, 0).UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		for key, rec := range bucket {
			if key.EntityType == entityType {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Key.Bucket.Equal(out[j].Key.Bucket) {
			return out[i].Key.Bucket.Before(out[j].Key.Bucket)
		}
		return out[i].Key.EntityID < out[j].Key.EntityID
	})
	return out
}

// FinalizedBucketCount returns the number of finalized buckets with a
// start in [start, end). Trend ranking uses this to distinguish "no
// data" from "flat data".
func (a *Aggregator) FinalizedBucketCount(start, end time.Time) int {
	a.finalMu.RLock()
	defer a.finalMu.RUnlock()

	n := 0
	for unix := range a.finalized {
		ts := time.Unix(unix, 0).UTC()
		if !ts.Before(start) && ts.Before(end) {
			n++
		}
	}
	return n
}

// Stats returns current aggregator counters.
func (a *Aggregator) Stats() Stats {
	live := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		live += len(sh.records)
		sh.mu.Unlock()
	}

	a.finalMu.RLock()
	finalized := len(a.finalized)
	pending := len(a.pending)
	a.finalMu.RUnlock()

	return Stats{
		DroppedLateEvents: a.droppedLate.Load(),
		DuplicateEvents:   a.duplicates.Load(),
		LiveKeys:          live,
		FinalizedBuckets:  finalized,
		PendingBuckets:    pending,
	}
}

// LiveRecord returns a copy of the live (unfinalized) record for key.
// Test and debugging hook.
func (a *Aggregator) LiveRecord(key Key) (Record, bool) {
	sh := a.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
