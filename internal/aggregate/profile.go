// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/crescendo-audio/crescendo/internal/event"
)

// GenreShare is one genre's slice of a user's listening history.
type GenreShare struct {
	Genre string  `json:"genre"`
	Plays int64   `json:"plays"`
	Share float64 `json:"share"` // fraction of total plays, 0..1
}

// UserProfile is a cumulative view of one user's listening history.
// Unlike window records, profiles span the whole retention lifetime of
// the process.
type UserProfile struct {
	UserID        string           `json:"user_id"`
	TotalPlays    int64            `json:"total_plays"`
	TotalDuration int64            `json:"total_duration"` // seconds
	GenreCounts   map[string]int64 `json:"genre_counts"`
	ArtistCounts  map[string]int64 `json:"artist_counts"`
	LastActive    time.Time        `json:"last_active"`
}

// TopGenres returns up to n genres by play share, descending, ties
// broken by genre name ascending.
func (p *UserProfile) TopGenres(n int) []GenreShare {
	if p.TotalPlays == 0 || n <= 0 {
		return nil
	}

	shares := make([]GenreShare, 0, len(p.GenreCounts))
	for genre, plays := range p.GenreCounts {
		shares = append(shares, GenreShare{
			Genre: genre,
			Plays: plays,
			Share: float64(plays) / float64(p.TotalPlays),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Plays != shares[j].Plays {
			return shares[i].Plays > shares[j].Plays
		}
		return shares[i].Genre < shares[j].Genre
	})

	if len(shares) > n {
		shares = shares[:n]
	}
	return shares
}

// ProfileTracker maintains per-user cumulative listening profiles and
// the per-track last-played times used for recency exclusion. Sharded
// by user id. Safe for concurrent use.
type ProfileTracker struct {
	shards []*profileShard
}

type profileShard struct {
	mu       sync.RWMutex
	profiles map[string]*userState
}

// userState is the mutable backing for one user's profile.
type userState struct {
	totalPlays    int64
	totalDuration int64
	genreCounts   map[string]int64
	artistCounts  map[string]int64
	lastPlayed    map[string]time.Time // track id -> last play timestamp
	lastActive    time.Time
}

// NewProfileTracker creates a tracker with the given shard count.
func NewProfileTracker(shards int) *ProfileTracker {
	if shards <= 0 {
		shards = 64
	}
	t := &ProfileTracker{shards: make([]*profileShard, shards)}
	for i := range t.shards {
		t.shards[i] = &profileShard{profiles: make(map[string]*userState)}
	}
	return t
}

func (t *ProfileTracker) shardFor(userID string) *profileShard {
	return t.shards[hashString(userID)%uint32(len(t.shards))]
}

// Apply folds one event into the user's cumulative profile.
func (t *ProfileTracker) Apply(ev *event.PlayEvent) {
	sh := t.shardFor(ev.UserID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.profiles[ev.UserID]
	if !ok {
		st = &userState{
			genreCounts:  make(map[string]int64),
			artistCounts: make(map[string]int64),
			lastPlayed:   make(map[string]time.Time),
		}
		sh.profiles[ev.UserID] = st
	}

	st.totalPlays++
	st.totalDuration += int64(ev.DurationPlayed)
	if ev.Genre != "" {
		st.genreCounts[ev.Genre]++
	}
	if ev.ArtistID != "" {
		st.artistCounts[ev.ArtistID]++
	}
	if ev.Timestamp.After(st.lastPlayed[ev.TrackID]) {
		st.lastPlayed[ev.TrackID] = ev.Timestamp
	}
	if ev.Timestamp.After(st.lastActive) {
		st.lastActive = ev.Timestamp
	}
}

// Profile returns a copy of the user's profile, or false if the user
// has no listening history.
func (t *ProfileTracker) Profile(userID string) (*UserProfile, bool) {
	sh := t.shardFor(userID)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	st, ok := sh.profiles[userID]
	if !ok {
		return nil, false
	}

	p := &UserProfile{
		UserID:        userID,
		TotalPlays:    st.totalPlays,
		TotalDuration: st.totalDuration,
		GenreCounts:   make(map[string]int64, len(st.genreCounts)),
		ArtistCounts:  make(map[string]int64, len(st.artistCounts)),
		LastActive:    st.lastActive,
	}
	for g, c := range st.genreCounts {
		p.GenreCounts[g] = c
	}
	for a, c := range st.artistCounts {
		p.ArtistCounts[a] = c
	}
	return p, true
}

// RecentTracks returns the ids of tracks the user played at or after
// cutoff. The recommendation scorer uses this for recency exclusion.
func (t *ProfileTracker) RecentTracks(userID string, cutoff time.Time) map[string]struct{} {
	sh := t.shardFor(userID)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	st, ok := sh.profiles[userID]
	if !ok {
		return nil
	}

	recent := make(map[string]struct{})
	for trackID, last := range st.lastPlayed {
		if !last.Before(cutoff) {
			recent[trackID] = struct{}{}
		}
	}
	return recent
}

// HasHistory reports whether the user has any recorded plays.
func (t *ProfileTracker) HasHistory(userID string) bool {
	sh := t.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.profiles[userID]
	return ok
}
