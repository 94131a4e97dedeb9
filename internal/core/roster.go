package core

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRosterTTL bounds how stale a cached roster may be.
const DefaultRosterTTL = 30 * time.Second

// MembershipSource is the backing store for channel rosters.
type MembershipSource interface {
	ListMembers(ctx context.Context, channelID int64) ([]int64, error)
}

type rosterEntry struct {
	members   []int64
	fetchedAt time.Time
}

// RosterCache is a cache-aside view of channel membership.
//
// An entry is used only while younger than the TTL. Concurrent misses for the
// same channel share one backing fetch. A fetch that overlaps an Invalidate
// is returned to its callers but never stored.
type RosterCache struct {
	src MembershipSource
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[int64]rosterEntry
	gens    map[int64]uint64

	group singleflight.Group
}

// NewRosterCache builds a cache over src. A zero ttl selects DefaultRosterTTL.
func NewRosterCache(src MembershipSource, ttl time.Duration, now func() time.Time) *RosterCache {
	if ttl <= 0 {
		ttl = DefaultRosterTTL
	}
	if now == nil {
		now = time.Now
	}
	return &RosterCache{
		src:     src,
		ttl:     ttl,
		now:     now,
		entries: make(map[int64]rosterEntry),
		gens:    make(map[int64]uint64),
	}
}

// MembersOf returns the participant ids of the channel. The returned slice is
// shared and must not be modified.
func (r *RosterCache) MembersOf(ctx context.Context, channelID int64) ([]int64, error) {
	r.mu.RLock()
	e, ok := r.entries[channelID]
	r.mu.RUnlock()
	if ok && r.now().Sub(e.fetchedAt) < r.ttl {
		return e.members, nil
	}

	v, err, _ := r.group.Do(strconv.FormatInt(channelID, 10), func() (any, error) {
		r.mu.RLock()
		gen := r.gens[channelID]
		r.mu.RUnlock()

		members, err := r.src.ListMembers(ctx, channelID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.gens[channelID] == gen {
			r.entries[channelID] = rosterEntry{members: members, fetchedAt: r.now()}
		}
		r.mu.Unlock()
		return members, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]int64), nil
}

// Invalidate forces the next read of channelID to refetch.
func (r *RosterCache) Invalidate(channelID int64) {
	r.mu.Lock()
	delete(r.entries, channelID)
	r.gens[channelID]++
	r.mu.Unlock()
	r.group.Forget(strconv.FormatInt(channelID, 10))
}

// Len returns the number of cached rosters, fresh or stale.
func (r *RosterCache) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
