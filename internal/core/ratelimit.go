package core

import (
	"sync"
	"sync/atomic"
)

// RateLimiter is a fixed-window counter per participant. The window is
// closed by an external tick calling Reset.
//
// A participant can spend the full ceiling just before a reset and again just
// after it, so up to twice the ceiling may pass across a window boundary.
// That burst is accepted.
type RateLimiter struct {
	limit    atomic.Int64
	counters atomic.Pointer[sync.Map] // int64 -> *atomic.Int64
}

// NewRateLimiter creates a limiter. A limit <= 0 disables limiting.
func NewRateLimiter(limit int) *RateLimiter {
	r := &RateLimiter{}
	r.limit.Store(int64(limit))
	r.counters.Store(new(sync.Map))
	return r
}

// Allow counts one action for the participant and reports whether it is
// within the ceiling.
func (r *RateLimiter) Allow(participantID int64) bool {
	if r == nil {
		return true
	}
	limit := r.limit.Load()
	if limit <= 0 {
		return true
	}
	v, _ := r.counters.Load().LoadOrStore(participantID, new(atomic.Int64))
	return v.(*atomic.Int64).Add(1) <= limit
}

// Reset clears every counter at once.
func (r *RateLimiter) Reset() {
	r.counters.Store(new(sync.Map))
}

// SetLimit changes the ceiling for subsequent checks.
func (r *RateLimiter) SetLimit(limit int) {
	r.limit.Store(int64(limit))
}

func (r *RateLimiter) Limit() int {
	return int(r.limit.Load())
}
