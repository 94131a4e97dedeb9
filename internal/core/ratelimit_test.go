package core

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRateLimiterCeilingAndReset(t *testing.T) {
	r := NewRateLimiter(60)

	for i := range 60 {
		if !r.Allow(1) {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if r.Allow(1) {
		t.Fatalf("61st call should be rejected")
	}
	if !r.Allow(2) {
		t.Fatalf("participants are limited independently")
	}

	r.Reset()
	for i := range 60 {
		if !r.Allow(1) {
			t.Fatalf("call %d after reset should be allowed", i+1)
		}
	}
}

func TestRateLimiterConcurrentExactCeiling(t *testing.T) {
	r := NewRateLimiter(60)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if r.Allow(7) {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 60 {
		t.Fatalf("expected exactly 60 allowed, got %d", got)
	}
}

func TestRateLimiterDisabledAndSetLimit(t *testing.T) {
	r := NewRateLimiter(0)
	for range 1000 {
		if !r.Allow(1) {
			t.Fatalf("disabled limiter must allow everything")
		}
	}

	r.SetLimit(2)
	r.Reset()
	r.Allow(1)
	r.Allow(1)
	if r.Allow(1) {
		t.Fatalf("new ceiling should apply")
	}
	if r.Limit() != 2 {
		t.Fatalf("unexpected limit %d", r.Limit())
	}
}
