package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRosterCacheServesWithinTTL(t *testing.T) {
	clock := newFakeClock()
	st := newFakeStore()
	st.setMembers(42, 1, 2)
	r := NewRosterCache(st, 30*time.Second, clock.Now)
	ctx := context.Background()

	first, err := r.MembersOf(ctx, 42)
	if err != nil {
		t.Fatalf("members: %v", err)
	}

	st.setMembers(42, 1, 2, 3)
	clock.Advance(10 * time.Second)
	second, _ := r.MembersOf(ctx, 42)
	if len(second) != len(first) {
		t.Fatalf("cached roster changed within TTL: %v -> %v", first, second)
	}

	clock.Advance(25 * time.Second)
	third, _ := r.MembersOf(ctx, 42)
	if len(third) != 3 {
		t.Fatalf("expected refreshed roster after TTL, got %v", third)
	}
	if calls := st.listCalls.Load(); calls != 2 {
		t.Fatalf("expected 2 backing fetches, got %d", calls)
	}
}

func TestRosterCacheInvalidate(t *testing.T) {
	st := newFakeStore()
	st.setMembers(1, 10)
	r := NewRosterCache(st, time.Hour, nil)
	ctx := context.Background()

	_, _ = r.MembersOf(ctx, 1)
	st.setMembers(1, 10, 11)
	r.Invalidate(1)

	got, _ := r.MembersOf(ctx, 1)
	if len(got) != 2 {
		t.Fatalf("expected fresh roster after invalidation, got %v", got)
	}
}

func TestRosterCacheErrorsAreNotCached(t *testing.T) {
	st := newFakeStore()
	st.listErr = errors.New("db down")
	r := NewRosterCache(st, time.Hour, nil)

	if _, err := r.MembersOf(context.Background(), 5); err == nil {
		t.Fatalf("expected error")
	}
	if r.Len() != 0 {
		t.Fatalf("failed fetch must not be cached")
	}
}

func TestRosterCacheCoalescesMisses(t *testing.T) {
	st := newFakeStore()
	st.setMembers(8, 1)
	st.gate = make(chan struct{})
	st.started = make(chan struct{}, 16)
	r := NewRosterCache(st, time.Hour, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.MembersOf(context.Background(), 8); err != nil {
				t.Errorf("members: %v", err)
			}
		}()
	}
	<-st.started
	time.Sleep(50 * time.Millisecond)
	close(st.gate)
	wg.Wait()

	if calls := st.listCalls.Load(); calls != 1 {
		t.Fatalf("expected one coalesced fetch, got %d", calls)
	}
}

func TestRosterCacheFetchRacingInvalidationIsNotStored(t *testing.T) {
	st := newFakeStore()
	st.setMembers(3, 1)
	st.gate = make(chan struct{})
	st.started = make(chan struct{}, 1)
	r := NewRosterCache(st, time.Hour, nil)

	done := make(chan []int64)
	go func() {
		got, _ := r.MembersOf(context.Background(), 3)
		done <- got
	}()

	<-st.started
	r.Invalidate(3)
	close(st.gate)

	if got := <-done; len(got) != 1 {
		t.Fatalf("caller should still get its result, got %v", got)
	}
	if r.Len() != 0 {
		t.Fatalf("fetch overlapping an invalidation must not be stored")
	}
}
