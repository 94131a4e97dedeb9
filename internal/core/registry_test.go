package core

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testConn(id string, pid int64) *Conn {
	return newConn(id, Participant{ID: pid}, 1, newFakeTransport(), 4, time.Now(), nil)
}

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry()

	if first := r.Register(testConn("c1", 1)); !first {
		t.Fatalf("first connection should report first")
	}
	if first := r.Register(testConn("c2", 1)); first {
		t.Fatalf("second connection should not report first")
	}
	r.Register(testConn("c3", 2))

	if got := len(r.ConnectionsFor(1)); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	c, remaining, ok := r.Unregister("c1")
	if !ok || c.ID != "c1" || !remaining {
		t.Fatalf("unexpected unregister result: %v %v %v", c, remaining, ok)
	}
	_, remaining, ok = r.Unregister("c2")
	if !ok || remaining {
		t.Fatalf("last connection should leave none remaining")
	}
	if got := r.ConnectionsFor(1); len(got) != 0 {
		t.Fatalf("expected no connections, got %v", got)
	}
	if _, _, ok := r.Unregister("c2"); ok {
		t.Fatalf("double unregister should report unknown")
	}
	if _, ok := r.Lookup("c3"); !ok {
		t.Fatalf("c3 should still be registered")
	}
	if r.Len() != 1 || len(r.Participants()) != 1 {
		t.Fatalf("unexpected sizes: len=%d participants=%v", r.Len(), r.Participants())
	}
}

func TestRegistryTryRegisterLimit(t *testing.T) {
	r := NewRegistry()

	for i := range 3 {
		if _, ok := r.TryRegister(testConn(fmt.Sprintf("c%d", i), 1), 3); !ok {
			t.Fatalf("connection %d should fit", i)
		}
	}
	if _, ok := r.TryRegister(testConn("c4", 1), 3); ok {
		t.Fatalf("fourth connection should be refused")
	}
	if _, ok := r.TryRegister(testConn("c5", 2), 3); !ok {
		t.Fatalf("limit is per participant")
	}
}

func TestRegistryConcurrentLifecycle(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for p := range 20 {
		wg.Add(1)
		go func(pid int64) {
			defer wg.Done()
			for i := range 50 {
				id := fmt.Sprintf("p%d-%d", pid, i)
				r.Register(testConn(id, pid))
				_ = r.connsFor([]int64{pid}, 0)
				if i%2 == 0 {
					r.Unregister(id)
				}
			}
		}(int64(p))
	}
	wg.Wait()

	for p := range 20 {
		if got := len(r.ConnectionsFor(int64(p))); got != 25 {
			t.Fatalf("participant %d: expected 25 connections, got %d", p, got)
		}
	}
}

func TestRegistryConnsForExcept(t *testing.T) {
	r := NewRegistry()
	r.Register(testConn("a1", 1))
	r.Register(testConn("a2", 1))
	r.Register(testConn("b1", 2))
	r.Register(testConn("c1", 3))

	got := r.connsFor([]int64{1, 2, 4}, 2)
	if len(got) != 2 {
		t.Fatalf("expected alice's two connections, got %d", len(got))
	}
	for _, c := range got {
		if c.Participant.ID != 1 {
			t.Fatalf("unexpected target %s", c.ID)
		}
	}
}
