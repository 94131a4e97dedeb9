package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/staffchat-server/internal/proto"
)

func TestDispatcherBroadcastExcept(t *testing.T) {
	st := newFakeStore()
	st.setMembers(5, 1, 2)
	cfg := testConfig()
	h := startHub(t, cfg, st)

	_, a1 := mustAccept(t, h, 1, "alice")
	_, a2 := mustAccept(t, h, 1, "alice")
	_, b := mustAccept(t, h, 2, "bob")
	_, outsider := mustAccept(t, h, 3, "carol")

	f, _ := proto.NewFrame(proto.ActionPublished, proto.ChannelEvent{Kind: "renamed"})
	if err := h.BroadcastExcept(context.Background(), 5, 2, f); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	waitFrame(t, a1, ofType(proto.TypeChannelEvent))
	waitFrame(t, a2, ofType(proto.TypeChannelEvent))
	time.Sleep(30 * time.Millisecond)
	if b.count(ofType(proto.TypeChannelEvent)) != 0 || outsider.count(ofType(proto.TypeChannelEvent)) != 0 {
		t.Fatalf("event leaked to excluded or non-member connections")
	}
}

func TestDispatcherSerializationFailureIsIsolated(t *testing.T) {
	h := startHub(t, testConfig(), newFakeStore())
	_, tr := mustAccept(t, h, 1, "alice")
	ctx := context.Background()

	bad := proto.Frame{Type: proto.TypeNews, Payload: json.RawMessage("{broken")}
	if err := h.BroadcastAll(ctx, bad); err == nil {
		t.Fatalf("expected serialization error")
	}

	if _, err := h.PublishNews(ctx, proto.News{Title: "Canteen", Body: "Open late"}); err != nil {
		t.Fatalf("publish news: %v", err)
	}
	waitCount(t, tr, 1, ofType(proto.TypeNews))
}

func TestDispatcherSubmitBlocksWhenSaturated(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, NewRosterCache(newFakeStore(), time.Minute, nil), DispatcherConfig{QueueSize: 1}, nil)
	// Workers are not started, so the queue fills.

	f := proto.AckFrame("", proto.ActionPublished)
	if err := d.BroadcastAll(context.Background(), f); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.BroadcastAll(ctx, f); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected submission to block until the deadline, got %v", err)
	}

	d.Stop()
	if err := d.BroadcastAll(context.Background(), f); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped, got %v", err)
	}
}

func TestDispatcherConnectionClosedMidBroadcast(t *testing.T) {
	st := newFakeStore()
	st.setMembers(1, 1, 2)
	h := startHub(t, testConfig(), st)
	ctx := context.Background()

	c, tr := mustAccept(t, h, 1, "alice")
	_, other := mustAccept(t, h, 2, "bob")

	f, _ := proto.NewFrame(proto.ActionPublished, proto.ChannelEvent{Kind: "note"})
	for range 20 {
		if err := h.Broadcast(ctx, 1, f); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
	}
	h.CloseConnection(ctx, c.ID, "gone")
	if err := h.Broadcast(ctx, 1, f); err != nil {
		t.Fatalf("broadcast after close: %v", err)
	}

	waitCount(t, other, 21, ofType(proto.TypeChannelEvent))
	if n := tr.count(ofType(proto.TypeChannelEvent)); n > 20 {
		t.Fatalf("closed connection received %d events", n)
	}
}
