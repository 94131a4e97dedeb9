package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/staffchat-server/internal/proto"
	"github.com/vovakirdan/staffchat-server/internal/store"
)

// fakeTransport records written frames.
type fakeTransport struct {
	mu     sync.Mutex
	frames []proto.Frame
	closed bool
	reason string

	// alertDelay slows down writes of alert frames.
	alertDelay atomic.Int64
	// blocked makes every write wait until Close.
	blocked bool
	release chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{release: make(chan struct{})}
}

func (t *fakeTransport) Write(ctx context.Context, data []byte) error {
	if t.blocked {
		select {
		case <-t.release:
			return fmt.Errorf("closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d := time.Duration(t.alertDelay.Load()); d > 0 && bytes.Contains(data, []byte(`"type":"alert"`)) {
		time.Sleep(d)
	}
	f, err := proto.Decode(data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.frames = append(t.frames, f)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.reason = reason
		close(t.release)
	}
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) snapshot() []proto.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]proto.Frame(nil), t.frames...)
}

func (t *fakeTransport) count(match func(proto.Frame) bool) int {
	n := 0
	for _, f := range t.snapshot() {
		if match(f) {
			n++
		}
	}
	return n
}

// waitFrame polls until a frame matching match is written.
func waitFrame(t *testing.T, tr *fakeTransport, match func(proto.Frame) bool) proto.Frame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range tr.snapshot() {
			if match(f) {
				return f
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected frame not received; got %+v", tr.snapshot())
	return proto.Frame{}
}

// waitCount polls until exactly want frames match.
func waitCount(t *testing.T, tr *fakeTransport, want int, match func(proto.Frame) bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.count(match) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d matching frames, got %d", want, tr.count(match))
}

func ofType(typ string) func(proto.Frame) bool {
	return func(f proto.Frame) bool { return f.Type == typ }
}

func presenceOf(pid int64, status Status) func(proto.Frame) bool {
	return func(f proto.Frame) bool {
		if f.Type != proto.TypePresence || f.ParticipantID != pid {
			return false
		}
		var p proto.Presence
		_ = json.Unmarshal(f.Payload, &p)
		return p.Status == string(status)
	}
}

func chatFrame(t *testing.T, channelID int64, correlationID, content, dedupe string) []byte {
	t.Helper()

	f, err := proto.NewFrame("", proto.ChatMessage{Content: content, DedupeID: dedupe})
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	f.ChannelID = channelID
	f.CorrelationID = correlationID
	data, err := proto.Encode(f)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return data
}

// fakeStore is an in-memory membership and message store.
type fakeStore struct {
	mu        sync.Mutex
	members   map[int64][]int64
	seen      map[string]bool
	saved     []store.Message
	listCalls atomic.Int64
	listErr   error
	gate      chan struct{} // when set, ListMembers waits on it
	started   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{members: make(map[int64][]int64), seen: make(map[string]bool)}
}

func (s *fakeStore) setMembers(channelID int64, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[channelID] = ids
}

func (s *fakeStore) ListMembers(ctx context.Context, channelID int64) ([]int64, error) {
	s.listCalls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]int64(nil), s.members[channelID]...), nil
}

func (s *fakeStore) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.members[channelID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.DedupeID != "" {
		key := fmt.Sprintf("%d/%s", msg.UserID, msg.DedupeID)
		if s.seen[key] {
			return store.ErrDuplicate
		}
		s.seen[key] = true
	}
	msg.ID = int64(len(s.saved) + 1)
	s.saved = append(s.saved, *msg)
	return nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// startHub builds and runs a hub that stops with the test.
func startHub(t *testing.T, cfg Config, st *fakeStore) *Hub {
	t.Helper()

	h := NewHub(cfg, st, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OutboundQueue = 512
	cfg.MaxConnsPerParticipant = 0
	return cfg
}

func mustAccept(t *testing.T, h *Hub, pid int64, name string) (*Conn, *fakeTransport) {
	t.Helper()

	tr := newFakeTransport()
	c, err := h.AcceptConnection(context.Background(), tr, Participant{ID: pid, Name: name}, proto.ProtocolVersion)
	if err != nil {
		t.Fatalf("accept %d: %v", pid, err)
	}
	return c, tr
}
