package core

import (
	"testing"
	"time"
)

func TestPresenceTransitions(t *testing.T) {
	clock := newFakeClock()
	p := NewPresence(time.Second, clock.Now)
	alice := Participant{ID: 1, Name: "alice"}

	if st, changed := p.Connected(alice); !changed || st.Status != StatusOnline {
		t.Fatalf("first connect should go online: %+v %v", st, changed)
	}
	if _, changed := p.Connected(alice); changed {
		t.Fatalf("second connect must not broadcast")
	}
	if _, changed := p.MarkAway(1, clock.Now().Add(-time.Second)); changed {
		t.Fatalf("participant seen after the cutoff must stay online")
	}
	clock.Advance(time.Minute)
	if _, changed := p.MarkAway(1, clock.Now().Add(-time.Second)); !changed {
		t.Fatalf("online -> away should broadcast")
	}
	if _, changed := p.MarkAway(1, clock.Now()); changed {
		t.Fatalf("away -> away must not broadcast")
	}
	if st, changed := p.Touch(1); !changed || st.Status != StatusOnline {
		t.Fatalf("activity should bring the participant back online")
	}
	if _, changed := p.Touch(1); changed {
		t.Fatalf("touch while online must not broadcast")
	}
	if st, changed := p.SetMessage(1, "on call"); !changed || st.Status != StatusOnline || st.Message != "on call" {
		t.Fatalf("status message should republish: %+v", st)
	}
	if st, changed := p.Disconnected(1); !changed || st.Status != StatusOffline {
		t.Fatalf("disconnect should go offline")
	}
	if _, changed := p.Disconnected(1); changed {
		t.Fatalf("offline -> offline must not broadcast")
	}
	if _, changed := p.Touch(1); changed {
		t.Fatalf("touch while offline must not broadcast")
	}
	if _, changed := p.SetMessage(1, "x"); changed {
		t.Fatalf("offline participant cannot set a message")
	}
}

func TestPresenceTypingExpiry(t *testing.T) {
	clock := newFakeClock()
	p := NewPresence(5*time.Second, clock.Now)

	p.SetTyping(10, 1, true)
	p.SetTyping(10, 2, true)
	clock.Advance(3 * time.Second)
	p.SetTyping(10, 2, true) // refresh

	if !p.IsTyping(10, 1) {
		t.Fatalf("indicator should still be live")
	}

	clock.Advance(3 * time.Second)
	expired := p.ExpireTyping()
	if len(expired) != 1 || expired[0] != (TypingKey{ChannelID: 10, ParticipantID: 1}) {
		t.Fatalf("unexpected expired set: %v", expired)
	}
	if !p.IsTyping(10, 2) {
		t.Fatalf("refreshed indicator should survive")
	}

	if existed := p.SetTyping(10, 2, false); !existed {
		t.Fatalf("explicit stop should clear an existing indicator")
	}
	if p.IsTyping(10, 2) {
		t.Fatalf("indicator should be cleared")
	}
}

func TestPresenceDisconnectClearsTyping(t *testing.T) {
	p := NewPresence(time.Minute, nil)
	p.Connected(Participant{ID: 1})
	p.SetTyping(4, 1, true)
	p.Disconnected(1)

	if p.IsTyping(4, 1) {
		t.Fatalf("typing should be cleared on disconnect")
	}
	if len(p.Snapshot()) != 1 {
		t.Fatalf("offline participant stays in the snapshot")
	}
}
