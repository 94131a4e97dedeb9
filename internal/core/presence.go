package core

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator lives without a refresh.
const DefaultTypingTTL = 6 * time.Second

// Status is a participant's presence category.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// PresenceState is the presence of one participant.
type PresenceState struct {
	ParticipantID int64     `json:"participantId"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	Message       string    `json:"message,omitempty"`
	LastSeen      time.Time `json:"lastSeen"`
}

// TypingKey identifies a typing indicator.
type TypingKey struct {
	ChannelID     int64
	ParticipantID int64
}

// Presence tracks participant status and typing indicators.
// Every transition method reports whether a presence broadcast is due.
type Presence struct {
	now       func() time.Time
	typingTTL time.Duration

	mu     sync.Mutex
	states map[int64]*PresenceState
	typing map[TypingKey]time.Time // expiry
}

// NewPresence creates an empty tracker.
func NewPresence(typingTTL time.Duration, now func() time.Time) *Presence {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Presence{
		now:       now,
		typingTTL: typingTTL,
		states:    make(map[int64]*PresenceState),
		typing:    make(map[TypingKey]time.Time),
	}
}

// Connected marks the participant online.
func (p *Presence) Connected(who Participant) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[who.ID]
	if !ok {
		st = &PresenceState{ParticipantID: who.ID, Status: StatusOffline}
		p.states[who.ID] = st
	}
	if who.Name != "" {
		st.Name = who.Name
	}
	st.LastSeen = p.now()
	changed := st.Status != StatusOnline
	st.Status = StatusOnline
	return *st, changed
}

// Disconnected marks the participant offline and drops its typing indicators.
func (p *Presence) Disconnected(participantID int64) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k := range p.typing {
		if k.ParticipantID == participantID {
			delete(p.typing, k)
		}
	}

	st, ok := p.states[participantID]
	if !ok {
		return PresenceState{ParticipantID: participantID, Status: StatusOffline}, false
	}
	st.LastSeen = p.now()
	changed := st.Status != StatusOffline
	st.Status = StatusOffline
	return *st, changed
}

// Touch records activity. An away participant comes back online.
func (p *Presence) Touch(participantID int64) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[participantID]
	if !ok || st.Status == StatusOffline {
		return PresenceState{}, false
	}
	st.LastSeen = p.now()
	if st.Status == StatusAway {
		st.Status = StatusOnline
		return *st, true
	}
	return *st, false
}

// MarkAway moves an online participant to away unless they were seen after
// idleBefore.
func (p *Presence) MarkAway(participantID int64, idleBefore time.Time) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[participantID]
	if !ok || st.Status != StatusOnline || st.LastSeen.After(idleBefore) {
		return PresenceState{}, false
	}
	st.Status = StatusAway
	return *st, true
}

// SetMessage updates the status message. The status category is unchanged
// but the presence is always republished.
func (p *Presence) SetMessage(participantID int64, msg string) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[participantID]
	if !ok || st.Status == StatusOffline {
		return PresenceState{}, false
	}
	st.Message = msg
	st.LastSeen = p.now()
	return *st, true
}

// Get returns the presence of one participant.
func (p *Presence) Get(participantID int64) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[participantID]
	if !ok {
		return PresenceState{}, false
	}
	return *st, true
}

// Snapshot returns every known presence ordered by participant id.
func (p *Presence) Snapshot() []PresenceState {
	p.mu.Lock()
	out := make([]PresenceState, 0, len(p.states))
	for _, st := range p.states {
		out = append(out, *st)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// SetTyping starts or refreshes (typing=true) or clears (typing=false) an
// indicator. It reports whether the indicator existed before the call.
func (p *Presence) SetTyping(channelID, participantID int64, typing bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := TypingKey{ChannelID: channelID, ParticipantID: participantID}
	_, existed := p.typing[key]
	if typing {
		p.typing[key] = p.now().Add(p.typingTTL)
	} else {
		delete(p.typing, key)
	}
	return existed
}

// IsTyping reports whether an unexpired indicator exists.
func (p *Presence) IsTyping(channelID, participantID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	exp, ok := p.typing[TypingKey{ChannelID: channelID, ParticipantID: participantID}]
	return ok && p.now().Before(exp)
}

// ExpireTyping removes indicators whose TTL passed and returns them.
func (p *Presence) ExpireTyping() []TypingKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var expired []TypingKey
	for k, exp := range p.typing {
		if !now.Before(exp) {
			expired = append(expired, k)
			delete(p.typing, k)
		}
	}
	return expired
}
