package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/staffchat-server/internal/proto"
	"github.com/vovakirdan/staffchat-server/internal/store"
	"github.com/vovakirdan/staffchat-server/internal/utils"
)

// Config tunes the engine.
type Config struct {
	RateLimit              int
	RosterTTL              time.Duration
	TypingTTL              time.Duration
	IdleTimeout            time.Duration
	AwayAfter              time.Duration
	MaxDropped             int64
	MaxConnsPerParticipant int
	Workers                int
	PriorityWorkers        int
	QueueSize              int
	OutboundQueue          int
	WriteTimeout           time.Duration

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimit:              60,
		RosterTTL:              DefaultRosterTTL,
		TypingTTL:              DefaultTypingTTL,
		IdleTimeout:            15 * time.Minute,
		AwayAfter:              5 * time.Minute,
		MaxDropped:             100,
		MaxConnsPerParticipant: 5,
		Workers:                8,
		PriorityWorkers:        2,
		QueueSize:              1024,
		OutboundQueue:          64,
		WriteTimeout:           5 * time.Second,
	}
}

// Hub is the connection and broadcast engine. It is constructed once per
// process and torn down by cancelling the context given to Run.
type Hub struct {
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
	members  store.MembershipStore
	messages store.MessageStore

	registry   *Registry
	roster     *RosterCache
	limiter    *RateLimiter
	presence   *Presence
	dispatcher *Dispatcher
	health     *HealthMonitor
	stats      *Stats

	// lifecycle serializes connect and disconnect of one participant so
	// the registry and presence always agree.
	lifecycle participantLocks
}

// participantLocks is a fixed set of mutexes striped by participant id.
type participantLocks [64]sync.Mutex

func (l *participantLocks) lock(participantID int64) func() {
	m := &l[uint64(participantID)%uint64(len(l))]
	m.Lock()
	return m.Unlock
}

// NewHub wires the engine components together.
func NewHub(cfg Config, members store.MembershipStore, messages store.MessageStore, logger *zerolog.Logger) *Hub {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "hub").Logger()
	}

	registry := NewRegistry()
	roster := NewRosterCache(members, cfg.RosterTTL, now)
	return &Hub{
		cfg:        cfg,
		now:        now,
		log:        l,
		members:    members,
		messages:   messages,
		registry:   registry,
		roster:     roster,
		limiter:    NewRateLimiter(cfg.RateLimit),
		presence:   NewPresence(cfg.TypingTTL, now),
		dispatcher: NewDispatcher(registry, roster, DispatcherConfig{Workers: cfg.Workers, PriorityWorkers: cfg.PriorityWorkers, QueueSize: cfg.QueueSize}, logger),
		health: NewHealthMonitor(registry, HealthConfig{
			IdleTimeout: cfg.IdleTimeout,
			AwayAfter:   cfg.AwayAfter,
			MaxDropped:  cfg.MaxDropped,
		}, now),
		stats: &Stats{},
	}
}

// Run starts the dispatcher and blocks until ctx is done, then closes every
// tracked connection.
func (h *Hub) Run(ctx context.Context) error {
	h.dispatcher.Start()
	<-ctx.Done()

	conns := h.registry.All()
	for _, c := range conns {
		if _, _, ok := h.registry.Unregister(c.ID); ok {
			c.close("server shutdown")
			h.stats.connClosed()
		}
	}
	h.dispatcher.Stop()
	h.log.Info().Int("closed", len(conns)).Msg("hub stopped")
	return nil
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// AcceptConnection registers an authenticated transport and starts its writer.
func (h *Hub) AcceptConnection(ctx context.Context, t Transport, p Participant, protocol int) (*Conn, error) {
	if protocol != proto.ProtocolVersion {
		h.stats.rejected.Add(1)
		return nil, coreError(ErrCodeUnsupportedVersion, "unsupported protocol version")
	}

	c := newConn(utils.NewID(), p, protocol, t, h.cfg.OutboundQueue, h.now(), h.stats)

	unlock := h.lifecycle.lock(p.ID)
	defer unlock()

	first, ok := h.registry.TryRegister(c, h.cfg.MaxConnsPerParticipant)
	if !ok {
		h.stats.rejected.Add(1)
		return nil, coreError(ErrCodeTooManyConnections, "too many open connections")
	}
	h.stats.connOpened()
	go c.writeLoop(h.cfg.WriteTimeout)

	h.log.Info().
		Str("conn_id", c.ID).
		Int64("participant_id", p.ID).
		Bool("first", first).
		Msg("connection accepted")

	h.sendAck(c, "", proto.ActionConnected, proto.Ack{ConnectionID: c.ID, Protocol: protocol})

	if st, changed := h.presence.Connected(p); changed {
		h.publishPresence(ctx, st)
	}
	return c, nil
}

// CloseConnection unregisters and closes a connection. The participant goes
// offline when it was their last one. It reports whether the id was known.
func (h *Hub) CloseConnection(ctx context.Context, connID, reason string) bool {
	known, ok := h.registry.Lookup(connID)
	if !ok {
		return false
	}

	unlock := h.lifecycle.lock(known.Participant.ID)
	c, remaining, ok := h.registry.Unregister(connID)
	if !ok {
		unlock()
		return false
	}
	h.stats.connClosed()
	if !remaining {
		if st, changed := h.presence.Disconnected(c.Participant.ID); changed {
			h.publishPresence(ctx, st)
		}
	}
	unlock()

	c.close(reason)
	h.log.Info().
		Str("conn_id", connID).
		Int64("participant_id", c.Participant.ID).
		Str("reason", reason).
		Int64("outbound", c.Outbound()).
		Int64("dropped", c.Dropped()).
		Msg("connection closed")
	return true
}

// Broadcast sends f to every member of the channel.
func (h *Hub) Broadcast(ctx context.Context, channelID int64, f proto.Frame) error {
	f.ChannelID = channelID
	return h.dispatcher.Broadcast(ctx, channelID, f)
}

// BroadcastExcept sends f to every member of the channel but one.
func (h *Hub) BroadcastExcept(ctx context.Context, channelID, participantID int64, f proto.Frame) error {
	f.ChannelID = channelID
	return h.dispatcher.BroadcastExcept(ctx, channelID, participantID, f)
}

// BroadcastAll sends f to every connection.
func (h *Hub) BroadcastAll(ctx context.Context, f proto.Frame) error {
	return h.dispatcher.BroadcastAll(ctx, f)
}

// IssueAlert fans an emergency alert out on the priority path. It returns
// once the fan-out is queued.
func (h *Hub) IssueAlert(ctx context.Context, a proto.Alert) (proto.Alert, error) {
	if a.ID == "" {
		a.ID = utils.NewID()
	}
	if a.Severity == "" {
		a.Severity = "critical"
	}
	f, err := proto.NewFrame(proto.ActionIssued, a)
	if err != nil {
		return a, err
	}
	if err := h.dispatcher.BroadcastPriority(ctx, f); err != nil {
		return a, err
	}
	h.log.Warn().Str("alert_id", a.ID).Str("severity", a.Severity).Msg("alert issued")
	return a, nil
}

// PublishNews fans a news item out to every connection.
func (h *Hub) PublishNews(ctx context.Context, n proto.News) (proto.News, error) {
	if n.ID == "" {
		n.ID = utils.NewID()
	}
	f, err := proto.NewFrame(proto.ActionPublished, n)
	if err != nil {
		return n, err
	}
	return n, h.dispatcher.BroadcastAll(ctx, f)
}

// PublishChannelEvent fans a channel event out to the channel. Membership
// events ("member_*") invalidate the roster first so new members receive it.
func (h *Hub) PublishChannelEvent(ctx context.Context, channelID int64, ev proto.ChannelEvent) error {
	if strings.HasPrefix(ev.Kind, "member_") {
		h.roster.Invalidate(channelID)
	}
	f, err := proto.NewFrame(proto.ActionPublished, ev)
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, channelID, f)
}

// InvalidateRoster drops the cached roster of a channel.
func (h *Hub) InvalidateRoster(channelID int64) {
	h.roster.Invalidate(channelID)
}

// Statistics returns a snapshot of the aggregate counters.
func (h *Hub) Statistics() Snapshot {
	s := h.stats.Snapshot()
	s.OnlineParticipants = len(h.registry.Participants())
	s.CachedRosters = h.roster.Len()
	s.RateLimit = h.limiter.Limit()
	return s
}

// PresenceSnapshot returns every known participant presence.
func (h *Hub) PresenceSnapshot() []PresenceState {
	return h.presence.Snapshot()
}

// ResetRateLimits closes the current rate-limit window.
func (h *Hub) ResetRateLimits() {
	h.limiter.Reset()
}

// SetRateLimit changes the per-window ceiling.
func (h *Hub) SetRateLimit(limit int) {
	h.limiter.SetLimit(limit)
}

// Sweep runs one health pass: evicts unhealthy connections and moves idle
// participants to away.
func (h *Hub) Sweep(ctx context.Context) SweepResult {
	return h.applySweep(ctx, h.health.Inspect())
}

// applySweep acts on an inspection. Participants active since the inspection
// stay online; the returned Away lists only those still idle.
func (h *Hub) applySweep(ctx context.Context, res SweepResult) SweepResult {
	for _, ev := range res.Evict {
		if h.CloseConnection(ctx, ev.ConnID, ev.Reason) {
			h.stats.evicted.Add(1)
			h.log.Warn().
				Str("conn_id", ev.ConnID).
				Int64("participant_id", ev.ParticipantID).
				Str("reason", ev.Reason).
				Int64("outbound", ev.Outbound).
				Int64("dropped", ev.Dropped).
				Msg("connection evicted")
		}
	}

	var away []int64
	for _, pid := range res.Away {
		unlock := h.lifecycle.lock(pid)
		if h.health.StillAway(pid) {
			away = append(away, pid)
			if st, changed := h.presence.MarkAway(pid, h.now().Add(-h.cfg.AwayAfter)); changed {
				h.publishPresence(ctx, st)
			}
		}
		unlock()
	}
	res.Away = away
	return res
}

// ExpireTyping clears typing indicators past their TTL and tells the
// channel they stopped.
func (h *Hub) ExpireTyping(ctx context.Context) int {
	expired := h.presence.ExpireTyping()
	for _, k := range expired {
		h.broadcastTyping(ctx, k.ChannelID, k.ParticipantID, false)
	}
	return len(expired)
}

func (h *Hub) broadcastTyping(ctx context.Context, channelID, participantID int64, typing bool) {
	st, _ := h.presence.Get(participantID)
	f, err := proto.NewFrame("", proto.Typing{Typing: typing, Name: st.Name})
	if err != nil {
		return
	}
	f.ParticipantID = participantID
	if err := h.BroadcastExcept(ctx, channelID, participantID, f); err != nil {
		h.log.Warn().Err(err).Int64("channel_id", channelID).Msg("typing broadcast failed")
	}
}

func (h *Hub) publishPresence(ctx context.Context, st PresenceState) {
	f, err := proto.NewFrame(proto.ActionStatus, proto.Presence{
		Status:   string(st.Status),
		Message:  st.Message,
		Name:     st.Name,
		LastSeen: st.LastSeen.UnixMilli(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("build presence frame")
		return
	}
	f.ParticipantID = st.ParticipantID
	if err := h.dispatcher.BroadcastAll(ctx, f); err != nil {
		h.log.Warn().Err(err).Int64("participant_id", st.ParticipantID).Msg("presence broadcast failed")
	}
}

// send queues a frame for a single connection.
func (h *Hub) send(c *Conn, f proto.Frame) {
	data, err := proto.Encode(f)
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Msg("serialize frame")
		return
	}
	c.deliver(data)
}

func (h *Hub) sendAck(c *Conn, correlationID, action string, ack proto.Ack) {
	f, err := proto.NewFrame(action, ack)
	if err != nil {
		return
	}
	f.CorrelationID = correlationID
	f.ParticipantID = c.Participant.ID
	h.send(c, f)
}

func (h *Hub) sendError(c *Conn, correlationID, code, msg string) {
	h.send(c, proto.ErrorFrame(correlationID, code, msg))
}
