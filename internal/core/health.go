package core

import "time"

// Eviction reasons.
const (
	ReasonIdle          = "idle"
	ReasonBackpressured = "backpressured"
)

// HealthConfig sets the thresholds of a sweep.
type HealthConfig struct {
	IdleTimeout time.Duration // evict connections idle this long
	AwayAfter   time.Duration // mark participants away when every connection is idle this long
	MaxDropped  int64         // evict connections that dropped more frames than this
}

// Eviction names a connection to close and why.
type Eviction struct {
	ConnID        string
	ParticipantID int64
	Reason        string
	Outbound      int64 // frames written before eviction
	Dropped       int64
}

// SweepResult is what one inspection found.
type SweepResult struct {
	Evict []Eviction
	Away  []int64
}

// HealthMonitor inspects registered connections. It decides; the hub acts.
type HealthMonitor struct {
	registry *Registry
	cfg      HealthConfig
	now      func() time.Time
}

func NewHealthMonitor(registry *Registry, cfg HealthConfig, now func() time.Time) *HealthMonitor {
	if now == nil {
		now = time.Now
	}
	return &HealthMonitor{registry: registry, cfg: cfg, now: now}
}

// Inspect walks a snapshot of the registry.
func (m *HealthMonitor) Inspect() SweepResult {
	now := m.now()
	var res SweepResult

	// participant -> still idle past AwayAfter on every surviving connection
	allIdle := make(map[int64]bool)

	for _, c := range m.registry.All() {
		idle := now.Sub(c.LastActivity())

		switch {
		case m.cfg.IdleTimeout > 0 && idle > m.cfg.IdleTimeout:
			res.Evict = append(res.Evict, evictionOf(c, ReasonIdle))
			continue
		case m.cfg.MaxDropped > 0 && c.Dropped() > m.cfg.MaxDropped:
			res.Evict = append(res.Evict, evictionOf(c, ReasonBackpressured))
			continue
		}

		away := m.cfg.AwayAfter > 0 && idle > m.cfg.AwayAfter
		prev, seen := allIdle[c.Participant.ID]
		allIdle[c.Participant.ID] = away && (!seen || prev)
	}

	for pid, idle := range allIdle {
		if idle {
			res.Away = append(res.Away, pid)
		}
	}
	return res
}

// StillAway re-checks one participant against the live registry: every
// connection must still be idle past AwayAfter.
func (m *HealthMonitor) StillAway(participantID int64) bool {
	if m.cfg.AwayAfter <= 0 {
		return false
	}
	now := m.now()
	ids := m.registry.ConnectionsFor(participantID)
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		c, ok := m.registry.Lookup(id)
		if !ok {
			continue
		}
		if now.Sub(c.LastActivity()) <= m.cfg.AwayAfter {
			return false
		}
	}
	return true
}

func evictionOf(c *Conn, reason string) Eviction {
	return Eviction{
		ConnID:        c.ID,
		ParticipantID: c.Participant.ID,
		Reason:        reason,
		Outbound:      c.Outbound(),
		Dropped:       c.Dropped(),
	}
}
