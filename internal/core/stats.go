package core

import "sync/atomic"

// Stats holds the engine's aggregate counters. They are for visibility only.
type Stats struct {
	current     atomic.Int64
	peak        atomic.Int64
	total       atomic.Int64
	messagesIn  atomic.Int64
	messagesOut atomic.Int64
	dropped     atomic.Int64
	rejected    atomic.Int64
	evicted     atomic.Int64
}

// Snapshot is a read-only copy of Stats.
type Snapshot struct {
	CurrentConnections int64 `json:"currentConnections"`
	PeakConnections    int64 `json:"peakConnections"`
	TotalConnections   int64 `json:"totalConnections"`
	MessagesIn         int64 `json:"messagesIn"`
	MessagesOut        int64 `json:"messagesOut"`
	Dropped            int64 `json:"dropped"`
	Rejected           int64 `json:"rejected"`
	Evicted            int64 `json:"evicted"`
	OnlineParticipants int   `json:"onlineParticipants"`
	CachedRosters      int   `json:"cachedRosters"`
	RateLimit          int   `json:"rateLimit"`
}

func (s *Stats) connOpened() {
	cur := s.current.Add(1)
	s.total.Add(1)
	for {
		peak := s.peak.Load()
		if cur <= peak || s.peak.CompareAndSwap(peak, cur) {
			return
		}
	}
}

func (s *Stats) connClosed() {
	s.current.Add(-1)
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		CurrentConnections: s.current.Load(),
		PeakConnections:    s.peak.Load(),
		TotalConnections:   s.total.Load(),
		MessagesIn:         s.messagesIn.Load(),
		MessagesOut:        s.messagesOut.Load(),
		Dropped:            s.dropped.Load(),
		Rejected:           s.rejected.Load(),
		Evicted:            s.evicted.Load(),
	}
}
