package core

import "sync"

// Registry indexes live connections by id and by participant.
// No method performs I/O while holding the lock.
type Registry struct {
	mu            sync.RWMutex
	conns         map[string]*Conn
	byParticipant map[int64]map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:         make(map[string]*Conn),
		byParticipant: make(map[int64]map[string]*Conn),
	}
}

// Register inserts c. It reports whether c is the participant's first connection.
func (r *Registry) Register(c *Conn) (first bool) {
	first, _ = r.TryRegister(c, 0)
	return first
}

// TryRegister inserts c unless the participant already holds limit
// connections. A limit <= 0 means unlimited.
func (r *Registry) TryRegister(c *Conn, limit int) (first, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byParticipant[c.Participant.ID]
	if limit > 0 && len(set) >= limit {
		return false, false
	}
	if set == nil {
		set = make(map[string]*Conn)
		r.byParticipant[c.Participant.ID] = set
	}
	set[c.ID] = c
	r.conns[c.ID] = c
	return len(set) == 1, true
}

// Unregister removes the connection and reports whether the participant
// still has other connections open.
func (r *Registry) Unregister(id string) (c *Conn, remaining bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok = r.conns[id]
	if !ok {
		return nil, false, false
	}
	delete(r.conns, id)

	set := r.byParticipant[c.Participant.ID]
	delete(set, id)
	if len(set) == 0 {
		delete(r.byParticipant, c.Participant.ID)
		return c, false, true
	}
	return c, true, true
}

// Lookup returns the connection with the given id.
func (r *Registry) Lookup(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// ConnectionsFor returns the ids of the participant's open connections.
func (r *Registry) ConnectionsFor(participantID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byParticipant[participantID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// connsFor appends the live connections of every participant in ids, except
// the excluded participant (0 excludes nobody).
func (r *Registry) connsFor(ids []int64, except int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(ids))
	for _, pid := range ids {
		if pid == except && except != 0 {
			continue
		}
		for _, c := range r.byParticipant[pid] {
			out = append(out, c)
		}
	}
	return out
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Participants returns the ids of participants with at least one connection.
func (r *Registry) Participants() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(r.byParticipant))
	for pid := range r.byParticipant {
		out = append(out, pid)
	}
	return out
}
