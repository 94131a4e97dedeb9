package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Transport is the raw socket behind a connection. Write is only ever called
// from the connection's writer goroutine.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Participant is a lightweight reference to an authenticated user.
type Participant struct {
	ID   int64
	Name string
}

// Conn is one live client session. The registry owns it; the dispatcher only
// ever hands it bytes through deliver.
type Conn struct {
	ID          string
	Participant Participant
	Protocol    int
	OpenedAt    time.Time

	transport Transport
	stats     *Stats

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos
	outbound     atomic.Int64
	dropped      atomic.Int64

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, p Participant, protocol int, t Transport, queueSize int, now time.Time, stats *Stats) *Conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Conn{
		ID:          id,
		Participant: p,
		Protocol:    protocol,
		OpenedAt:    now,
		transport:   t,
		stats:       stats,
		queue:       make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) LastActivity() time.Time { return time.Unix(0, c.lastActivity.Load()) }

// Outbound is the number of frames written to the transport.
func (c *Conn) Outbound() int64 { return c.outbound.Load() }

// Dropped is the number of frames that never reached the transport.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

func (c *Conn) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// deliver queues data for the writer without blocking. A full queue or a
// closing connection counts as a drop.
func (c *Conn) deliver(data []byte) bool {
	if c.State() != StateOpen {
		c.drop()
		return false
	}
	select {
	case c.queue <- data:
		return true
	default:
		c.drop()
		return false
	}
}

func (c *Conn) drop() {
	c.dropped.Add(1)
	if c.stats != nil {
		c.stats.dropped.Add(1)
	}
}

// writeLoop is the only goroutine that writes to the transport, so frames
// leave in submission order.
func (c *Conn) writeLoop(timeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := c.transport.Write(ctx, data)
			cancel()
			if err != nil {
				c.drop()
				continue
			}
			c.outbound.Add(1)
			if c.stats != nil {
				c.stats.messagesOut.Add(1)
			}
		}
	}
}

// close stops the writer and closes the transport. Safe to call repeatedly.
func (c *Conn) close(reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		_ = c.transport.Close(reason)
		c.state.Store(int32(StateClosed))
	})
}
