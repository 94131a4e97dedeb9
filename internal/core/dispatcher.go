package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/staffchat-server/internal/proto"
)

// DispatcherConfig sizes the fan-out pools.
type DispatcherConfig struct {
	Workers         int
	PriorityWorkers int
	QueueSize       int
}

// fanout is one broadcast: pre-serialized bytes plus how to find targets.
type fanout struct {
	data         []byte
	participants []int64
	except       int64
	all          bool
	kind         string
}

// Dispatcher serializes each broadcast once and fans it out from a bounded
// worker pool. Alerts have their own queue and workers.
type Dispatcher struct {
	registry *Registry
	roster   *RosterCache
	log      zerolog.Logger
	cfg      DispatcherConfig

	tasks    chan fanout
	priority chan fanout

	quit      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewDispatcher(registry *Registry, roster *RosterCache, cfg DispatcherConfig, logger *zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PriorityWorkers <= 0 {
		cfg.PriorityWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "dispatcher").Logger()
	}
	return &Dispatcher{
		registry: registry,
		roster:   roster,
		log:      l,
		cfg:      cfg,
		tasks:    make(chan fanout, cfg.QueueSize),
		priority: make(chan fanout, cfg.QueueSize),
		quit:     make(chan struct{}),
	}
}

// Start launches the worker pools.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for range d.cfg.Workers {
			d.wg.Add(1)
			go d.worker(d.tasks)
		}
		for range d.cfg.PriorityWorkers {
			d.wg.Add(1)
			go d.worker(d.priority)
		}
	})
}

// Stop halts the workers. Queued fan-outs are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.quit) })
	d.wg.Wait()
}

// Broadcast sends f to every connection of every member of the channel.
func (d *Dispatcher) Broadcast(ctx context.Context, channelID int64, f proto.Frame) error {
	return d.BroadcastExcept(ctx, channelID, 0, f)
}

// BroadcastExcept sends f to the channel, skipping one participant.
func (d *Dispatcher) BroadcastExcept(ctx context.Context, channelID, except int64, f proto.Frame) error {
	members, err := d.roster.MembersOf(ctx, channelID)
	if err != nil {
		return fmt.Errorf("resolve roster %d: %w", channelID, err)
	}
	data, err := proto.Encode(f)
	if err != nil {
		d.log.Error().Err(err).Int64("channel_id", channelID).Msg("serialize broadcast")
		return err
	}
	return d.submit(ctx, d.tasks, fanout{data: data, participants: members, except: except, kind: f.Type})
}

// BroadcastAll sends f to every registered connection.
func (d *Dispatcher) BroadcastAll(ctx context.Context, f proto.Frame) error {
	data, err := proto.Encode(f)
	if err != nil {
		d.log.Error().Err(err).Msg("serialize broadcast")
		return err
	}
	return d.submit(ctx, d.tasks, fanout{data: data, all: true, kind: f.Type})
}

// BroadcastPriority sends f to every registered connection on the alert path.
func (d *Dispatcher) BroadcastPriority(ctx context.Context, f proto.Frame) error {
	data, err := proto.Encode(f)
	if err != nil {
		d.log.Error().Err(err).Msg("serialize priority broadcast")
		return err
	}
	return d.submit(ctx, d.priority, fanout{data: data, all: true, kind: f.Type})
}

// submit blocks while the queue is full.
func (d *Dispatcher) submit(ctx context.Context, q chan fanout, t fanout) error {
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	select {
	case q <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return ErrDispatcherStopped
	}
}

func (d *Dispatcher) worker(q chan fanout) {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case t := <-q:
			d.run(t)
		}
	}
}

func (d *Dispatcher) run(t fanout) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("kind", t.kind).Msg("fan-out task panicked")
		}
	}()

	var targets []*Conn
	if t.all {
		targets = d.registry.All()
	} else {
		targets = d.registry.connsFor(t.participants, t.except)
	}

	dropped := 0
	for _, c := range targets {
		if !c.deliver(t.data) {
			dropped++
		}
	}
	if dropped > 0 {
		d.log.Debug().Str("kind", t.kind).Int("targets", len(targets)).Int("dropped", dropped).Msg("fan-out dropped frames")
	}
}
