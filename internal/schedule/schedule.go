// Package schedule runs the server's fixed-interval maintenance jobs.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a periodic task. It receives the context passed to Start.
type Job func(ctx context.Context)

type entry struct {
	id    cron.EntryID
	every time.Duration
	job   Job
}

// Scheduler wraps a cron runner with named interval jobs.
type Scheduler struct {
	c   *cron.Cron
	log zerolog.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]*entry
}

// New creates a stopped scheduler. Job panics are recovered and a job that is
// still running when its next tick fires is skipped.
func New(logger *zerolog.Logger) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "schedule").Logger()
	}
	cl := cronLogger{log: l}
	return &Scheduler{
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:  l,
		ctx:  context.Background(),
		jobs: make(map[string]*entry),
	}
}

// Every registers job to run every interval. Re-registering a name replaces it.
func (s *Scheduler) Every(name string, every time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.c.Remove(old.id)
	}
	e := &entry{every: every, job: job}
	e.id = s.c.Schedule(cron.Every(every), cron.FuncJob(func() { s.run(name, job) }))
	s.jobs[name] = e
	s.log.Debug().Str("job", name).Dur("every", every).Msg("job scheduled")
	return nil
}

// Reschedule changes the interval of a registered job.
func (s *Scheduler) Reschedule(name string, every time.Duration) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %s: not registered", name)
	}
	if e.every == every {
		return nil
	}
	return s.Every(name, every, e.job)
}

// Trigger runs a registered job immediately on the caller's goroutine.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %s: not registered", name)
	}
	s.run(name, e.job)
	return nil
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins triggering jobs. ctx is handed to every job run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.c.Start()
	s.log.Info().Int("jobs", len(s.Jobs())).Msg("scheduler started")
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	job(ctx)
	s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
