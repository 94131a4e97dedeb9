package app

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/staffchat-server/internal/config"
)

func newTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "staffchat.db")
	logger := zerolog.Nop()

	a, err := New(context.Background(), cfg, "", &logger, opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestNewRegistersPeriodicJobs(t *testing.T) {
	a := newTestApp(t)
	t.Cleanup(a.cleanup)

	jobs := a.scheduler.Jobs()
	for _, name := range []string{JobResetRateLimits, JobSweep, JobExpireTyping} {
		if !slices.Contains(jobs, name) {
			t.Fatalf("job %q not registered: %v", name, jobs)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mongo"
	logger := zerolog.Nop()

	if _, err := New(context.Background(), cfg, "", &logger); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestApplyConfigUpdatesRateLimit(t *testing.T) {
	a := newTestApp(t)
	t.Cleanup(a.cleanup)

	next := a.cfg
	next.Hub.RateLimit = 5
	next.Hub.SweepInterval = 30 * time.Second
	a.applyConfig(next)

	if got := a.Hub().Statistics().RateLimit; got != 5 {
		t.Fatalf("expected rate limit 5, got %d", got)
	}
	if a.cfg.Hub.SweepInterval != 30*time.Second {
		t.Fatalf("sweep interval not recorded: %v", a.cfg.Hub.SweepInterval)
	}

	bad := a.cfg
	bad.JWT.Secret = ""
	bad.Hub.RateLimit = 1
	a.applyConfig(bad)
	if got := a.Hub().Statistics().RateLimit; got != 5 {
		t.Fatalf("invalid config must be ignored, rate limit is %d", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("app did not stop")
	}
}

func TestTypingInterval(t *testing.T) {
	if got := typingInterval(6 * time.Second); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	if got := typingInterval(time.Second); got != time.Second {
		t.Fatalf("expected 1s floor, got %v", got)
	}
}

func TestApplyConfigLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	pinned := newTestApp(t, WithPinnedLogLevel())
	t.Cleanup(pinned.cleanup)

	next := pinned.cfg
	next.LogLevel = "error"
	pinned.applyConfig(next)
	if zerolog.GlobalLevel() != zerolog.InfoLevel || pinned.cfg.LogLevel != "info" {
		t.Fatalf("command-line log level replaced by reload: %s", zerolog.GlobalLevel())
	}

	free := newTestApp(t)
	t.Cleanup(free.cleanup)

	next = free.cfg
	next.LogLevel = "error"
	free.applyConfig(next)
	if zerolog.GlobalLevel() != zerolog.ErrorLevel || free.cfg.LogLevel != "error" {
		t.Fatalf("reload did not apply log level: %s", zerolog.GlobalLevel())
	}
}
