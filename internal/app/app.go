package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/staffchat-server/internal/auth"
	"github.com/vovakirdan/staffchat-server/internal/cluster"
	"github.com/vovakirdan/staffchat-server/internal/config"
	"github.com/vovakirdan/staffchat-server/internal/core"
	"github.com/vovakirdan/staffchat-server/internal/log"
	"github.com/vovakirdan/staffchat-server/internal/schedule"
	"github.com/vovakirdan/staffchat-server/internal/store"
	"github.com/vovakirdan/staffchat-server/internal/store/postgres"
	"github.com/vovakirdan/staffchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/staffchat-server/internal/transport/http"
)

// Periodic job names.
const (
	JobResetRateLimits = "reset-rate-limits"
	JobSweep           = "health-sweep"
	JobExpireTyping    = "expire-typing"
)

// App wires together core and transport layers.
type App struct {
	cfg             config.Config
	configPath      string
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	bus             cluster.Bus
	scheduler       *schedule.Scheduler
	log             *zerolog.Logger

	// pinnedLogLevel is set when the level came from the command line;
	// config reloads then leave it alone.
	pinnedLogLevel bool
}

// Option customizes an App.
type Option func(*App)

// WithPinnedLogLevel keeps the configured log level across config reloads.
func WithPinnedLogLevel() Option {
	return func(a *App) { a.pinnedLogLevel = true }
}

// New constructs the application with provided configuration. configPath is
// watched for changes when non-empty.
func New(ctx context.Context, cfg config.Config, configPath string, logger *zerolog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store initialized")

	bus, err := cluster.New(ctx, cfg.Bus, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init bus: %w", err)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	})

	hub := core.NewHub(hubConfig(cfg.Hub), st, st, logger)
	server := transporthttp.NewServer(hub, authService, bus, &cfg, logger)

	a := &App{
		cfg:             cfg,
		configPath:      configPath,
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		bus:             bus,
		scheduler:       schedule.New(logger),
		log:             logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.registerJobs(); err != nil {
		a.cleanup()
		return nil, err
	}
	return a, nil
}

// Hub exposes the engine, mostly for tests.
func (a *App) Hub() *core.Hub { return a.hub }

// Run starts the HTTP server, the hub, the scheduler and the invalidation
// subscriber, and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Run(gctx)
	})

	g.Go(func() error {
		if err := a.bus.Subscribe(gctx, a.hub.InvalidateRoster); err != nil {
			return fmt.Errorf("invalidation subscriber: %w", err)
		}
		return nil
	})

	a.scheduler.Start(gctx)

	if a.configPath != "" {
		if err := config.Watch(a.log, a.configPath, a.applyConfig); err != nil {
			a.log.Warn().Err(err).Str("path", a.configPath).Msg("config hot reload disabled")
		}
	}

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("starting http server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		a.scheduler.Stop(shutdownCtx)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.cleanup()
	return err
}

func (a *App) registerJobs() error {
	if err := a.scheduler.Every(JobResetRateLimits, a.cfg.Hub.RateWindow, func(context.Context) {
		a.hub.ResetRateLimits()
	}); err != nil {
		return err
	}
	if err := a.scheduler.Every(JobSweep, a.cfg.Hub.SweepInterval, func(ctx context.Context) {
		a.hub.Sweep(ctx)
	}); err != nil {
		return err
	}
	return a.scheduler.Every(JobExpireTyping, typingInterval(a.cfg.Hub.TypingTTL), func(ctx context.Context) {
		a.hub.ExpireTyping(ctx)
	})
}

// applyConfig applies the settings that can change without a restart.
func (a *App) applyConfig(cfg config.Config) {
	if err := cfg.Validate(); err != nil {
		a.log.Warn().Err(err).Msg("ignoring invalid config")
		return
	}

	if !a.pinnedLogLevel && cfg.LogLevel != a.cfg.LogLevel {
		log.SetLevel(cfg.LogLevel)
		a.cfg.LogLevel = cfg.LogLevel
	}
	if cfg.Hub.RateLimit != a.cfg.Hub.RateLimit {
		a.hub.SetRateLimit(cfg.Hub.RateLimit)
		a.log.Info().Int("rate_limit", cfg.Hub.RateLimit).Msg("rate limit updated")
	}
	if cfg.Hub.RateWindow != a.cfg.Hub.RateWindow {
		if err := a.scheduler.Reschedule(JobResetRateLimits, cfg.Hub.RateWindow); err != nil {
			a.log.Warn().Err(err).Msg("reschedule rate limit reset")
		}
	}
	if cfg.Hub.SweepInterval != a.cfg.Hub.SweepInterval {
		if err := a.scheduler.Reschedule(JobSweep, cfg.Hub.SweepInterval); err != nil {
			a.log.Warn().Err(err).Msg("reschedule health sweep")
		}
	}

	a.cfg.Hub.RateLimit = cfg.Hub.RateLimit
	a.cfg.Hub.RateWindow = cfg.Hub.RateWindow
	a.cfg.Hub.SweepInterval = cfg.Hub.SweepInterval
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close bus")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "postgres":
		return postgres.Connect(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func hubConfig(cfg config.HubConfig) core.Config {
	return core.Config{
		RateLimit:              cfg.RateLimit,
		RosterTTL:              cfg.RosterTTL,
		TypingTTL:              cfg.TypingTTL,
		IdleTimeout:            cfg.IdleTimeout,
		AwayAfter:              cfg.AwayAfter,
		MaxDropped:             cfg.MaxDropped,
		MaxConnsPerParticipant: cfg.MaxConnsPerParticipant,
		Workers:                cfg.Workers,
		PriorityWorkers:        cfg.PriorityWorkers,
		QueueSize:              cfg.QueueSize,
		OutboundQueue:          cfg.OutboundQueue,
		WriteTimeout:           cfg.WriteTimeout,
	}
}

// typingInterval polls at half the typing TTL, but no more than once a second.
func typingInterval(ttl time.Duration) time.Duration {
	if d := ttl / 2; d > time.Second {
		return d
	}
	return time.Second
}
