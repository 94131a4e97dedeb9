package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	JWT       JWTConfig       `mapstructure:"jwt" yaml:"jwt"`
	Hub       HubConfig       `mapstructure:"hub" yaml:"hub"`
	Handshake HandshakeConfig `mapstructure:"handshake" yaml:"handshake"`
	Bus       BusConfig       `mapstructure:"bus" yaml:"bus"`
}

// StoreConfig selects the membership and message store.
type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// JWTConfig configures token validation.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// HubConfig tunes the connection and broadcast engine.
type HubConfig struct {
	RateLimit              int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateWindow             time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
	RosterTTL              time.Duration `mapstructure:"roster_ttl" yaml:"roster_ttl"`
	TypingTTL              time.Duration `mapstructure:"typing_ttl" yaml:"typing_ttl"`
	IdleTimeout            time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	AwayAfter              time.Duration `mapstructure:"away_after" yaml:"away_after"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	MaxDropped             int64         `mapstructure:"max_dropped" yaml:"max_dropped"`
	MaxConnsPerParticipant int           `mapstructure:"max_conns_per_participant" yaml:"max_conns_per_participant"`
	Workers                int           `mapstructure:"workers" yaml:"workers"`
	PriorityWorkers        int           `mapstructure:"priority_workers" yaml:"priority_workers"`
	QueueSize              int           `mapstructure:"queue_size" yaml:"queue_size"`
	OutboundQueue          int           `mapstructure:"outbound_queue" yaml:"outbound_queue"`
	WriteTimeout           time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxMessageBytes        int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
}

// HandshakeConfig limits the rate of new websocket upgrades.
type HandshakeConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"` // 0 disables
	Burst         int     `mapstructure:"burst" yaml:"burst"`
}

// BusConfig selects the cross-node roster invalidation bus.
type BusConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"` // none, redis or nats
	Channel       string `mapstructure:"channel" yaml:"channel"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	NATSURL       string `mapstructure:"nats_url" yaml:"nats_url"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "staffchat.db",
		},
		JWT: JWTConfig{
			Secret:   "change-me",
			Issuer:   "staffchat",
			Audience: "staffchat-clients",
			TTL:      24 * time.Hour,
		},
		Hub: HubConfig{
			RateLimit:              60,
			RateWindow:             time.Minute,
			RosterTTL:              30 * time.Second,
			TypingTTL:              6 * time.Second,
			IdleTimeout:            15 * time.Minute,
			AwayAfter:              5 * time.Minute,
			SweepInterval:          time.Minute,
			MaxDropped:             100,
			MaxConnsPerParticipant: 5,
			Workers:                8,
			PriorityWorkers:        2,
			QueueSize:              1024,
			OutboundQueue:          64,
			WriteTimeout:           5 * time.Second,
			MaxMessageBytes:        64 << 10,
		},
		Handshake: HandshakeConfig{
			RatePerSecond: 50,
			Burst:         100,
		},
		Bus: BusConfig{
			Driver:    "none",
			Channel:   "staffchat.roster.invalidate",
			RedisAddr: "localhost:6379",
			NATSURL:   "nats://localhost:4222",
		},
	}
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Bus.Driver {
	case "", "none", "redis", "nats":
	default:
		errs = append(errs, fmt.Errorf("unknown bus.driver %q", c.Bus.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Hub.RateWindow <= 0 || c.Hub.SweepInterval <= 0 {
		errs = append(errs, errors.New("hub.rate_window and hub.sweep_interval must be positive"))
	}
	return errors.Join(errs...)
}
