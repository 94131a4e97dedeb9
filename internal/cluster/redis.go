package cluster

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus uses Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRedis connects to addr and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr, password string, db int, channel string, logger *zerolog.Logger) (*RedisBus, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisBus{client: c, channel: channel, log: componentLogger(logger, "redis")}, nil
}

func (b *RedisBus) PublishInvalidation(ctx context.Context, channelID int64) error {
	if err := b.client.Publish(ctx, b.channel, encodeChannelID(channelID)).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(int64)) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, err := decodeChannelID([]byte(msg.Payload))
			if err != nil {
				b.log.Warn().Err(err).Msg("dropping invalidation")
				continue
			}
			fn(id)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func componentLogger(logger *zerolog.Logger, driver string) zerolog.Logger {
	if logger == nil {
		return zerolog.Nop()
	}
	return logger.With().Str("component", "cluster").Str("driver", driver).Logger()
}
