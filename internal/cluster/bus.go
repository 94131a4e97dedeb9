// Package cluster carries roster invalidations between server nodes so a
// membership change seen by one node drops the cached roster everywhere.
package cluster

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/staffchat-server/internal/config"
)

// Bus publishes and receives roster invalidations.
type Bus interface {
	PublishInvalidation(ctx context.Context, channelID int64) error
	// Subscribe calls fn for every invalidation until ctx is done.
	Subscribe(ctx context.Context, fn func(channelID int64)) error
	Close() error
}

// New builds the bus selected by cfg.Driver.
func New(ctx context.Context, cfg config.BusConfig, logger *zerolog.Logger) (Bus, error) {
	switch cfg.Driver {
	case "", "none":
		return Noop{}, nil
	case "redis":
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Channel, logger)
	case "nats":
		return NewNATS(cfg.NATSURL, cfg.Channel, logger)
	default:
		return nil, fmt.Errorf("cluster: unknown bus driver %q", cfg.Driver)
	}
}

// Noop is a single-node bus.
type Noop struct{}

func (Noop) PublishInvalidation(context.Context, int64) error { return nil }

func (Noop) Subscribe(ctx context.Context, _ func(int64)) error {
	<-ctx.Done()
	return nil
}

func (Noop) Close() error { return nil }

func encodeChannelID(id int64) []byte {
	return strconv.AppendInt(nil, id, 10)
}

func decodeChannelID(data []byte) (int64, error) {
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("cluster: bad channel id %q", data)
	}
	return id, nil
}
