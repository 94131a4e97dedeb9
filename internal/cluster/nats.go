package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBus uses a plain NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewNATS connects to url.
func NewNATS(url, subject string, logger *zerolog.Logger) (*NATSBus, error) {
	log := componentLogger(logger, "nats")
	nc, err := nats.Connect(url,
		nats.Name("staffchat-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSBus{conn: nc, subject: subject, log: log}, nil
}

func (b *NATSBus) PublishInvalidation(_ context.Context, channelID int64) error {
	if err := b.conn.Publish(b.subject, encodeChannelID(channelID)); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, fn func(int64)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		id, err := decodeChannelID(msg.Data)
		if err != nil {
			b.log.Warn().Err(err).Msg("dropping invalidation")
			return
		}
		fn(id)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe: %w", err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
