package cluster

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/vovakirdan/staffchat-server/internal/config"
)

func TestChannelIDCodec(t *testing.T) {
	id, err := decodeChannelID(encodeChannelID(42))
	if err != nil || id != 42 {
		t.Fatalf("round trip failed: %d %v", id, err)
	}
	for _, bad := range []string{"", "abc", "-3", "0"} {
		if _, err := decodeChannelID([]byte(bad)); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNewNoopAndUnknown(t *testing.T) {
	ctx := context.Background()

	bus, err := New(ctx, config.BusConfig{Driver: "none"}, nil)
	if err != nil {
		t.Fatalf("noop bus: %v", err)
	}
	if err := bus.PublishInvalidation(ctx, 1); err != nil {
		t.Fatalf("noop publish: %v", err)
	}

	subCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := bus.Subscribe(subCtx, func(int64) { t.Error("noop bus delivered a message") }); err != nil {
		t.Fatalf("noop subscribe: %v", err)
	}

	if _, err := New(ctx, config.BusConfig{Driver: "carrier-pigeon"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// TestBusRoundTrip runs against live brokers named by STAFFCHAT_TEST_REDIS_ADDR / STAFFCHAT_TEST_NATS_URL.
func TestBusRoundTrip(t *testing.T) {
	cases := map[string]config.BusConfig{}
	if addr := os.Getenv("STAFFCHAT_TEST_REDIS_ADDR"); addr != "" {
		cases["redis"] = config.BusConfig{Driver: "redis", RedisAddr: addr, Channel: "staffchat.test"}
	}
	if url := os.Getenv("STAFFCHAT_TEST_NATS_URL"); url != "" {
		cases["nats"] = config.BusConfig{Driver: "nats", NATSURL: url, Channel: "staffchat.test"}
	}
	if len(cases) == 0 {
		t.Skip("no broker configured")
	}

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			bus, err := New(ctx, cfg, nil)
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
			defer bus.Close()

			got := make(chan int64, 1)
			go func() { _ = bus.Subscribe(ctx, func(id int64) { got <- id }) }()
			time.Sleep(200 * time.Millisecond)

			if err := bus.PublishInvalidation(ctx, 77); err != nil {
				t.Fatalf("publish: %v", err)
			}
			select {
			case id := <-got:
				if id != 77 {
					t.Fatalf("unexpected channel id %d", id)
				}
			case <-ctx.Done():
				t.Fatal("invalidation not received")
			}
		})
	}
}
