package socket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

const roomChannelPrefix = "chat:room:"

// Fanout broadcasts room events to the subscribers on every node. Each
// event is published to a per-room Redis channel and Run delivers what
// arrives to the local hub. Without a Redis client it delivers locally.
type Fanout struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger
	ready  chan struct{}
}

var _ pipeline.Broadcaster = (*Fanout)(nil)

// NewFanout creates a fanout. client may be nil for a single node.
func NewFanout(client *redis.Client, hub *Hub, logger zerolog.Logger) *Fanout {
	return &Fanout{
		client: client,
		hub:    hub,
		logger: logger.With().Str("component", "fanout").Logger(),
		ready:  make(chan struct{}),
	}
}

// Broadcast sends event to every subscriber of roomID.
func (f *Fanout) Broadcast(ctx context.Context, roomID, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	if f.client == nil {
		f.hub.Deliver(roomID, frame)
		return nil
	}

	start := time.Now()
	err = f.client.Publish(ctx, roomChannelPrefix+roomID, frame).Err()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("publish to room %s: %w", roomID, err)
	}
	return nil
}

// Ready is closed once Run has subscribed.
func (f *Fanout) Ready() <-chan struct{} {
	return f.ready
}

// Run relays published room events to local subscribers until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	if f.client == nil {
		close(f.ready)
		<-ctx.Done()
		return nil
	}

	sub := f.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to room channels: %w", err)
	}
	close(f.ready)
	f.logger.Info().Msg("subscribed to room channels")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			n := f.hub.Deliver(roomID, []byte(msg.Payload))
			f.logger.Debug().Str("room", roomID).Int("delivered", n).Msg("room event relayed")
		}
	}
}
