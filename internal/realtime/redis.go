package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/astro-consult/internal/application"
)

const defaultChannel = "consult.rooms"

// frame is the cross-instance wire format. The event payload stays an
// opaque JSON blob so the bridge never re-encodes it.
type frame struct {
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge replicates room events across instances through a Redis
// channel. Published events go to Redis only; the subscription loop,
// which every instance runs including the publisher, delivers them into
// the local hub. That keeps a single delivery path regardless of which
// instance originated the event.
type Bridge struct {
	hub     *Hub
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewBridge wires a hub to a Redis client.
func NewBridge(hub *Hub, client *redis.Client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		hub:     hub,
		client:  client,
		channel: defaultChannel,
		logger:  logger,
	}
}

// Publish sends the event to the Redis channel. Local delivery happens
// when the subscription loop receives it back.
func (b *Bridge) Publish(ctx context.Context, roomID string, event application.MessageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding room event: %w", err)
	}
	encoded, err := json.Marshal(frame{RoomID: roomID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding room frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, encoded).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// Start launches the subscription loop. Calling Start on a running
// bridge is a no-op.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.stopped = make(chan struct{})
	go b.subscribe(loopCtx, b.stopped)
}

// Stop cancels the subscription loop and waits for it to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	stopped := b.stopped
	b.mu.Unlock()

	cancel()
	<-stopped
}

func (b *Bridge) subscribe(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.logger.Warn("dropping malformed room frame", "error", err)
				continue
			}
			if err := b.hub.deliver(ctx, f.RoomID, f.Payload); err != nil {
				b.logger.Warn("local delivery failed", "room_id", f.RoomID, "error", err)
			}
		}
	}
}
