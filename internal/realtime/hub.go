// Package realtime fans live consultation events out to connected
// websocket clients. Rooms are keyed by consultation id and delivery is
// best effort: a slow or dead connection is dropped rather than allowed
// to stall the room.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/astro-consult/internal/application"
)

// ErrBrokerUnavailable reports that the hub is not accepting events,
// either because it has not been started or because it is shutting down.
var ErrBrokerUnavailable = errors.New("realtime broker unavailable")

type envelope struct {
	roomID  string
	payload []byte
}

// Hub owns room membership and event fan-out. A single dispatcher
// goroutine serializes joins, leaves and publishes, so events for one
// room are delivered in publish order without locking around the room
// maps.
type Hub struct {
	logger *slog.Logger

	join   chan *Client
	leave  chan *Client
	events chan envelope

	rooms map[string]map[*Client]struct{}

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	stopped chan struct{}
}

// NewHub creates a hub. Call Start before publishing.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		join:   make(chan *Client),
		leave:  make(chan *Client),
		events: make(chan envelope, 64),
		rooms:  make(map[string]map[*Client]struct{}),
	}
}

// Start launches the dispatcher goroutine. Calling Start on a running
// hub is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stop = make(chan struct{})
	h.stopped = make(chan struct{})
	go h.run(h.stop, h.stopped)
}

// Shutdown stops the dispatcher and closes every connected client's
// send channel. It is safe to call on a hub that was never started.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stop := h.stop
	stopped := h.stopped
	h.mu.Unlock()

	close(stop)
	<-stopped
}

func (h *Hub) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case <-stop:
			for roomID, members := range h.rooms {
				for client := range members {
					close(client.send)
				}
				delete(h.rooms, roomID)
			}
			return
		case client := <-h.join:
			members, ok := h.rooms[client.roomID]
			if !ok {
				members = make(map[*Client]struct{})
				h.rooms[client.roomID] = members
			}
			members[client] = struct{}{}
		case client := <-h.leave:
			h.drop(client)
		case ev := <-h.events:
			for client := range h.rooms[ev.roomID] {
				select {
				case client.send <- ev.payload:
				default:
					// The client's buffer is full; cut it loose
					// instead of blocking the room.
					h.drop(client)
				}
			}
		}
	}
}

// drop runs on the dispatcher goroutine only.
func (h *Hub) drop(client *Client) {
	members, ok := h.rooms[client.roomID]
	if !ok {
		return
	}
	if _, ok := members[client]; !ok {
		return
	}
	delete(members, client)
	close(client.send)
	if len(members) == 0 {
		delete(h.rooms, client.roomID)
	}
}

// Join registers a client with its room. It blocks until the dispatcher
// accepts the client or the hub shuts down.
func (h *Hub) Join(client *Client) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrBrokerUnavailable
	}
	stop := h.stop
	h.mu.Unlock()

	select {
	case h.join <- client:
		return nil
	case <-stop:
		return ErrBrokerUnavailable
	}
}

// Leave removes a client from its room. The hub closes the client's
// send channel once the leave is processed.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	stop := h.stop
	h.mu.Unlock()

	select {
	case h.leave <- client:
	case <-stop:
	}
}

// Publish marshals the event and hands it to the dispatcher for the
// consultation's room. It satisfies the messaging service's broker
// dependency.
func (h *Hub) Publish(ctx context.Context, roomID string, event application.MessageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding room event: %w", err)
	}
	return h.deliver(ctx, roomID, payload)
}

// deliver enqueues an already encoded payload. The Redis bridge uses it
// to inject events that originated on other instances.
func (h *Hub) deliver(ctx context.Context, roomID string, payload []byte) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrBrokerUnavailable
	}
	stop := h.stop
	h.mu.Unlock()

	select {
	case h.events <- envelope{roomID: roomID, payload: payload}:
		return nil
	case <-stop:
		return ErrBrokerUnavailable
	case <-ctx.Done():
		return fmt.Errorf("publishing room event: %w", ctx.Err())
	}
}
