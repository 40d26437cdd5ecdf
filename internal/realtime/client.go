package realtime

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Ping interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound frame size. Clients only receive on this
	// connection; anything beyond a close frame is unexpected.
	maxInboundSize = 512

	sendBufferSize = 32
)

// Client pairs one websocket connection with one consultation room.
// Sending happens over the durable HTTP path, so the socket is a
// receive-only event stream.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	roomID string
	send   chan []byte
	logger *slog.Logger
}

// NewClient wraps an upgraded connection for the given room.
func NewClient(hub *Hub, conn *websocket.Conn, roomID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		roomID: roomID,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

// Serve joins the room and runs both pumps until the connection drops
// or the hub shuts down. It blocks for the lifetime of the connection.
func (c *Client) Serve() error {
	if err := c.hub.Join(c); err != nil {
		c.conn.Close()
		return err
	}
	go c.writePump()
	c.readPump()
	return nil
}

// readPump drains the connection so pongs and close frames are
// processed, then leaves the room.
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read ended", "room_id", c.roomID, "error", err)
			}
			return
		}
	}
}

// writePump forwards room events to the peer and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped this client or shut down.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
