package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/cliprelay/internal/tracing"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// Client is one device's WebSocket connection. It satisfies
// device.Connection: the id is stable for the connection's lifetime and
// Emit never blocks.
type Client struct {
	id       string
	conn     *websocket.Conn
	remoteIP string
	router   *Router
	maxSize  int64

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, remoteIP string, router *Router, maxSize int64) *Client {
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		remoteIP: remoteIP,
		router:   router,
		maxSize:  maxSize,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Run announces the client to the router, pumps frames until the
// connection drops, then announces the disconnect.
func (c *Client) Run(ctx context.Context) {
	if !c.router.submit(ctx, envelope{kind: kindConnect, client: c}) {
		c.Close()
		c.conn.Close()
		return
	}
	go c.writePump()
	c.readPump(ctx)
	c.Close()
	c.router.submit(ctx, envelope{kind: kindDisconnect, client: c})
}

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.maxSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		// Reset read deadline on activity
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := protocol.ParseEvent(data)
		if err != nil {
			c.Emit(protocol.ErrInvalidRequest, protocol.ErrorPayload{Message: "invalid frame: " + err.Error()})
			continue
		}
		if !c.router.submit(ctx, envelope{kind: kindFrame, client: c, frame: frame}) {
			return
		}
	}
}

// writePump writes frames and pings to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Emit queues an event for this client. Events for a closed client, or
// beyond a full send buffer, are dropped.
func (c *Client) Emit(event string, payload any) {
	data, err := json.Marshal(protocol.NewEvent(event, payload))
	if err != nil {
		slog.Error("marshal event failed", "event", event, "error", err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping event", "client", c.id, "event", event)
	}
}

// Fail emits an error event and marks the current span as rejected.
func (c *Client) Fail(ctx context.Context, errorEvent, message string) {
	tracing.Reject(ctx, errorEvent)
	c.Emit(errorEvent, protocol.ErrorPayload{Message: message})
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// RemoteIP is the peer address the connection came from.
func (c *Client) RemoteIP() string { return c.remoteIP }

// Close stops the client's writer; the connection closes after a close
// frame is sent. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
