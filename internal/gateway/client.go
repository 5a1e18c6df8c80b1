// ABOUTME: WebSocket client connection bound to one session's event stream
// ABOUTME: Implements events.Subscriber with a bounded send buffer drained by a write pump

package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/murmur-gateway/internal/events"
)

// sendBufferSize bounds queued outbound frames per connection. A client that
// falls this far behind is disconnected.
const sendBufferSize = 256

// Client is one WebSocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu        sync.RWMutex
	sessionID string

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With("client_id", id),
		done:   make(chan struct{}),
	}
}

// ID implements events.Subscriber.
func (c *Client) ID() string { return c.id }

// SessionID returns the session the client is bound to.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) bind(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

// Deliver implements events.Subscriber. It never blocks the bus: a full send
// buffer closes the connection.
func (c *Client) Deliver(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to encode event", "type", env.Type, "error", err)
		return nil
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return events.ErrSubscriberGone
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return events.ErrSubscriberGone
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.Close()
		return events.ErrSubscriberGone
	}
}

// sendEvent queues an event for this connection only.
func (c *Client) sendEvent(typ events.Type, payload any) {
	_ = c.Deliver(events.New(typ, c.SessionID(), payload))
}

func (c *Client) sendError(code, detail string) {
	c.sendEvent(events.TypeError, events.Error{Message: code, Detail: detail})
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains the send buffer and pings at interval. It owns all writes
// to the socket.
func (c *Client) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
