package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// client is one WebSocket connection with a bounded outbound queue. A
// dedicated writer goroutine drains the queue so producers never block on
// a slow socket; a full queue marks the client for eviction instead.
type client struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc

	closeOnce sync.Once

	mu       sync.Mutex
	sessions map[string]struct{}
}

func newClient(id string, conn *websocket.Conn, queueBound int, cancel context.CancelFunc) *client {
	return &client{
		id:       id,
		ws:       conn,
		send:     make(chan []byte, queueBound),
		cancel:   cancel,
		sessions: make(map[string]struct{}),
	}
}

// trySend enqueues data without blocking. False means the queue is full
// and the client should be evicted as a slow consumer.
func (c *client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings. Runs until the context is cancelled or a
// write fails.
func (c *client) writePump(ctx context.Context, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

// close tears the connection down exactly once.
func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.ws != nil {
			_ = c.ws.Close(code, reason)
		}
	})
}

// subscribe adds session ids to the client's set and reports which were
// newly added.
func (c *client) subscribe(ids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.sessions[id]; !ok {
			c.sessions[id] = struct{}{}
			added = append(added, id)
		}
	}
	return added
}

// unsubscribe removes session ids from the client's set.
func (c *client) unsubscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.sessions, id)
	}
}

// subscribed reports whether the client currently subscribes to id.
func (c *client) subscribed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

// subscriptions returns a copy of the current subscription set.
func (c *client) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}
