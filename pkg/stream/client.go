package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client is one WebSocket connection. All writes go through writeLoop.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	subs map[string]bool
}

func newClient(id string, conn *websocket.Conn, buffer int) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		subs: make(map[string]bool),
	}
}

func (c *client) subscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sessionID] = true
}

func (c *client) unsubscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID == "" {
		c.subs = make(map[string]bool)
		return
	}
	delete(c.subs, sessionID)
}

func (c *client) subscribed(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[AllSessions] || c.subs[sessionID]
}

// enqueue reports false only when the send queue is full. Frames for a
// closed client are discarded.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}
