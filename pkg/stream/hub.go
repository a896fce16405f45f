// Package stream fans agent events out to WebSocket connections and accepts
// message and interrupt requests from them.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rockbite/localforge/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxRequestSize    = 1 << 20
)

// Hub tracks connections and publishes events to the ones subscribed to
// the event's session. It implements agent.EventSink.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	controller Controller
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     zerolog.Logger
	seq        uint64

	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup
}

// Config configures a Hub.
type Config struct {
	// Controller serves message and interrupt requests; without one the hub
	// is publish-only.
	Controller Controller
	// SendBuffer is the per-connection queue; a connection whose queue is
	// full is dropped.
	SendBuffer int
	// CheckOrigin defaults to same-origin checks.
	CheckOrigin func(r *http.Request) bool
	Logger      *zerolog.Logger
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*client),
		controller: cfg.Controller,
		upgrader:   websocket.Upgrader{CheckOrigin: cfg.CheckOrigin},
		sendBuffer: cfg.SendBuffer,
		logger:     logger.With().Str("component", "stream").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Emit publishes an agent event to subscribers of its session.
func (h *Hub) Emit(e agent.Event) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	h.Publish(Envelope{
		Type:      TypeEvent,
		SessionID: e.SessionID,
		Event:     &e,
		Timestamp: ts.UnixMilli(),
	})
}

// Publish assigns the next sequence number and queues env for every
// subscribed connection.
func (h *Hub) Publish(env Envelope) {
	env.Type = TypeEvent
	env.Seq = h.nextSeq()
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Int64("seq", env.Seq).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribed(env.SessionID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(data) {
			delivered++
			continue
		}
		h.logger.Warn().Str("clientId", c.id).Int64("seq", env.Seq).Msg("Dropping slow client")
		h.remove(c)
	}

	h.logger.Debug().
		Str("sessionId", env.SessionID).
		Int64("seq", env.Seq).
		Int("delivered", delivered).
		Msg("Event published")
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the connection until it
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "stream hub is closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, _ := gonanoid.New()
	c := newClient(id, conn, h.sendBuffer)
	if sid := r.URL.Query().Get("session"); sid != "" {
		c.subscribe(sid)
	}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	h.logger.Info().Str("clientId", id).Str("ip", r.RemoteAddr).Msg("Client connected")

	go c.writeLoop()
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		h.logger.Info().Str("clientId", c.id).Msg("Client disconnected")
	}()

	c.conn.SetReadLimit(maxRequestSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("clientId", c.id).Msg("WebSocket error")
			}
			return
		}
		h.handleRequest(c, message)
	}
}

func (h *Hub) handleRequest(c *client, message []byte) {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		h.respond(c, "", nil, "invalid request: "+err.Error())
		return
	}

	switch req.Method {
	case MethodSubscribe:
		if req.SessionID == "" {
			h.respond(c, req.ID, nil, "sessionId is required")
			return
		}
		c.subscribe(req.SessionID)
		h.respond(c, req.ID, map[string]bool{"subscribed": true}, "")

	case MethodUnsubscribe:
		c.unsubscribe(req.SessionID)
		h.respond(c, req.ID, map[string]bool{"subscribed": false}, "")

	case MethodInterrupt:
		if h.controller == nil {
			h.respond(c, req.ID, nil, "interrupts are not supported")
			return
		}
		h.respond(c, req.ID, map[string]bool{"interrupted": h.controller.Interrupt(req.SessionID)}, "")

	case MethodMessage:
		h.startTurn(c, req)

	default:
		h.respond(c, req.ID, nil, "unknown method: "+req.Method)
	}
}

// startTurn runs a message request in the background; its events reach
// the connection through its session subscription.
func (h *Hub) startTurn(c *client, req Request) {
	if h.controller == nil {
		h.respond(c, req.ID, nil, "messages are not supported")
		return
	}
	var params MessageParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.respond(c, req.ID, nil, "invalid params: "+err.Error())
			return
		}
	}
	if req.SessionID == "" || params.Text == "" {
		h.respond(c, req.ID, nil, "sessionId and text are required")
		return
	}
	c.subscribe(req.SessionID)

	h.turns.Add(1)
	go func() {
		defer h.turns.Done()
		result, err := h.controller.HandleMessage(h.ctx, agent.HandleParams{
			SessionID: req.SessionID,
			RequestID: params.RequestID,
			Text:      params.Text,
			AgentID:   params.AgentID,
			Model:     params.Model,
			Sink:      h,
		})
		if err != nil {
			h.respond(c, req.ID, nil, err.Error())
			return
		}
		h.respond(c, req.ID, result, "")
	}()
}

func (h *Hub) respond(c *client, id string, result interface{}, errMsg string) {
	data, err := json.Marshal(Envelope{
		Type:      TypeResponse,
		ID:        id,
		Result:    result,
		Error:     errMsg,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("clientId", c.id).Msg("Failed to marshal response")
		return
	}
	if !c.enqueue(data) {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
}

// Close cancels running turns, waits for them and closes every
// connection.
func (h *Hub) Close() {
	h.cancel()
	h.turns.Wait()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) nextSeq() int64 {
	return int64(atomic.AddUint64(&h.seq, 1))
}
