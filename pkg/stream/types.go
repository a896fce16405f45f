package stream

import (
	"context"
	"encoding/json"

	"github.com/rockbite/localforge/pkg/agent"
)

// Envelope types sent to connections.
const (
	TypeEvent    = "event"
	TypeResponse = "response"
)

// Methods accepted from connections.
const (
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
	MethodMessage     = "message"
	MethodInterrupt   = "interrupt"
)

// AllSessions subscribes a connection to every session.
const AllSessions = "*"

// Envelope is one frame written to a connection. Event frames carry a
// hub-wide sequence number that increases by one per published event.
type Envelope struct {
	Type      string       `json:"type"`
	Seq       int64        `json:"seq,omitempty"`
	SessionID string       `json:"sessionId,omitempty"`
	Event     *agent.Event `json:"event,omitempty"`
	// ID echoes the request id on response frames.
	ID        string      `json:"id,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Request is one frame read from a connection.
type Request struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// MessageParams are the params of a "message" request.
type MessageParams struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Controller runs turns for "message" and "interrupt" requests.
// *agent.Runner implements it.
type Controller interface {
	HandleMessage(ctx context.Context, p agent.HandleParams) (*agent.HandleResult, error)
	Interrupt(sessionID string) bool
}
