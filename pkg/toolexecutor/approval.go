package toolexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ApprovalRequest asks whether a shell command that needs review may run.
type ApprovalRequest struct {
	Command   string        `json:"command"`
	Cwd       string        `json:"cwd"`
	SessionID string        `json:"session_id"`
	AgentID   string        `json:"agent_id,omitempty"`
	Model     string        `json:"model,omitempty"`
	Reason    string        `json:"reason"`
	Timeout   time.Duration `json:"timeout"`
}

// ApprovalResponse represents the response to an approval request
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// ApprovalHandler handles approval requests
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)
}

// ApprovalManager manages the approval workflow
type ApprovalManager struct {
	handler        ApprovalHandler
	defaultTimeout time.Duration
}

// NewApprovalManager creates a new approval manager
func NewApprovalManager(handler ApprovalHandler) *ApprovalManager {
	return &ApprovalManager{
		handler:        handler,
		defaultTimeout: 60 * time.Second,
	}
}

// RequestApproval returns true if the command is approved. Timeouts and
// handler failures deny.
func (am *ApprovalManager) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	if am == nil || am.handler == nil {
		return false, fmt.Errorf("no approval handler configured")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = am.defaultTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info().
		Str("command", req.Command).
		Str("session_id", req.SessionID).
		Str("reason", req.Reason).
		Msg("Requesting approval")

	responseChan := make(chan ApprovalResponse, 1)
	errorChan := make(chan error, 1)
	go func() {
		response, err := am.handler.RequestApproval(timeoutCtx, req)
		if err != nil {
			errorChan <- err
		} else {
			responseChan <- response
		}
	}()

	select {
	case response := <-responseChan:
		if response.Approved {
			log.Info().Str("command", req.Command).Str("reason", response.Reason).Msg("Approval granted")
		} else {
			log.Warn().Str("command", req.Command).Str("reason", response.Reason).Msg("Approval denied")
		}
		return response.Approved, nil

	case err := <-errorChan:
		log.Error().Err(err).Str("command", req.Command).Msg("Approval request failed")
		return false, fmt.Errorf("approval request failed: %w", err)

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn().Str("command", req.Command).Dur("timeout", timeout).Msg("Approval request timed out")
		return false, fmt.Errorf("approval request timed out after %v", timeout)
	}
}

// SetDefaultTimeout sets the default timeout for approval requests
func (am *ApprovalManager) SetDefaultTimeout(timeout time.Duration) {
	am.defaultTimeout = timeout
}
