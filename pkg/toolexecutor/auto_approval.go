package toolexecutor

import "context"

// AutoApproveHandler approves every request without user interaction.
type AutoApproveHandler struct{}

// RequestApproval implements ApprovalHandler.
func (AutoApproveHandler) RequestApproval(_ context.Context, _ ApprovalRequest) (ApprovalResponse, error) {
	return ApprovalResponse{Approved: true, Reason: "auto-approved"}, nil
}

// AutoDenyHandler denies every request. It is used for unattended runs
// where nobody can review a command.
type AutoDenyHandler struct{}

// RequestApproval implements ApprovalHandler.
func (AutoDenyHandler) RequestApproval(_ context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	return ApprovalResponse{Approved: false, Reason: "review required: " + req.Reason}, nil
}
