package subagent

import (
	"errors"
	"time"
)

// ErrTooManyRuns is returned when a parent session already has the maximum
// number of sub-agents running.
var ErrTooManyRuns = errors.New("subagent: too many concurrent runs")

// RunRecord represents a subagent execution record
type RunRecord struct {
	ID              string     `json:"id"`
	ParentSessionID string     `json:"parent_session_id"`
	ChildSessionID  string     `json:"child_session_id"`
	Prompt          string     `json:"prompt"`
	Model           string     `json:"model,omitempty"`
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Duration is the run time so far, or the total for finished runs.
func (r RunRecord) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// RunStatus represents the execution state of a subagent
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// IsTerminal returns true if the status is terminal
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Stats contains coordinator statistics
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
	AbortedRuns   int `json:"aborted_runs"`
}
