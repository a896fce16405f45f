// Package subagent tracks nested agent runs dispatched from a session and
// bounds how many run at once per parent.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rockbite/localforge/pkg/coretools"
	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxConcurrent = 4
	defaultRetention     = 24 * time.Hour
	resultPreview        = 2000
)

// Runner executes a nested prompt. *agent.Runner implements it.
type Runner interface {
	RunSubAgent(ctx context.Context, req coretools.SubAgentRequest) (string, error)
}

// Coordinator manages subagent lifecycle and tracking
type Coordinator struct {
	runner        Runner
	maxConcurrent int
	retention     time.Duration
	runs          map[string]*RunRecord
	logger        zerolog.Logger
	now           func() time.Time
	mu            sync.RWMutex
}

// Config holds coordinator configuration
type Config struct {
	Runner Runner
	// MaxConcurrent bounds running sub-agents per parent session.
	MaxConcurrent int
	// Retention is how long finished records are kept by Cleanup.
	Retention time.Duration
	Logger    *zerolog.Logger
}

// NewCoordinator creates a new subagent coordinator
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Coordinator{
		runner:        cfg.Runner,
		maxConcurrent: cfg.MaxConcurrent,
		retention:     cfg.Retention,
		runs:          make(map[string]*RunRecord),
		logger:        logger.With().Str("component", "subagent").Logger(),
		now:           time.Now,
	}, nil
}

// RunSubAgent records the run, executes it through the runner and stores
// its outcome. It implements coretools.SubAgentRunner.
func (c *Coordinator) RunSubAgent(ctx context.Context, req coretools.SubAgentRequest) (string, error) {
	runID, err := c.register(req)
	if err != nil {
		return "", err
	}
	c.setStatus(runID, StatusRunning, "", "")

	text, err := c.runner.RunSubAgent(ctx, req)
	switch {
	case err == nil:
		c.setStatus(runID, StatusCompleted, text, "")
	case errors.Is(err, llm.ErrCancelled) || errors.Is(err, context.Canceled):
		c.setStatus(runID, StatusAborted, "", err.Error())
	default:
		c.setStatus(runID, StatusFailed, "", err.Error())
	}
	return text, err
}

// register checks the per-parent limit and adds a pending record in one
// critical section.
func (c *Coordinator) register(req coretools.SubAgentRequest) (string, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}

	c.mu.Lock()
	if c.countActive(req.ParentSessionID) >= c.maxConcurrent {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: session %s has %d running", ErrTooManyRuns, req.ParentSessionID, c.maxConcurrent)
	}
	record := &RunRecord{
		ID:              runID,
		ParentSessionID: req.ParentSessionID,
		ChildSessionID:  req.SessionID,
		Prompt:          req.Prompt,
		Model:           req.Model,
		Status:          StatusPending,
		StartedAt:       c.now(),
	}
	c.runs[runID] = record
	c.mu.Unlock()

	c.logger.Info().
		Str("runId", runID).
		Str("parentSession", req.ParentSessionID).
		Str("childSession", req.SessionID).
		Msg("Run registered")

	return runID, nil
}

func (c *Coordinator) setStatus(runID string, status RunStatus, result, errMsg string) {
	c.mu.Lock()
	record, exists := c.runs[runID]
	if !exists {
		c.mu.Unlock()
		return
	}
	record.Status = status
	if status.IsTerminal() {
		now := c.now()
		record.CompletedAt = &now
	}
	if result != "" {
		record.Result = truncate(result, resultPreview)
	}
	if errMsg != "" {
		record.Error = errMsg
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("runId", runID).
		Str("status", string(status)).
		Msg("Run status updated")
}

// ListDescendants returns all nested descendants of a session
func (c *Coordinator) ListDescendants(sessionID string) []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	descendants := []RunRecord{}
	seen := map[string]bool{sessionID: true}
	c.addDescendants(sessionID, seen, &descendants)
	sortByStart(descendants)
	return descendants
}

func (c *Coordinator) addDescendants(parentID string, seen map[string]bool, descendants *[]RunRecord) {
	for _, record := range c.runs {
		if record.ParentSessionID != parentID {
			continue
		}
		*descendants = append(*descendants, *record)
		if !seen[record.ChildSessionID] {
			seen[record.ChildSessionID] = true
			c.addDescendants(record.ChildSessionID, seen, descendants)
		}
	}
}

func (c *Coordinator) countActive(sessionID string) int {
	count := 0
	for _, record := range c.runs {
		if record.ParentSessionID == sessionID && !record.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Cleanup removes finished runs older than the retention and returns how
// many were removed.
func (c *Coordinator) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for runID, record := range c.runs {
		if !record.Status.IsTerminal() {
			continue
		}
		if record.CompletedAt != nil && record.CompletedAt.Before(cutoff) {
			delete(c.runs, runID)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("Cleanup completed")
	}
	return removed
}

// GetStats returns coordinator statistics
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		TotalRuns: len(c.runs),
	}

	for _, record := range c.runs {
		switch record.Status {
		case StatusPending, StatusRunning:
			stats.ActiveRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		case StatusAborted:
			stats.AbortedRuns++
		}
	}

	return stats
}

func sortByStart(records []RunRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
