package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/pkg/commandqueue"
	"github.com/rockbite/localforge/pkg/coretools"
	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/persona"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxIterations = 50
	defaultInterruptPoll = 100 * time.Millisecond
	defaultHintTimeout   = 5 * time.Second
)

// Runner drives the agent loop and handles user messages per session.
type Runner struct {
	gateway       *llm.Gateway
	sessions      *session.Manager
	queue         *commandqueue.CommandQueue
	tools         *toolexecutor.ToolExecutor
	personas      *persona.Registry
	credentials   map[string]llm.Credentials
	defaultDriver string
	defaultModel  string
	maxIterations int
	interruptPoll time.Duration
	hintTimeout   time.Duration
	logger        zerolog.Logger

	// Active runs, for interruption and for nested runs that inherit the
	// parent's driver and credentials.
	activeRuns map[string]*activeRun
	runsMu     sync.RWMutex
}

type activeRun struct {
	params RunParams
	cancel context.CancelCauseFunc
}

// Config holds runner configuration
type Config struct {
	Gateway  *llm.Gateway
	Sessions *session.Manager
	// Queue serializes turns per session. A private queue is created when
	// nil.
	Queue *commandqueue.CommandQueue
	// Tools is the tool set offered to HandleMessage runs.
	Tools    *toolexecutor.ToolExecutor
	Personas *persona.Registry
	// Credentials per driver name.
	Credentials   map[string]llm.Credentials
	DefaultDriver string
	DefaultModel  string
	MaxIterations int
	// InterruptPoll is how often the sticky interruption flag is checked
	// while a turn runs.
	InterruptPoll time.Duration
	HintTimeout   time.Duration
	Logger        *zerolog.Logger
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Queue == nil {
		cfg.Queue = commandqueue.New()
	}
	if cfg.Tools == nil {
		cfg.Tools = toolexecutor.New()
	}
	if cfg.Personas == nil {
		cfg.Personas = persona.NewRegistry(persona.Config{})
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.InterruptPoll <= 0 {
		cfg.InterruptPoll = defaultInterruptPoll
	}
	if cfg.HintTimeout <= 0 {
		cfg.HintTimeout = defaultHintTimeout
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Runner{
		gateway:       cfg.Gateway,
		sessions:      cfg.Sessions,
		queue:         cfg.Queue,
		tools:         cfg.Tools,
		personas:      cfg.Personas,
		credentials:   cfg.Credentials,
		defaultDriver: cfg.DefaultDriver,
		defaultModel:  cfg.DefaultModel,
		maxIterations: cfg.MaxIterations,
		interruptPoll: cfg.InterruptPoll,
		hintTimeout:   cfg.HintTimeout,
		logger:        logger.With().Str("component", "agent").Logger(),
		activeRuns:    make(map[string]*activeRun),
	}, nil
}

// Interrupt requests interruption of the session's current turn and drops
// the turns queued behind it. It returns false when the session has no turn
// in progress. The running loop observes the request at its next check.
func (r *Runner) Interrupt(sessionID string) bool {
	if !r.sessions.RequestInterruption(sessionID) {
		r.logger.Debug().Str("sessionId", sessionID).Msg("No active turn to interrupt")
		return false
	}
	if n := r.queue.ClearLane(commandqueue.SessionLane(sessionID)); n > 0 {
		r.logger.Info().Str("sessionId", sessionID).Int("dropped", n).Msg("Queued turns dropped")
	}

	r.runsMu.RLock()
	run := r.activeRuns[sessionID]
	r.runsMu.RUnlock()
	if run != nil {
		run.cancel(ErrAborted)
	}
	return true
}

// IsRunning reports whether a run is active for the session.
func (r *Runner) IsRunning(sessionID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[sessionID]
	return exists
}

// ActiveTurns returns the number of session turns running or queued.
func (r *Runner) ActiveTurns() int {
	total := 0
	for lane, stats := range r.queue.GetStats() {
		if strings.HasPrefix(lane, commandqueue.SessionLane("")) {
			total += stats["running"] + stats["queued"]
		}
	}
	return total
}

// Drain waits until no turn is running, or timeout passes. It reports
// whether all turns finished.
func (r *Runner) Drain(timeout time.Duration) bool {
	return r.queue.WaitForActive(timeout)
}

func (r *Runner) track(params RunParams, cancel context.CancelCauseFunc) func() {
	run := &activeRun{params: params, cancel: cancel}
	r.runsMu.Lock()
	r.activeRuns[params.SessionID] = run
	r.runsMu.Unlock()

	return func() {
		r.runsMu.Lock()
		if r.activeRuns[params.SessionID] == run {
			delete(r.activeRuns, params.SessionID)
		}
		r.runsMu.Unlock()
	}
}

// RunSubAgent runs a nested prompt with the parent's driver and
// credentials. It implements coretools.SubAgentRunner.
func (r *Runner) RunSubAgent(ctx context.Context, req coretools.SubAgentRequest) (string, error) {
	r.runsMu.RLock()
	parent := r.activeRuns[req.ParentSessionID]
	r.runsMu.RUnlock()

	params := RunParams{
		SessionID:       req.SessionID,
		ParentSessionID: req.ParentSessionID,
		Model:           req.Model,
		Driver:          r.defaultDriver,
		WorkingDir:      req.WorkingDir,
		Tools:           req.Tools,
		SubAgent:        true,
	}
	if parent != nil {
		params.AgentID = parent.params.AgentID
		params.Driver = parent.params.Driver
		params.Credentials = parent.params.Credentials
		params.Temperature = parent.params.Temperature
		params.MaxOutputTokens = parent.params.MaxOutputTokens
		if params.Model == "" {
			params.Model = parent.params.Model
		}
	} else {
		params.Credentials = r.credentials[params.Driver]
	}
	if params.Model == "" {
		params.Model = r.defaultModel
	}
	params.Messages = []llm.Message{
		llm.SystemText(subAgentPrompt(req.WorkingDir)),
		llm.UserText(req.Prompt),
	}

	final, err := r.Run(ctx, params)
	if err != nil {
		return "", err
	}
	return final.Text(), nil
}

func subAgentPrompt(workingDir string) string {
	return "You are a research sub-agent. Use the read-only tools to answer the task, " +
		"then reply with a concise, self-contained answer. You cannot modify files.\n" +
		"Working directory: " + workingDir
}
