package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rockbite/localforge/internal/config"
	"github.com/rockbite/localforge/internal/logger"
	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/internal/tracing"
	"github.com/rockbite/localforge/pkg/agent"
	"github.com/rockbite/localforge/pkg/coretools"
	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/mcp"
	"github.com/rockbite/localforge/pkg/persona"
	"github.com/rockbite/localforge/pkg/sandbox"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/subagent"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

const personaStability = 500 * time.Millisecond

// app is one fully wired localforge runtime.
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	logger      zerolog.Logger
	store       session.Store
	sessions    *session.Manager
	gateway     *llm.Gateway
	tools       *toolexecutor.ToolExecutor
	personas    *persona.Registry
	runner      *agent.Runner
	coordinator *subagent.Coordinator
	mcp         *mcp.Registry
	renderer    *coretools.RodRenderer
}

type appOptions struct {
	// approvals decides reviewed shell commands; nil refuses them.
	approvals toolexecutor.ApprovalHandler
	// watch reloads persona files on change.
	watch bool
	// store overrides the configured session store.
	store session.Store
}

// loadConfig loads and validates the config, applying global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, console io.Writer) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    verbose || cfg.Logging.Console,
		ConsoleOut: console,
		Pretty:     true,
		Redaction:  cfg.Logging.Redaction,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
}

func openStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Store {
	case config.StoreMemory:
		return session.NewMemoryStore(), nil
	case config.StoreFile:
		return session.NewFileStore(filepath.Join(cfg.DataDir, "sessions"))
	default:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return session.NewSQLiteStore(filepath.Join(cfg.DataDir, "sessions.db"))
	}
}

// newApp wires the runtime in dependency order: tools, runner,
// coordinator, then the core and MCP tools that need them.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.log, err = newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = *a.log.Zerolog()

	if err := tracing.InitOpenTelemetry("localforge"); err != nil {
		a.logger.Warn().Err(err).Msg("Tracing disabled")
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.jsonl")); err != nil {
		a.logger.Warn().Err(err).Msg("Audit log disabled")
	}

	a.store = opts.store
	if a.store == nil {
		if a.store, err = openStore(cfg); err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
	}
	sessionLogger := a.log.Component("session")
	a.sessions = session.NewManager(session.Config{
		Store:         a.store,
		TTL:           cfg.Session.TTL,
		SweepSchedule: cfg.Session.SweepSchedule,
		SaveDebounce:  cfg.Session.SaveDebounce,
		Prices:        session.DefaultPrices,
		Logger:        &sessionLogger,
	})

	a.gateway = llm.NewGateway(llm.GatewayConfig{
		Registry:          llm.DefaultRegistry(),
		Quirks:            llm.DefaultQuirks(),
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		MaxRetries:        cfg.LLM.MaxRetries,
		RetryBackoff:      cfg.LLM.RetryBackoff,
		Logger:            &a.logger,
	})

	a.personas = persona.NewRegistry(persona.Config{
		Dir:      cfg.Personas.Dir,
		Defaults: persona.Persona{Driver: cfg.LLM.DefaultDriver, Model: cfg.LLM.DefaultModel},
		Logger:   &a.logger,
	})
	if err := a.personas.Load(); err != nil {
		a.logger.Warn().Err(err).Str("dir", cfg.Personas.Dir).Msg("Some personas failed to load")
	}
	if opts.watch && cfg.Personas.Watch {
		if err := a.personas.Watch(personaStability); err != nil {
			a.logger.Warn().Err(err).Msg("Persona watching disabled")
		}
	}

	a.tools = toolexecutor.New()
	a.runner, err = agent.NewRunner(agent.Config{
		Gateway:       a.gateway,
		Sessions:      a.sessions,
		Tools:         a.tools,
		Personas:      a.personas,
		Credentials:   cfg.LLM.Credentials,
		DefaultDriver: cfg.LLM.DefaultDriver,
		DefaultModel:  cfg.LLM.DefaultModel,
		MaxIterations: cfg.Agent.MaxIterations,
		InterruptPoll: cfg.Agent.InterruptPoll,
		HintTimeout:   cfg.Agent.HintTimeout,
		Logger:        &a.logger,
	})
	if err != nil {
		return nil, err
	}

	a.coordinator, err = subagent.NewCoordinator(subagent.Config{
		Runner:        a.runner,
		MaxConcurrent: cfg.Agent.MaxConcurrentSubAgents,
		Logger:        &a.logger,
	})
	if err != nil {
		return nil, err
	}

	runner, err := sandbox.NewRunner(cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("failed to create command runner: %w", err)
	}
	var approvals *toolexecutor.ApprovalManager
	if opts.approvals != nil {
		approvals = toolexecutor.NewApprovalManager(opts.approvals)
		if cfg.Tools.ApprovalTimeout > 0 {
			approvals.SetDefaultTimeout(cfg.Tools.ApprovalTimeout)
		}
	}
	var renderer coretools.PageRenderer
	if cfg.Tools.Render {
		a.renderer = coretools.NewRodRenderer(cfg.Tools.ChromePath, os.Geteuid() == 0)
		renderer = a.renderer
	}
	if err := coretools.RegisterAll(a.tools, coretools.Options{
		Runner:           runner,
		Approvals:        approvals,
		Sessions:         a.sessions,
		SubAgents:        a.coordinator,
		Renderer:         renderer,
		FetchMaxBytes:    cfg.Tools.FetchMaxBytes,
		BatchConcurrency: cfg.Tools.BatchConcurrency,
	}); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	a.mcp = mcp.NewRegistry(a.tools)
	a.mcp.SetLogger(a.logger)
	if err := a.mcp.LoadAll(ctx, cfg.MCP.Servers); err != nil {
		a.logger.Warn().Err(err).Msg("Some MCP servers failed to connect")
	}

	return a, nil
}

// approvalHandler maps the configured mode to a handler for a terminal
// session; interactive is false when stdin is not a terminal.
func approvalHandler(mode string, interactive bool, in io.Reader, out io.Writer) toolexecutor.ApprovalHandler {
	switch mode {
	case config.ApprovalAuto:
		return toolexecutor.AutoApproveHandler{}
	case config.ApprovalPrompt:
		if interactive {
			return toolexecutor.NewCLIApprovalHandler(in, out)
		}
	}
	return nil
}

// Close flushes sessions and releases every resource the app opened.
func (a *app) Close(ctx context.Context) error {
	var result *multierror.Error
	if a.mcp != nil {
		if err := a.mcp.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.personas != nil {
		_ = a.personas.StopWatching()
	}
	if a.sessions != nil {
		if err := a.sessions.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if closer, ok := a.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	_ = observability.GetAuditLogger().Close()
	_ = tracing.ShutdownOpenTelemetry(ctx)
	if a.log != nil {
		_ = a.log.Close()
	}
	return result.ErrorOrNil()
}
