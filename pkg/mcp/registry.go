// Package mcp keeps the process's live MCP client connections and bridges
// their tools into a tool executor.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/client"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned for an unknown server id.
	ErrNotFound = errors.New("mcp: server not found")
	// ErrExists is returned by Add for an id already in use.
	ErrExists = errors.New("mcp: server already exists")
)

// ServerInfo summarizes a connected server.
type ServerInfo struct {
	ID          string
	Transport   string
	Target      string
	ServerName  string
	Tools       []string
	ConnectedAt time.Time
}

// Registry owns every live MCP client of the process.
type Registry struct {
	mu       sync.Mutex
	clients  map[string]*Client
	executor *toolexecutor.ToolExecutor
	logger   zerolog.Logger

	// dial opens a transport; replaced in tests
	dial func(ctx context.Context, cfg ServerConfig) (*client.Client, error)
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(nil)
	})
	return defaultRegistry
}

// NewRegistry creates a registry. Tools of added servers are registered
// on executor when it is not nil.
func NewRegistry(executor *toolexecutor.ToolExecutor) *Registry {
	return &Registry{
		clients:  make(map[string]*Client),
		executor: executor,
		logger:   log.Logger.With().Str("component", "mcp").Logger(),
		dial:     dial,
	}
}

// SetLogger replaces the registry logger.
func (r *Registry) SetLogger(logger zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger.With().Str("component", "mcp").Logger()
}

// Attach binds the registry to executor and registers the tools of every
// server already connected.
func (r *Registry) Attach(ctx context.Context, executor *toolexecutor.ToolExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executor = executor
	var result *multierror.Error
	for _, c := range r.clients {
		if err := r.bridge(ctx, c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Add connects a new server and registers its tools.
func (r *Registry) Add(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	_, exists := r.clients[cfg.ID]
	r.mu.Unlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrExists, cfg.ID)
	}

	c, err := r.connect(ctx, cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[cfg.ID]; exists {
		_ = c.Close()
		return fmt.Errorf("%w: %s", ErrExists, cfg.ID)
	}
	if err := r.bridge(ctx, c); err != nil {
		r.unbridge(cfg.ID)
		_ = c.Close()
		return err
	}
	r.clients[cfg.ID] = c

	r.logger.Info().
		Str("server", cfg.ID).
		Str("transport", cfg.transport()).
		Int("tools", len(c.tools)).
		Msg("MCP server connected")
	return nil
}

// Edit replaces a server's configuration. The new connection is made
// before the old one is closed, so a failed edit leaves the server as it
// was.
func (r *Registry) Edit(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	_, exists := r.clients[cfg.ID]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, cfg.ID)
	}

	next, err := r.connect(ctx, cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, exists := r.clients[cfg.ID]
	if !exists {
		_ = next.Close()
		return fmt.Errorf("%w: %s", ErrNotFound, cfg.ID)
	}

	r.unbridge(cfg.ID)
	if err := r.bridge(ctx, next); err != nil {
		r.unbridge(cfg.ID)
		_ = next.Close()
		if rerr := r.bridge(ctx, prev); rerr != nil {
			r.logger.Warn().Err(rerr).Str("server", cfg.ID).Msg("Failed to restore MCP tools")
		}
		return err
	}
	r.clients[cfg.ID] = next
	if err := prev.Close(); err != nil {
		r.logger.Warn().Err(err).Str("server", cfg.ID).Msg("Failed to close replaced MCP client")
	}

	r.logger.Info().Str("server", cfg.ID).Msg("MCP server updated")
	return nil
}

// Remove disconnects a server and unregisters its tools.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	c, exists := r.clients[id]
	if exists {
		delete(r.clients, id)
		r.unbridge(id)
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close mcp server %s: %w", id, err)
	}
	r.logger.Info().Str("server", id).Msg("MCP server removed")
	return nil
}

// Get returns the client for id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// List describes the connected servers sorted by id.
func (r *Registry) List() []ServerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ServerInfo, 0, len(r.clients))
	for id, c := range r.clients {
		target := c.config.URL
		if c.config.transport() == TransportStdio {
			target = c.config.Command
		}
		out = append(out, ServerInfo{
			ID:          id,
			Transport:   c.config.transport(),
			Target:      target,
			ServerName:  c.serverName,
			Tools:       c.Tools(),
			ConnectedAt: c.connectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadAll adds every enabled server, continuing past failures. The
// returned error aggregates every failure.
func (r *Registry) LoadAll(ctx context.Context, configs []ServerConfig) error {
	var result *multierror.Error
	for _, cfg := range configs {
		if cfg.Disabled {
			continue
		}
		if err := r.Add(ctx, cfg); err != nil {
			r.logger.Warn().Err(err).Str("server", cfg.ID).Msg("Failed to add MCP server")
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// CloseAll disconnects every server. The registry stays usable.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	for id := range clients {
		r.unbridge(id)
	}
	r.mu.Unlock()

	var result *multierror.Error
	for id, c := range clients {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("mcp server %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}

func (r *Registry) connect(ctx context.Context, cfg ServerConfig) (*Client, error) {
	dctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	conn, err := r.dial(dctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mcp server %s: %w", cfg.ID, err)
	}
	c, err := initialize(ctx, cfg, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// bridge registers c's tools; r.mu must be held.
func (r *Registry) bridge(ctx context.Context, c *Client) error {
	if r.executor == nil {
		return nil
	}
	names, err := r.executor.RegisterMCPTools(ctx, c.config.ID, c)
	if err != nil {
		return fmt.Errorf("mcp server %s: %w", c.config.ID, err)
	}
	c.tools = names
	return nil
}

// unbridge removes a server's tools; r.mu must be held.
func (r *Registry) unbridge(id string) {
	if r.executor == nil {
		return
	}
	r.executor.UnregisterMCPTools(id)
}
