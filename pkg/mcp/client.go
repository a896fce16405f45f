package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

// Transports supported by ServerConfig.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const (
	clientName     = "localforge"
	clientVersion  = "0.1.0"
	defaultTimeout = 30 * time.Second
)

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	ID        string            `mapstructure:"id" json:"id"`
	Transport string            `mapstructure:"transport" json:"transport"`
	Command   string            `mapstructure:"command" json:"command,omitempty"`
	Args      []string          `mapstructure:"args" json:"args,omitempty"`
	Env       map[string]string `mapstructure:"env" json:"env,omitempty"`
	URL       string            `mapstructure:"url" json:"url,omitempty"`
	Headers   map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	// Timeout bounds connecting and listing tools.
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	Disabled bool          `mapstructure:"disabled" json:"disabled,omitempty"`
}

// Validate checks the fields required by the transport.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("mcp server id is required")
	}
	if strings.ContainsAny(c.ID, " /\\") {
		return fmt.Errorf("mcp server id %q must not contain spaces or slashes", c.ID)
	}
	switch c.transport() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %s: command is required for stdio", c.ID)
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("mcp server %s: url is required for http", c.ID)
		}
	default:
		return fmt.Errorf("mcp server %s: unknown transport %q", c.ID, c.Transport)
	}
	return nil
}

func (c ServerConfig) transport() string {
	if c.Transport == "" {
		return TransportStdio
	}
	return strings.ToLower(c.Transport)
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// dial opens the transport for cfg without initializing the session.
func dial(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	switch cfg.transport() {
	case TransportStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		// stdio clients start their subprocess on creation
		return client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err := client.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// Client is a live connection to one MCP server. It implements
// toolexecutor.MCPToolSource.
type Client struct {
	config      ServerConfig
	conn        *client.Client
	serverName  string
	connectedAt time.Time
	tools       []string
}

func initialize(ctx context.Context, cfg ServerConfig, conn *client.Client) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: clientName, Version: clientVersion}
	res, err := conn.Initialize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mcp server %s: %w", cfg.ID, err)
	}
	return &Client{
		config:      cfg,
		conn:        conn,
		serverName:  res.ServerInfo.Name,
		connectedAt: time.Now(),
	}, nil
}

// ListTools lists the server's tools with their input schemas.
func (c *Client) ListTools(ctx context.Context) ([]toolexecutor.MCPTool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.timeout())
	defer cancel()

	res, err := c.conn.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	tools := make([]toolexecutor.MCPTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, toolexecutor.MCPTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema(t),
		})
	}
	return tools, nil
}

func inputSchema(t mcpgo.Tool) map[string]interface{} {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		raw = b
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

// CallTool calls a tool and flattens its content into text. A result
// flagged as an error is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.conn.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func contentText(contents []mcpgo.Content) string {
	parts := make([]string, 0, len(contents))
	for _, content := range contents {
		switch v := content.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			b, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Config returns the configuration the client was created from.
func (c *Client) Config() ServerConfig { return c.config }

// Tools returns the executor names registered for this server.
func (c *Client) Tools() []string { return append([]string(nil), c.tools...) }

// Close terminates the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
