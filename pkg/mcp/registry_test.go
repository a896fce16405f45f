package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(name string, tools ...string) *server.MCPServer {
	srv := server.NewMCPServer(name, "1.0.0")
	for _, tool := range tools {
		tool := tool
		srv.AddTool(
			mcpgo.NewTool(tool,
				mcpgo.WithDescription("Echoes its text argument"),
				mcpgo.WithString("text", mcpgo.Required(), mcpgo.Description("Text to echo")),
			),
			func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
				text, _ := req.GetArguments()["text"].(string)
				if text == "fail" {
					return mcpgo.NewToolResultError("boom"), nil
				}
				return mcpgo.NewToolResultText(tool + ": " + text), nil
			},
		)
	}
	return srv
}

func setupTestRegistry(t *testing.T, servers map[string]*server.MCPServer) (*Registry, *toolexecutor.ToolExecutor) {
	t.Helper()
	executor := toolexecutor.New()
	r := NewRegistry(executor)
	r.dial = func(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
		srv, ok := servers[cfg.Command]
		if !ok {
			return nil, fmt.Errorf("no such server: %s", cfg.Command)
		}
		c, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	t.Cleanup(func() { _ = r.CloseAll() })
	return r, executor
}

func stdio(id, command string) ServerConfig {
	return ServerConfig{ID: id, Transport: TransportStdio, Command: command}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"stdio", ServerConfig{ID: "docs", Command: "docs-server"}, false},
		{"http", ServerConfig{ID: "remote", Transport: "HTTP", URL: "http://localhost:9000/mcp"}, false},
		{"missing id", ServerConfig{Command: "x"}, true},
		{"id with slash", ServerConfig{ID: "a/b", Command: "x"}, true},
		{"stdio without command", ServerConfig{ID: "docs"}, true},
		{"http without url", ServerConfig{ID: "remote", Transport: TransportHTTP}, true},
		{"unknown transport", ServerConfig{ID: "x", Transport: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("should connect and bridge tools into the executor", func(t *testing.T) {
		r, executor := setupTestRegistry(t, map[string]*server.MCPServer{
			"docs-server": echoServer("docs", "echo"),
		})

		require.NoError(t, r.Add(ctx, stdio("docs", "docs-server")))

		def := executor.GetTool("echo")
		require.NotNil(t, def)
		assert.Equal(t, "mcp:docs", def.Source)

		result := executor.Execute(ctx, "echo", map[string]interface{}{"text": "hello"}, nil)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "echo: hello", result.Output)

		c, ok := r.Get("docs")
		require.True(t, ok)
		assert.Equal(t, []string{"echo"}, c.Tools())
	})

	t.Run("should report tool errors as failed results", func(t *testing.T) {
		r, executor := setupTestRegistry(t, map[string]*server.MCPServer{
			"docs-server": echoServer("docs", "echo"),
		})
		require.NoError(t, r.Add(ctx, stdio("docs", "docs-server")))

		result := executor.Execute(ctx, "echo", map[string]interface{}{"text": "fail"}, nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "boom")

		result = executor.Execute(ctx, "echo", map[string]interface{}{}, nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "parameter validation failed")
	})

	t.Run("should reject duplicate ids", func(t *testing.T) {
		r, _ := setupTestRegistry(t, map[string]*server.MCPServer{
			"docs-server": echoServer("docs", "echo"),
		})
		require.NoError(t, r.Add(ctx, stdio("docs", "docs-server")))

		err := r.Add(ctx, stdio("docs", "docs-server"))
		assert.True(t, errors.Is(err, ErrExists))
	})

	t.Run("should replace tools on edit", func(t *testing.T) {
		r, executor := setupTestRegistry(t, map[string]*server.MCPServer{
			"v1": echoServer("docs", "echo"),
			"v2": echoServer("docs", "lookup"),
		})
		require.NoError(t, r.Add(ctx, stdio("docs", "v1")))

		require.NoError(t, r.Edit(ctx, stdio("docs", "v2")))
		assert.Nil(t, executor.GetTool("echo"))
		assert.NotNil(t, executor.GetTool("lookup"))

		c, _ := r.Get("docs")
		assert.Equal(t, "v2", c.Config().Command)
	})

	t.Run("should keep the old connection when an edit fails", func(t *testing.T) {
		r, executor := setupTestRegistry(t, map[string]*server.MCPServer{
			"v1": echoServer("docs", "echo"),
		})
		require.NoError(t, r.Add(ctx, stdio("docs", "v1")))

		err := r.Edit(ctx, stdio("docs", "missing"))
		require.Error(t, err)
		assert.NotNil(t, executor.GetTool("echo"))
		c, _ := r.Get("docs")
		assert.Equal(t, "v1", c.Config().Command)

		assert.True(t, errors.Is(r.Edit(ctx, stdio("other", "v1")), ErrNotFound))
	})

	t.Run("should unregister tools on remove", func(t *testing.T) {
		r, executor := setupTestRegistry(t, map[string]*server.MCPServer{
			"docs-server": echoServer("docs", "echo"),
		})
		require.NoError(t, r.Add(ctx, stdio("docs", "docs-server")))

		require.NoError(t, r.Remove("docs"))
		assert.Nil(t, executor.GetTool("echo"))
		_, ok := r.Get("docs")
		assert.False(t, ok)
		assert.True(t, errors.Is(r.Remove("docs"), ErrNotFound))
	})

	t.Run("should list servers sorted by id", func(t *testing.T) {
		r, _ := setupTestRegistry(t, map[string]*server.MCPServer{
			"b-server": echoServer("beta", "beta_echo"),
			"a-server": echoServer("alpha", "alpha_echo"),
		})
		require.NoError(t, r.Add(ctx, stdio("beta", "b-server")))
		require.NoError(t, r.Add(ctx, stdio("alpha", "a-server")))

		list := r.List()
		require.Len(t, list, 2)
		assert.Equal(t, "alpha", list[0].ID)
		assert.Equal(t, "a-server", list[0].Target)
		assert.Equal(t, "alpha", list[0].ServerName)
		assert.Equal(t, []string{"alpha_echo"}, list[0].Tools)
		assert.Equal(t, "beta", list[1].ID)
	})

	t.Run("should load every enabled server and aggregate failures", func(t *testing.T) {
		r, _ := setupTestRegistry(t, map[string]*server.MCPServer{
			"docs-server": echoServer("docs", "echo"),
		})

		err := r.LoadAll(ctx, []ServerConfig{
			stdio("docs", "docs-server"),
			{ID: "off", Command: "docs-server", Disabled: true},
			stdio("broken", "missing"),
			{ID: "invalid"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 errors occurred")

		list := r.List()
		require.Len(t, list, 1)
		assert.Equal(t, "docs", list[0].ID)
	})

	t.Run("should close every client", func(t *testing.T) {
		r, executor := setupTestRegistry(t, map[string]*server.MCPServer{
			"docs-server": echoServer("docs", "echo"),
		})
		require.NoError(t, r.Add(ctx, stdio("docs", "docs-server")))

		require.NoError(t, r.CloseAll())
		assert.Empty(t, r.List())
		assert.Nil(t, executor.GetTool("echo"))
	})

	t.Run("should bridge existing servers when attached later", func(t *testing.T) {
		r, _ := setupTestRegistry(t, map[string]*server.MCPServer{
			"docs-server": echoServer("docs", "echo"),
		})
		r.executor = nil
		require.NoError(t, r.Add(ctx, stdio("docs", "docs-server")))

		executor := toolexecutor.New()
		require.NoError(t, r.Attach(ctx, executor))
		assert.NotNil(t, executor.GetTool("echo"))
	})
}

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}
