package config

import (
	"testing"
	"time"

	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "anthropic", cfg.LLM.DefaultDriver)
	assert.NotEmpty(t, cfg.LLM.DefaultModel)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, 4, cfg.Agent.MaxConcurrentSubAgents)
	assert.Equal(t, StoreSQLite, cfg.Session.Store)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "/bin/sh", cfg.Sandbox.Shell)
	assert.Equal(t, 1, cfg.Tools.BatchConcurrency)
	assert.Equal(t, time.Minute, cfg.Tools.ApprovalTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:7420", cfg.Server.Addr())
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Run("should reject unknown driver", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.DefaultDriver = "palm"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown driver")
	})

	t.Run("should reject empty model", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.DefaultModel = " "

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model")
	})

	t.Run("should reject malformed credentials", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.Credentials["anthropic"] = llm.Credentials{APIKey: "nope"}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "credentials anthropic")
	})

	t.Run("should reject unknown store", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Session.Store = "redis"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session store")
	})

	t.Run("should reject duplicate mcp servers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MCP.Servers = []mcp.ServerConfig{
			{ID: "docs", Command: "docs-server"},
			{ID: "docs", Command: "other"},
		}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate id docs")
	})

	t.Run("should reject out of range port", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = 70000

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Credentials["anthropic"] = llm.Credentials{APIKey: "sk-ant-secret"}

	out := cfg.String()

	assert.NotContains(t, out, "sk-ant-secret")
	assert.Contains(t, out, "***")
	assert.Equal(t, "sk-ant-secret", cfg.LLM.Credentials["anthropic"].APIKey)
}
