package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLoader(t *testing.T, content string) (*Loader, string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	for _, env := range credentialEnv {
		t.Setenv(env, "")
	}
	configPath := filepath.Join(tmpDir, "config.json")
	if content != "" {
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	}
	return NewLoader(configPath), tmpDir
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should return defaults when file doesn't exist", func(t *testing.T) {
		loader, home := setupTestLoader(t, "")

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLM.DefaultDriver)
		assert.Equal(t, filepath.Join(home, ".localforge"), cfg.DataDir)
		assert.Equal(t, filepath.Join(home, ".localforge", "localforge.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(home, ".localforge", "agents"), cfg.Personas.Dir)
	})

	t.Run("should read values over defaults", func(t *testing.T) {
		loader, _ := setupTestLoader(t, `{
			"llm": {
				"default_driver": "openai",
				"default_model": "gpt-4o",
				"credentials": {"openai": {"api_key": "sk-test"}}
			},
			"session": {"store": "file", "ttl": "2h"},
			"sandbox": {"timeout": "30s"},
			"tools": {"approval_timeout": "15s"},
			"mcp": {"servers": [{"id": "docs", "command": "docs-server", "args": ["--stdio"]}]}
		}`)

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.LLM.DefaultDriver)
		assert.Equal(t, "gpt-4o", cfg.LLM.DefaultModel)
		assert.Equal(t, "sk-test", cfg.LLM.Credentials["openai"].APIKey)
		assert.Equal(t, StoreFile, cfg.Session.Store)
		assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
		assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
		assert.Equal(t, 15*time.Second, cfg.Tools.ApprovalTimeout)
		assert.Equal(t, 1, cfg.Tools.BatchConcurrency)
		assert.Equal(t, "/bin/sh", cfg.Sandbox.Shell)
		assert.Equal(t, 50, cfg.Agent.MaxIterations)
		require.Len(t, cfg.MCP.Servers, 1)
		assert.Equal(t, "docs", cfg.MCP.Servers[0].ID)
		assert.Equal(t, []string{"--stdio"}, cfg.MCP.Servers[0].Args)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		loader, _ := setupTestLoader(t, `{"llm": {"default_model": "from-file"}}`)
		t.Setenv("LOCALFORGE_LLM_DEFAULT_MODEL", "from-env")
		t.Setenv("LOCALFORGE_SERVER_PORT", "9100")

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.LLM.DefaultModel)
		assert.Equal(t, 9100, cfg.Server.Port)
	})

	t.Run("should fill missing api keys from provider variables", func(t *testing.T) {
		loader, _ := setupTestLoader(t, `{"llm": {"credentials": {"openai": {"api_key": "sk-file"}}}}`)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
		t.Setenv("OPENAI_API_KEY", "sk-env")

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-ant-env", cfg.LLM.Credentials["anthropic"].APIKey)
		assert.Equal(t, "sk-file", cfg.LLM.Credentials["openai"].APIKey)
	})

	t.Run("should fail on invalid JSON", func(t *testing.T) {
		loader, _ := setupTestLoader(t, "invalid json")

		_, err := loader.Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("should round trip through the file", func(t *testing.T) {
		loader, _ := setupTestLoader(t, "")

		cfg := DefaultConfig()
		cfg.LLM.DefaultDriver = "gemini"
		cfg.LLM.DefaultModel = "gemini-2.5-pro"
		cfg.LLM.Credentials["gemini"] = llm.Credentials{APIKey: "g-key"}
		cfg.Session.TTL = 45 * time.Minute
		cfg.MCP.Servers = []mcp.ServerConfig{{ID: "web", Transport: mcp.TransportHTTP, URL: "http://localhost:9000/mcp"}}

		require.NoError(t, loader.Save(cfg))

		info, err := os.Stat(loader.GetConfigPath())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		loaded, err := NewLoader(loader.GetConfigPath()).Load()
		require.NoError(t, err)
		assert.Equal(t, "gemini", loaded.LLM.DefaultDriver)
		assert.Equal(t, "gemini-2.5-pro", loaded.LLM.DefaultModel)
		assert.Equal(t, "g-key", loaded.LLM.Credentials["gemini"].APIKey)
		assert.Equal(t, 45*time.Minute, loaded.Session.TTL)
		require.Len(t, loaded.MCP.Servers, 1)
		assert.Equal(t, "http://localhost:9000/mcp", loaded.MCP.Servers[0].URL)
	})

	t.Run("should create the directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		require.NoError(t, NewLoader(configPath).Save(DefaultConfig()))

		_, err := os.Stat(configPath)
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		assert.Equal(t, "/custom/path/config.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		path := NewLoader("").GetConfigPath()
		assert.Equal(t, filepath.Join(home, ".localforge", "config.json"), path)
	})
}
