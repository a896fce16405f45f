package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rockbite/localforge/pkg/llm"
	"github.com/spf13/viper"
)

const (
	appDir         = ".localforge"
	configFileName = "config.json"
	envPrefix      = "LOCALFORGE"
)

// Keys that may be set from LOCALFORGE_* variables without appearing in
// the config file.
var envKeys = []string{
	"data_dir",
	"llm.default_driver",
	"llm.default_model",
	"llm.max_retries",
	"agent.max_iterations",
	"session.store",
	"session.ttl",
	"sandbox.shell",
	"sandbox.timeout",
	"logging.level",
	"logging.file",
	"server.host",
	"server.port",
}

// Provider API keys read from the environment when the config has none.
var credentialEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file over the defaults. A missing file is not an
// error; environment overrides apply either way.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.fillDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) fillDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDir)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "localforge.log")
	}
	if cfg.Personas.Dir == "" {
		cfg.Personas.Dir = filepath.Join(cfg.DataDir, "agents")
	}

	if cfg.LLM.Credentials == nil {
		cfg.LLM.Credentials = make(map[string]llm.Credentials)
	}
	for driver, env := range credentialEnv {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		creds := cfg.LLM.Credentials[driver]
		if creds.APIKey == "" {
			creds.APIKey = key
			cfg.LLM.Credentials[driver] = creds
		}
	}
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("llm", cfg.LLM)
	v.Set("agent", cfg.Agent)
	v.Set("session", cfg.Session)
	v.Set("sandbox", cfg.Sandbox)
	v.Set("tools", cfg.Tools)
	v.Set("personas", cfg.Personas)
	v.Set("mcp", cfg.MCP)
	v.Set("logging", cfg.Logging)
	v.Set("server", cfg.Server)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}
	// The file holds API keys.
	return os.Chmod(configPath, 0600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	p, err := l.path()
	if err != nil {
		return ""
	}
	return p
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, appDir, configFileName), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
