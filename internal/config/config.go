package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/mcp"
	"github.com/rockbite/localforge/pkg/sandbox"
)

// Store kinds
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config represents the main localforge configuration
type Config struct {
	// Data directory for sessions, logs and personas
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// LLM providers
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Sessions
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Command sandbox
	Sandbox sandbox.Config `json:"sandbox" mapstructure:"sandbox"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Personas
	Personas PersonasConfig `json:"personas" mapstructure:"personas"`

	// MCP servers
	MCP MCPConfig `json:"mcp" mapstructure:"mcp"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Stream server
	Server ServerConfig `json:"server" mapstructure:"server"`
}

// LLMConfig holds gateway and credential settings
type LLMConfig struct {
	DefaultDriver     string                     `json:"default_driver" mapstructure:"default_driver"`
	DefaultModel      string                     `json:"default_model" mapstructure:"default_model"`
	MaxRetries        int                        `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoff      time.Duration              `json:"retry_backoff" mapstructure:"retry_backoff"`
	RequestsPerMinute map[string]int             `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	Credentials       map[string]llm.Credentials `json:"credentials" mapstructure:"credentials"`
}

// AgentConfig holds agent loop limits
type AgentConfig struct {
	MaxIterations          int           `json:"max_iterations" mapstructure:"max_iterations"`
	InterruptPoll          time.Duration `json:"interrupt_poll" mapstructure:"interrupt_poll"`
	HintTimeout            time.Duration `json:"hint_timeout" mapstructure:"hint_timeout"`
	MaxConcurrentSubAgents int           `json:"max_concurrent_sub_agents" mapstructure:"max_concurrent_sub_agents"`
}

// SessionConfig holds session persistence settings
type SessionConfig struct {
	Store         string        `json:"store" mapstructure:"store"` // sqlite, file, memory
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	SaveDebounce  time.Duration `json:"save_debounce" mapstructure:"save_debounce"`
}

// ToolsConfig holds tool execution settings
type ToolsConfig struct {
	BatchConcurrency int   `json:"batch_concurrency" mapstructure:"batch_concurrency"`
	FetchMaxBytes    int64 `json:"fetch_max_bytes" mapstructure:"fetch_max_bytes"`
	// Approvals decides shell commands that need review: prompt, auto or
	// deny. Prompt falls back to deny where there is no terminal.
	Approvals string `json:"approvals" mapstructure:"approvals"`
	// ApprovalTimeout denies a prompt left unanswered this long.
	ApprovalTimeout time.Duration `json:"approval_timeout" mapstructure:"approval_timeout"`
	// Render lets fetch load pages in a headless browser.
	Render     bool   `json:"render" mapstructure:"render"`
	ChromePath string `json:"chrome_path" mapstructure:"chrome_path"`
}

// Approval modes
const (
	ApprovalPrompt = "prompt"
	ApprovalAuto   = "auto"
	ApprovalDeny   = "deny"
)

// PersonasConfig holds persona file settings
type PersonasConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// MCPConfig lists MCP servers to connect at startup
type MCPConfig struct {
	Servers []mcp.ServerConfig `json:"servers" mapstructure:"servers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Console   bool   `json:"console" mapstructure:"console"`
}

// ServerConfig holds the event stream server address
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultDriver:     "anthropic",
			DefaultModel:      "claude-sonnet-4-20250514",
			MaxRetries:        2,
			RetryBackoff:      time.Second,
			RequestsPerMinute: map[string]int{},
			Credentials:       map[string]llm.Credentials{},
		},
		Agent: AgentConfig{
			MaxIterations:          50,
			InterruptPoll:          100 * time.Millisecond,
			HintTimeout:            5 * time.Second,
			MaxConcurrentSubAgents: 4,
		},
		Session: SessionConfig{
			Store:         StoreSQLite,
			TTL:           30 * time.Minute,
			SweepSchedule: "@every 1m",
			SaveDebounce:  50 * time.Millisecond,
		},
		Sandbox: sandbox.DefaultConfig(),
		Tools: ToolsConfig{
			BatchConcurrency: 1,
			FetchMaxBytes:    5 << 20,
			Approvals:        ApprovalPrompt,
			ApprovalTimeout:  60 * time.Second,
		},
		Personas: PersonasConfig{
			Watch: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7420,
		},
	}
}

// String returns a JSON representation of the config with secrets
// masked.
func (c *Config) String() string {
	masked := *c
	masked.LLM.Credentials = make(map[string]llm.Credentials, len(c.LLM.Credentials))
	for driver, creds := range c.LLM.Credentials {
		if creds.APIKey != "" {
			creds.APIKey = "***"
		}
		masked.LLM.Credentials[driver] = creds
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
