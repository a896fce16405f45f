package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rockbite/localforge/pkg/sandbox"
)

// Drivers localforge knows how to talk to.
var knownDrivers = []string{"anthropic", "openai", "ollama", "openai-compatible", "gemini"}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDriver validates a driver name
func (v *Validator) ValidateDriver(driver string) error {
	for _, known := range knownDrivers {
		if driver == known {
			return nil
		}
	}
	return fmt.Errorf("unknown driver: %s (must be one of: %s)", driver, strings.Join(knownDrivers, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	switch provider {
	case "ollama", "openai-compatible":
		// Local endpoints usually need no key.
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateStore validates a session store kind
func (v *Validator) ValidateStore(store string) error {
	switch store {
	case StoreSQLite, StoreFile, StoreMemory:
		return nil
	}
	return fmt.Errorf("invalid session store: %s (must be one of: sqlite, file, memory)", store)
}

// ValidatePort validates a listen port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSchedule validates a cron schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// LLM
	if err := v.ValidateDriver(cfg.LLM.DefaultDriver); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateModel(cfg.LLM.DefaultModel); err != nil {
		errors = append(errors, err)
	}
	if cfg.LLM.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("llm.max_retries must be >= 0"))
	}
	for driver, creds := range cfg.LLM.Credentials {
		if err := v.ValidateDriver(driver); err != nil {
			errors = append(errors, fmt.Errorf("credentials: %w", err))
			continue
		}
		if creds.APIKey != "" {
			if err := v.ValidateAPIKey(creds.APIKey, driver); err != nil {
				errors = append(errors, fmt.Errorf("credentials %s: %w", driver, err))
			}
		}
	}
	for driver, rpm := range cfg.LLM.RequestsPerMinute {
		if rpm < 0 {
			errors = append(errors, fmt.Errorf("llm.requests_per_minute.%s must be >= 0", driver))
		}
	}

	// Agent
	if cfg.Agent.MaxIterations <= 0 {
		errors = append(errors, fmt.Errorf("agent.max_iterations must be positive"))
	}
	if cfg.Agent.MaxConcurrentSubAgents < 0 {
		errors = append(errors, fmt.Errorf("agent.max_concurrent_sub_agents must be >= 0"))
	}

	// Session
	if err := v.ValidateStore(cfg.Session.Store); err != nil {
		errors = append(errors, err)
	}
	if cfg.Session.TTL < 0 {
		errors = append(errors, fmt.Errorf("session.ttl must be >= 0"))
	}
	if err := v.ValidateSchedule(cfg.Session.SweepSchedule); err != nil {
		errors = append(errors, err)
	}

	// Sandbox
	if err := sandbox.ValidateConfig(cfg.Sandbox); err != nil {
		errors = append(errors, fmt.Errorf("sandbox: %w", err))
	}

	// Tools
	if cfg.Tools.BatchConcurrency < 0 {
		errors = append(errors, fmt.Errorf("tools.batch_concurrency must be >= 0"))
	}
	switch cfg.Tools.Approvals {
	case ApprovalPrompt, ApprovalAuto, ApprovalDeny:
	default:
		errors = append(errors, fmt.Errorf("invalid tools.approvals: %s (must be one of: prompt, auto, deny)", cfg.Tools.Approvals))
	}

	// MCP
	seen := make(map[string]bool, len(cfg.MCP.Servers))
	for i, server := range cfg.MCP.Servers {
		if err := server.Validate(); err != nil {
			errors = append(errors, fmt.Errorf("mcp server %d: %w", i, err))
			continue
		}
		if seen[server.ID] {
			errors = append(errors, fmt.Errorf("mcp server %d: duplicate id %s", i, server.ID))
		}
		seen[server.ID] = true
	}

	// Logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	// Server
	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, err)
	}

	return errors
}
