package sandbox

import (
	"time"
)

// Config defines how shell commands are run.
type Config struct {
	// Shell runs commands as `Shell -c <command>`.
	Shell string `json:"shell" mapstructure:"shell"`

	// Timeout is the default hard limit for a command.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxTimeout caps per-command timeouts requested by tools.
	MaxTimeout time.Duration `json:"max_timeout" mapstructure:"max_timeout"`

	// KillGrace is the delay between SIGTERM and SIGKILL.
	KillGrace time.Duration `json:"kill_grace" mapstructure:"kill_grace"`

	// PollInterval is how often the interruption flag is checked.
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`

	// MaxOutputBytes caps captured stdout and stderr each.
	MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`

	// PassEnv lists variables inherited from the parent environment.
	PassEnv []string `json:"pass_env" mapstructure:"pass_env"`
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		Shell:          "/bin/sh",
		Timeout:        2 * time.Minute,
		MaxTimeout:     10 * time.Minute,
		KillGrace:      2 * time.Second,
		PollInterval:   250 * time.Millisecond,
		MaxOutputBytes: 30000,
		PassEnv:        []string{"PATH", "HOME", "USER", "LANG", "TERM", "TMPDIR", "GOPATH", "GOCACHE"},
	}
}

// ValidateConfig validates a runner configuration.
func ValidateConfig(cfg Config) error {
	if cfg.Timeout < 0 || cfg.MaxTimeout < 0 || cfg.KillGrace < 0 || cfg.PollInterval < 0 {
		return ErrInvalidTimeout
	}
	if cfg.MaxOutputBytes < 0 {
		return ErrInvalidOutputLimit
	}
	return nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Shell == "" {
		c.Shell = d.Shell
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = d.MaxTimeout
	}
	if c.KillGrace == 0 {
		c.KillGrace = d.KillGrace
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = d.MaxOutputBytes
	}
	if c.PassEnv == nil {
		c.PassEnv = d.PassEnv
	}
	return c
}
