package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"valid anthropic key", "sk-ant-test123", "anthropic", false},
		{"invalid anthropic key", "invalid-key", "anthropic", true},
		{"valid openai key", "sk-test123", "openai", false},
		{"invalid openai key", "invalid-key", "openai", true},
		{"empty key", "", "anthropic", true},
		{"any gemini key", "AIza-123", "gemini", false},
		{"ollama needs no key", "", "ollama", false},
		{"compatible needs no key", "", "openai-compatible", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDriver(t *testing.T) {
	v := NewValidator()

	for _, driver := range knownDrivers {
		assert.NoError(t, v.ValidateDriver(driver), driver)
	}
	assert.Error(t, v.ValidateDriver(""))
	assert.Error(t, v.ValidateDriver("Anthropic"))
}

func TestValidateModel(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateModel("claude-sonnet-4"))
	assert.NoError(t, v.ValidateModel("custom-local-model"))
	assert.Error(t, v.ValidateModel(""))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
	assert.Error(t, v.ValidateLogLevel(""))
}

func TestValidateStore(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateStore(StoreSQLite))
	assert.NoError(t, v.ValidateStore(StoreFile))
	assert.NoError(t, v.ValidateStore(StoreMemory))
	assert.Error(t, v.ValidateStore("postgres"))
}

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(1))
	assert.NoError(t, v.ValidatePort(65535))
	assert.Error(t, v.ValidatePort(0))
	assert.Error(t, v.ValidatePort(65536))
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("@every 1m"))
	assert.NoError(t, v.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("every minute"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("should accept defaults", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("should collect every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.DefaultDriver = "palm"
		cfg.Agent.MaxIterations = 0
		cfg.Logging.Level = "loud"
		cfg.Sandbox.Timeout = -1

		errs := v.ValidateConfig(cfg)

		assert.Len(t, errs, 4)
	})
}
