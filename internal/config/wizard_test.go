package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWizard(t *testing.T, base *Config, lines ...string) (*Config, string, error) {
	t.Helper()
	var out bytes.Buffer
	w := NewWizardIO(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	cfg, err := w.Run(base)
	return cfg, out.String(), err
}

func TestWizardRun(t *testing.T) {
	t.Run("should keep defaults on empty answers", func(t *testing.T) {
		cfg, out, err := runWizard(t, nil, "", "", "", "")

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLM.DefaultDriver)
		assert.Equal(t, DefaultConfig().LLM.DefaultModel, cfg.LLM.DefaultModel)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Contains(t, out, "Configuration complete!")
	})

	t.Run("should reprompt on invalid answers", func(t *testing.T) {
		cfg, out, err := runWizard(t, nil,
			"palm", "openai",
			"bad-key", "sk-good",
			"gpt-4o",
			"loud",
		)

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.LLM.DefaultDriver)
		assert.Equal(t, "sk-good", cfg.LLM.Credentials["openai"].APIKey)
		assert.Equal(t, "gpt-4o", cfg.LLM.DefaultModel)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Contains(t, out, "unknown driver")
		assert.Contains(t, out, "Warning: invalid log level")
	})

	t.Run("should ask for a base url on local drivers", func(t *testing.T) {
		base := DefaultConfig()
		cfg, _, err := runWizard(t, base, "ollama", "", "http://gpu-box:11434/v1/", "llama3", "debug")

		require.NoError(t, err)
		assert.Same(t, base, cfg)
		assert.Equal(t, "http://gpu-box:11434/v1/", cfg.LLM.Credentials["ollama"].BaseURL)
		assert.Equal(t, "llama3", cfg.LLM.DefaultModel)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("should fail when input ends early", func(t *testing.T) {
		var out bytes.Buffer
		_, err := NewWizardIO(strings.NewReader(""), &out).Run(nil)
		assert.Error(t, err)
	})
}
