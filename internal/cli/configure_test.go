package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rockbite/localforge/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

// resetHelpFlag clears a --help left set by an earlier Execute.
func resetHelpFlag(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
	}
}

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"configure", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, output.String(), "interactive configuration wizard")
	})

	t.Run("should save the wizard answers", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "")
		path := filepath.Join(home, "config.json")
		t.Cleanup(func() { cfgFile = "" })

		// driver, API key, base URL, model, log level
		answers := strings.Join([]string{"ollama", "", "http://localhost:11434/v1/", "llama3.1", "debug"}, "\n") + "\n"
		resetHelpFlag(configureCmd)

		cmd := GetRootCmd()
		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetIn(strings.NewReader(answers))
		cmd.SetArgs([]string{"configure", "--config", path})
		t.Cleanup(func() { cmd.SetIn(nil) })

		err := cmd.Execute()
		require.NoError(t, err)
		assert.Contains(t, output.String(), "Configuration saved to: "+path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "ollama", cfg.LLM.DefaultDriver)
		assert.Equal(t, "llama3.1", cfg.LLM.DefaultModel)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}
