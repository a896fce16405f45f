package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rockbite/localforge/pkg/llm"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard on stdin and stdout
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a wizard on the given streams
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run walks through the driver, credentials, model and log level,
// starting from base (or the defaults when base is nil).
func (w *Wizard) Run(base *Config) (*Config, error) {
	w.println("=== localforge configuration ===")
	w.println()

	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.LLM.Credentials == nil {
		cfg.LLM.Credentials = make(map[string]llm.Credentials)
	}
	validator := NewValidator()

	// Driver
	for {
		w.printf("Driver (%s) [%s]: ", strings.Join(knownDrivers, "/"), cfg.LLM.DefaultDriver)
		driver, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if driver == "" {
			break
		}
		if err := validator.ValidateDriver(driver); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.LLM.DefaultDriver = driver
		break
	}
	driver := cfg.LLM.DefaultDriver
	creds := cfg.LLM.Credentials[driver]

	// API key
	for {
		w.printf("%s API key (press Enter to keep current): ", driver)
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateAPIKey(key, driver); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		creds.APIKey = key
		break
	}

	if driver == "openai-compatible" || driver == "ollama" {
		w.printf("Base URL [%s]: ", creds.BaseURL)
		url, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if url != "" {
			creds.BaseURL = url
		}
	}
	cfg.LLM.Credentials[driver] = creds

	w.println()

	// Model
	w.printf("Model name [%s]: ", cfg.LLM.DefaultModel)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.LLM.DefaultModel = model
	}

	w.println()

	// Log level
	w.printf("Log level (debug/info/warn/error) [%s]: ", cfg.Logging.Level)
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			w.printf("Warning: %v, keeping %s\n", err, cfg.Logging.Level)
		} else {
			cfg.Logging.Level = level
		}
	}

	w.println()
	w.println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) printf(format string, args ...interface{}) {
	fmt.Fprintf(w.out, format, args...)
}

func (w *Wizard) println(args ...interface{}) {
	fmt.Fprintln(w.out, args...)
}
