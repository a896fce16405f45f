package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/mattn/go-isatty"
	"github.com/rockbite/localforge/pkg/agent"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/spf13/cobra"
)

var askFlags struct {
	session string
	dir     string
	agentID string
	model   string
	driver  string
	json    bool
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Run a prompt against a session",
	Long: `Send one message to a session and stream the agent's progress.
The prompt is read from stdin when no argument is given. Press Ctrl-C once to
interrupt the running turn and twice to abort.`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askFlags.session, "session", "s", "", "session id (default: a new session)")
	askCmd.Flags().StringVarP(&askFlags.dir, "dir", "C", "", "working directory (default: current directory)")
	askCmd.Flags().StringVarP(&askFlags.agentID, "agent", "a", "", "persona id")
	askCmd.Flags().StringVarP(&askFlags.model, "model", "m", "", "model override")
	askCmd.Flags().StringVar(&askFlags.driver, "driver", "", "driver override")
	askCmd.Flags().BoolVar(&askFlags.json, "json", false, "print events as JSON lines")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	setColor(!noColor && !askFlags.json)

	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir, err := workingDir(askFlags.dir)
	if err != nil {
		return err
	}
	sessionID := askFlags.session
	if sessionID == "" {
		id, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 10)
		if err != nil {
			return err
		}
		sessionID = "cli-" + id
	}
	if err := session.ValidateSessionID(sessionID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	interactive := isatty.IsTerminal(os.Stdin.Fd()) && len(args) > 0
	a, err := newApp(ctx, cfg, appOptions{
		approvals: approvalHandler(cfg.Tools.Approvals, interactive, os.Stdin, cmd.ErrOrStderr()),
	})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if _, err := a.sessions.EnsureSession(ctx, sessionID, session.CreateOptions{
		WorkingDirectory: dir,
		AgentID:          askFlags.agentID,
	}); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var sink agent.EventSink = newTerminalSink(cmd.ErrOrStderr())
	if askFlags.json {
		sink = jsonSink(out)
	}

	stop := watchInterrupts(ctx, cancel, func() bool { return a.runner.Interrupt(sessionID) })
	defer stop()

	result, err := a.runner.HandleMessage(ctx, agent.HandleParams{
		SessionID:  sessionID,
		Text:       prompt,
		AgentID:    askFlags.agentID,
		Model:      askFlags.model,
		Driver:     askFlags.driver,
		WorkingDir: dir,
		Sink:       sink,
	})
	if err != nil {
		return err
	}
	if askFlags.json {
		return json.NewEncoder(out).Encode(result)
	}

	if result.Response != "" {
		fmt.Fprintln(out, result.Response)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), dim("session "+sessionID))

	s, err := a.sessions.GetSession(ctx, sessionID)
	if err == nil {
		renderUsage(cmd.ErrOrStderr(), s.Accounting)
	}
	renderRuns(cmd.ErrOrStderr(), a.coordinator.ListDescendants(sessionID))

	if result.Failed {
		return errors.New(result.Error)
	}
	return nil
}

func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

func workingDir(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// watchInterrupts turns the first SIGINT into a turn interruption and a
// second one, or SIGTERM, into cancellation.
func watchInterrupts(ctx context.Context, cancel context.CancelFunc, interrupt func() bool) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		interrupted := false
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == syscall.SIGINT && !interrupted && interrupt() {
					interrupted = true
					continue
				}
				cancel()
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func jsonSink(w io.Writer) agent.EventSink {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return agent.SinkFunc(func(e agent.Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(e)
	})
}
