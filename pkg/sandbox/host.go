package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rockbite/localforge/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Command is one shell invocation.
type Command struct {
	// Command is passed to the shell verbatim.
	Command string
	// Dir is the working directory; callers resolve it with ResolvePath.
	Dir string
	// Env adds variables on top of the inherited allowlist.
	Env   map[string]string
	Stdin []byte
	// Timeout overrides the configured default, capped at MaxTimeout.
	Timeout time.Duration
	// Interrupted is polled every PollInterval; returning true stops the
	// command like a cancellation.
	Interrupted func() bool
}

// Result is the outcome of a command.
type Result struct {
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Truncated   bool          `json:"truncated,omitempty"`
	// Signal is the last signal sent to the process group, if any.
	Signal string `json:"signal,omitempty"`
}

// Runner executes shell commands on the host, each in its own process
// group so that the whole tree can be terminated.
type Runner struct {
	config Config
	logger zerolog.Logger
}

// NewRunner creates a Runner. Zero config fields take their defaults.
func NewRunner(config Config) (*Runner, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Runner{
		config: config.withDefaults(),
		logger: log.Logger.With().Str("component", "sandbox.runner").Logger(),
	}, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.config
}

// Run executes cmd and waits for it. A hard timeout, ctx cancellation or a
// true Interrupted poll sends SIGTERM to the process group and SIGKILL
// after KillGrace. The result is returned in every case where the process
// started; the error is ErrExecutionTimeout or ErrCancelled for those
// stops and nil for a normal exit, whatever its status.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if strings.TrimSpace(cmd.Command) == "" {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.config.Timeout
	}
	if timeout > r.config.MaxTimeout {
		timeout = r.config.MaxTimeout
	}

	c := exec.Command(r.config.Shell, "-c", cmd.Command)
	c.Dir = cmd.Dir
	c.Env = r.buildEnvironment(cmd.Env)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.WaitDelay = r.config.KillGrace
	stdout := newCappedBuffer(r.config.MaxOutputBytes)
	stderr := newCappedBuffer(r.config.MaxOutputBytes)
	c.Stdout = stdout
	c.Stderr = stderr
	if len(cmd.Stdin) > 0 {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	pgid := c.Process.Pid

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	poll := time.NewTicker(r.config.PollInterval)
	defer poll.Stop()

	var (
		waitErr error
		reason  string
		signal  string
	)
wait:
	for {
		select {
		case waitErr = <-done:
			break wait
		case <-timer.C:
			reason = "timeout"
		case <-ctx.Done():
			reason = "cancelled"
		case <-poll.C:
			if cmd.Interrupted != nil && cmd.Interrupted() {
				reason = "interrupted"
			}
		}
		if reason != "" {
			signal, waitErr = r.terminate(pgid, done)
			observability.RecordProcessKill(reason, signal)
			break wait
		}
	}

	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode(waitErr),
		Duration:  time.Since(start),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Signal:    signal,
	}

	r.logger.Debug().
		Str("command", cmd.Command).
		Str("dir", cmd.Dir).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Str("stop_reason", reason).
		Msg("Command finished")

	switch reason {
	case "timeout":
		result.TimedOut = true
		return result, fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
	case "cancelled", "interrupted":
		result.Interrupted = true
		return result, fmt.Errorf("%w: %s", ErrCancelled, reason)
	}
	return result, nil
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// if the leader has not exited after the grace period.
func (r *Runner) terminate(pgid int, done <-chan error) (string, error) {
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		r.logger.Warn().Err(err).Int("pgid", pgid).Msg("Failed to send SIGTERM to process group")
	}

	grace := time.NewTimer(r.config.KillGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		// Stragglers that ignored SIGTERM still go.
		_ = unix.Kill(-pgid, unix.SIGKILL)
		return "SIGTERM", err
	case <-grace.C:
	}

	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		r.logger.Warn().Err(err).Int("pgid", pgid).Msg("Failed to send SIGKILL to process group")
	}
	return "SIGKILL", <-done
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// buildEnvironment starts from the inherited allowlist and adds extra.
func (r *Runner) buildEnvironment(extra map[string]string) []string {
	var env []string
	for _, key := range r.config.PassEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
