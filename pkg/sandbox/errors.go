package sandbox

import "errors"

var (
	// ErrSandboxDenied is returned when a path escapes the working directory.
	ErrSandboxDenied = errors.New("sandbox denied")

	// ErrCommandBlocked is returned when a shell command is classified as blocked.
	ErrCommandBlocked = errors.New("command blocked by safety policy")

	// ErrExecutionTimeout is returned when a command exceeds its timeout.
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrCancelled is returned when a command is stopped by cancellation or
	// an interruption request.
	ErrCancelled = errors.New("execution cancelled")

	// ErrEmptyCommand is returned for blank commands.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrInvalidTimeout is returned when a timeout is negative.
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidOutputLimit is returned when the output cap is negative.
	ErrInvalidOutputLimit = errors.New("invalid output limit (must be >= 0)")
)
