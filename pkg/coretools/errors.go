package coretools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/rockbite/localforge/pkg/sandbox"
)

// ErrorCode classifies a ToolError.
type ErrorCode string

const (
	CodeInvalidArgument ErrorCode = "invalid_argument"
	CodeNotFound        ErrorCode = "not_found"
	CodeDenied          ErrorCode = "denied"
	CodeBlocked         ErrorCode = "blocked"
	CodeTimeout         ErrorCode = "timeout"
	CodeCancelled       ErrorCode = "cancelled"
	CodeFailed          ErrorCode = "failed"
)

// ToolError is the error type returned by every core tool handler.
type ToolError struct {
	Tool    string
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func newToolError(tool string, code ErrorCode, format string, args ...interface{}) *ToolError {
	return &ToolError{Tool: tool, Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrapError turns a lower-level error into a ToolError with a code derived
// from its sentinel.
func wrapError(tool string, err error) error {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return err
	}

	code := CodeFailed
	switch {
	case errors.Is(err, sandbox.ErrSandboxDenied):
		code = CodeDenied
	case errors.Is(err, sandbox.ErrCommandBlocked):
		code = CodeBlocked
	case errors.Is(err, sandbox.ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.Is(err, sandbox.ErrCancelled), errors.Is(err, context.Canceled):
		code = CodeCancelled
	case errors.Is(err, fs.ErrNotExist):
		code = CodeNotFound
	}
	return &ToolError{Tool: tool, Code: code, Message: err.Error(), Err: err}
}
