package toolexecutor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
)

// CLIApprovalHandler handles approval requests via terminal prompts
type CLIApprovalHandler struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewCLIApprovalHandler creates a new CLI approval handler
func NewCLIApprovalHandler(reader io.Reader, writer io.Writer) *CLIApprovalHandler {
	return &CLIApprovalHandler{
		reader: bufio.NewReader(reader),
		writer: writer,
	}
}

// RequestApproval prompts the user and waits for an answer or ctx.
func (c *CLIApprovalHandler) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	c.displayApprovalRequest(req)

	responseChan := make(chan ApprovalResponse, 1)
	errorChan := make(chan error, 1)
	go func() {
		response, err := c.readUserInput(req)
		if err != nil {
			errorChan <- err
		} else {
			responseChan <- response
		}
	}()

	select {
	case response := <-responseChan:
		return response, nil
	case err := <-errorChan:
		return ApprovalResponse{}, err
	case <-ctx.Done():
		fmt.Fprintln(c.writer, color.YellowString("\n  Approval request timed out"))
		return ApprovalResponse{Approved: false, Reason: "timeout"}, ctx.Err()
	}
}

func (c *CLIApprovalHandler) displayApprovalRequest(req ApprovalRequest) {
	bold := color.New(color.Bold)
	fmt.Fprintln(c.writer)
	bold.Fprintln(c.writer, "  Command needs approval")
	fmt.Fprintf(c.writer, "  Command:    %s\n", color.CyanString(req.Command))
	if req.Cwd != "" {
		fmt.Fprintf(c.writer, "  Directory:  %s\n", req.Cwd)
	}
	if req.Reason != "" {
		fmt.Fprintf(c.writer, "  Reason:     %s\n", color.YellowString(req.Reason))
	}
	if req.Model != "" {
		fmt.Fprintf(c.writer, "  Model:      %s\n", req.Model)
	}
	fmt.Fprint(c.writer, "  Approve this command? [y/N]: ")
}

func (c *CLIApprovalHandler) readUserInput(req ApprovalRequest) (ApprovalResponse, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return ApprovalResponse{}, fmt.Errorf("failed to read input: %w", err)
	}

	input := strings.TrimSpace(strings.ToLower(line))
	switch input {
	case "y", "yes":
		fmt.Fprintln(c.writer, color.GreenString("  Command approved"))
		log.Info().Str("command", req.Command).Msg("Command approved via CLI")
		return ApprovalResponse{Approved: true, Reason: "approved by user"}, nil
	case "n", "no", "":
		fmt.Fprintln(c.writer, color.RedString("  Command denied"))
		log.Info().Str("command", req.Command).Msg("Command denied via CLI")
		return ApprovalResponse{Approved: false, Reason: "denied by user"}, nil
	default:
		fmt.Fprintf(c.writer, "  Invalid input %q, denying\n", input)
		return ApprovalResponse{Approved: false, Reason: fmt.Sprintf("invalid input: %s", input)}, nil
	}
}
