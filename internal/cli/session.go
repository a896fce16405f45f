package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rockbite/localforge/internal/config"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/stream"
	"github.com/spf13/cobra"
)

const interruptTimeout = 5 * time.Second

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's history and usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionTasksCmd = &cobra.Command{
	Use:   "tasks <id>",
	Short: "Show a session's task tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionTasks,
}

var sessionInterruptCmd = &cobra.Command{
	Use:   "interrupt <id>",
	Short: "Interrupt a turn running in the localforge server",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionInterrupt,
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionTasksCmd)
	sessionCmd.AddCommand(sessionInterruptCmd)
	rootCmd.AddCommand(sessionCmd)
}

// withSessions opens the configured store behind a manager that never
// writes on its own.
func withSessions(cmd *cobra.Command, fn func(ctx context.Context, m *session.Manager) error) error {
	setColor(!noColor)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	m := session.NewManager(session.Config{Store: store, Prices: session.DefaultPrices})
	return fn(cmd.Context(), m)
}

func runSessionList(cmd *cobra.Command, _ []string) error {
	return withSessions(cmd, func(ctx context.Context, m *session.Manager) error {
		ids, err := m.ListStored(ctx)
		if err != nil {
			return err
		}
		sessions := make([]*session.Session, 0, len(ids))
		for _, id := range ids {
			s, err := m.GetSession(ctx, id)
			if err != nil {
				continue
			}
			sessions = append(sessions, s)
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		})

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Session", "Agent", "Messages", "Cost", "Updated", "Directory"})
		for _, s := range sessions {
			t.AppendRow(table.Row{
				s.ID,
				s.AgentID,
				len(s.History),
				formatCost(s.Accounting.TotalCost),
				humanize.Time(s.UpdatedAt),
				s.WorkingDirectory,
			})
		}
		t.Render()
		return nil
	})
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	return withSessions(cmd, func(ctx context.Context, m *session.Manager) error {
		s, err := m.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "%s %s\n", bold("Session"), s.ID)
		fmt.Fprintf(out, "  directory  %s\n", s.WorkingDirectory)
		if s.AgentID != "" {
			fmt.Fprintf(out, "  agent      %s\n", s.AgentID)
		}
		fmt.Fprintf(out, "  state      %s\n", statusColor(string(s.AgentState.Status)))
		fmt.Fprintf(out, "  created    %s\n", humanize.Time(s.CreatedAt))
		fmt.Fprintf(out, "  updated    %s\n\n", humanize.Time(s.UpdatedAt))

		t := newTable(out)
		t.AppendHeader(table.Row{"#", "Role", "Content", "Time"})
		for i, msg := range s.History {
			content := msg.Content
			if len(msg.ToolCalls) > 0 {
				for _, call := range msg.ToolCalls {
					content += fmt.Sprintf(" [%s]", call.Name)
				}
			}
			t.AppendRow(table.Row{i + 1, msg.Role, preview(content, 70), msg.Timestamp.Format(time.Kitchen)})
		}
		t.Render()

		if len(s.ToolLogs) > 0 {
			logs := newTable(out)
			logs.AppendHeader(table.Row{"Tool", "Status", "Duration", "Error"})
			for _, l := range s.ToolLogs {
				logs.AppendRow(table.Row{l.Name, statusColor(l.Status), time.Duration(l.DurationMs) * time.Millisecond, preview(l.Error, 50)})
			}
			logs.Render()
		}

		renderUsage(out, s.Accounting)
		return nil
	})
}

func runSessionTasks(cmd *cobra.Command, args []string) error {
	return withSessions(cmd, func(ctx context.Context, m *session.Manager) error {
		s, err := m.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		renderTasks(cmd.OutOrStdout(), s.Tasks)
		return nil
	})
}

func runSessionInterrupt(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ok, err := requestInterrupt(cmd.Context(), serverURL(cfg), args[0])
	if err != nil {
		return fmt.Errorf("failed to reach localforge server at %s: %w", cfg.Server.Addr(), err)
	}
	if ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Interrupt requested for %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s has no running turn\n", args[0])
	}
	return nil
}

func serverURL(cfg *config.Config) string {
	u := url.URL{Scheme: "ws", Host: cfg.Server.Addr(), Path: "/ws"}
	return u.String()
}

// requestInterrupt sends an interrupt request over the stream endpoint and
// waits for its response.
func requestInterrupt(ctx context.Context, wsURL, sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, interruptTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(stream.Request{ID: "interrupt", Method: stream.MethodInterrupt, SessionID: sessionID}); err != nil {
		return false, err
	}
	for {
		var env stream.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return false, err
		}
		if env.Type != stream.TypeResponse || env.ID != "interrupt" {
			continue
		}
		if env.Error != "" {
			return false, fmt.Errorf("%s", env.Error)
		}
		var result struct {
			Interrupted bool `json:"interrupted"`
		}
		data, _ := json.Marshal(env.Result)
		if err := json.Unmarshal(data, &result); err != nil {
			return false, err
		}
		return result.Interrupted, nil
	}
}
