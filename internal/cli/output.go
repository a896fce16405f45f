package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rockbite/localforge/pkg/agent"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/subagent"
)

var (
	dim     = color.New(color.Faint).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
	cyan    = color.New(color.FgCyan).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
)

// setColor forces colors on or off; fatih/color already disables them
// when stdout is not a terminal.
func setColor(on bool) {
	if !on {
		color.NoColor = true
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// preview returns the first line of s cut to n runes.
func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// terminalSink prints agent events as they happen.
type terminalSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{out: out}
}

func (s *terminalSink) Emit(e agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Type {
	case agent.EventTopic:
		fmt.Fprintf(s.out, "%s %s\n", magenta("●"), bold(e.Text))
	case agent.EventGerund:
		fmt.Fprintf(s.out, "  %s\n", dim(e.Text+"…"))
	case agent.EventToolStart:
		fmt.Fprintf(s.out, "  %s %s %s\n", cyan("→"), e.ToolName, dim(preview(e.Arguments, 80)))
	case agent.EventToolComplete:
		mark := green("✓")
		detail := preview(e.Output, 80)
		if !e.Success {
			mark = red("✗")
			detail = preview(e.Error, 80)
		}
		fmt.Fprintf(s.out, "  %s %s %s\n", mark, e.ToolName, dim(detail))
	case agent.EventInterruptComplete:
		fmt.Fprintf(s.out, "%s\n", yellow(session.InterruptedMessage))
	case agent.EventError:
		fmt.Fprintf(s.out, "%s %s\n", red("error:"), e.Error)
	}
}

func renderUsage(w io.Writer, acc session.Accounting) {
	if len(acc.Models) == 0 {
		return
	}
	models := make([]string, 0, len(acc.Models))
	for m := range acc.Models {
		models = append(models, m)
	}
	sort.Strings(models)

	t := newTable(w)
	t.AppendHeader(table.Row{"Model", "Calls", "Input", "Output", "Cost"})
	for _, m := range models {
		u := acc.Models[m]
		t.AppendRow(table.Row{m, u.Calls, humanize.Comma(u.InputTokens), humanize.Comma(u.OutputTokens), formatCost(u.Cost)})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", formatCost(acc.TotalCost)})
	t.Render()
}

func renderRuns(w io.Writer, runs []subagent.RunRecord) {
	if len(runs) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Sub-agent", "Status", "Duration", "Prompt"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.ChildSessionID, statusColor(string(r.Status)), r.Duration().Round(time.Millisecond), preview(r.Prompt, 50)})
	}
	t.Render()
}

func renderTasks(w io.Writer, tasks []*session.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, dim("no tasks"))
		return
	}
	session.WalkTasks(tasks, func(task *session.Task, depth int) {
		fmt.Fprintf(w, "%s%s %s %s\n", strings.Repeat("  ", depth), taskMark(task.Status), task.Title, dim(task.ID))
	})
}

func taskMark(status session.TaskStatus) string {
	switch status {
	case session.TaskCompleted:
		return green("[x]")
	case session.TaskInProgress:
		return yellow("[~]")
	case session.TaskError:
		return red("[!]")
	}
	return "[ ]"
}

func statusColor(status string) string {
	switch status {
	case "completed", "success", "idle":
		return green(status)
	case "failed", "error":
		return red(status)
	case "aborted", "interrupted":
		return yellow(status)
	}
	return cyan(status)
}

func formatCost(cost float64) string {
	return "$" + humanize.FormatFloat("#,###.####", cost)
}
