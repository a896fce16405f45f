package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rockbite/localforge/pkg/mcp"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var mcpListTools bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect configured MCP servers",
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "Connect to configured MCP servers and list their tools",
	Args:  cobra.NoArgs,
	RunE:  runMCPList,
}

func init() {
	mcpListCmd.Flags().BoolVar(&mcpListTools, "tools", false, "list every bridged tool")
	mcpCmd.AddCommand(mcpListCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPList(cmd *cobra.Command, _ []string) error {
	setColor(!noColor)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(cfg.MCP.Servers) == 0 {
		fmt.Fprintln(out, dim("no MCP servers configured"))
		return nil
	}

	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Close()

	tools := toolexecutor.New()
	registry := mcp.NewRegistry(tools)
	registry.SetLogger(*log.Zerolog())
	defer registry.CloseAll()

	failures := make(map[string]string)
	for _, server := range cfg.MCP.Servers {
		if server.Disabled {
			continue
		}
		if err := registry.Add(cmd.Context(), server); err != nil {
			failures[server.ID] = err.Error()
		}
	}

	connected := make(map[string]mcp.ServerInfo)
	for _, info := range registry.List() {
		connected[info.ID] = info
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"Server", "Transport", "Target", "Status", "Tools", "Connected"})
	for _, server := range cfg.MCP.Servers {
		info, ok := connected[server.ID]
		switch {
		case server.Disabled:
			t.AppendRow(table.Row{server.ID, server.Transport, serverTarget(server), dim("disabled"), "", ""})
		case ok:
			name := info.ServerName
			if name == "" {
				name = "connected"
			}
			t.AppendRow(table.Row{info.ID, info.Transport, info.Target, green(name), len(info.Tools), humanize.Time(info.ConnectedAt)})
		default:
			t.AppendRow(table.Row{server.ID, server.Transport, serverTarget(server), red("error"), "", preview(failures[server.ID], 40)})
		}
	}
	t.Render()

	if mcpListTools {
		list := newTable(out)
		list.AppendHeader(table.Row{"Tool", "Source", "Description"})
		for _, info := range registry.List() {
			for _, name := range info.Tools {
				def := tools.GetTool(name)
				if def == nil {
					continue
				}
				list.AppendRow(table.Row{name, def.Source, preview(def.Description, 60)})
			}
		}
		list.Render()
	}
	return nil
}

func serverTarget(s mcp.ServerConfig) string {
	if s.URL != "" {
		return s.URL
	}
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}
