package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Show whether the localforge server is running and what it is serving.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	setColor(!noColor)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := pidFilePath(cfg)

	if !isRunning(pidFile) {
		fmt.Fprintf(out, "Status: %s\n", yellow("stopped"))
		return nil
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Status: %s\n", green("running"))
	fmt.Fprintf(out, "PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}
	fmt.Fprintf(out, "Address: %s\n", cfg.Server.Addr())

	health, err := fetchHealth(cmd.Context(), "http://"+cfg.Server.Addr()+"/healthz")
	if err != nil {
		fmt.Fprintf(out, "Health: %s (%v)\n", red("unreachable"), err)
		return nil
	}
	fmt.Fprintf(out, "Sessions cached: %d\n", health.CachedSessions)
	fmt.Fprintf(out, "Stream connections: %d\n", health.Connections)
	fmt.Fprintf(out, "Active turns: %d\n", health.ActiveTurns)
	fmt.Fprintf(out, "Active sub-agents: %d\n", health.SubAgents)
	if len(health.MCPServers) > 0 {
		fmt.Fprintf(out, "MCP servers: %s\n", strings.Join(health.MCPServers, ", "))
	}
	return nil
}

func fetchHealth(ctx context.Context, url string) (*healthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var health healthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
