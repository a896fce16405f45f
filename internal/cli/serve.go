package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/pkg/stream"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupSchedule = "@every 10m"
)

var serveFlags struct {
	host string
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the localforge server",
	Long: `Run localforge in the foreground, serving the event stream on /ws,
Prometheus metrics on /metrics and a health check on /healthz.
Clients send messages and interrupts over the stream connection.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.host != "" {
		cfg.Server.Host = serveFlags.host
	}
	if serveFlags.port != 0 {
		cfg.Server.Port = serveFlags.port
	}

	pidFile := pidFilePath(cfg)
	if isRunning(pidFile) {
		return fmt.Errorf("localforge is already running (PID file: %s)", pidFile)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		watch:     true,
		approvals: approvalHandler(cfg.Tools.Approvals, false, nil, nil),
	})
	if err != nil {
		return err
	}
	logger := a.log.Component("server")

	hubLogger := a.log.Component("stream")
	hub := stream.NewHub(stream.Config{Controller: a.runner, Logger: &hubLogger})

	if err := a.sessions.StartSweeper(); err != nil {
		logger.Warn().Err(err).Msg("Session sweeper disabled")
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cleanupSchedule, func() {
		if n := a.coordinator.Cleanup(); n > 0 {
			logger.Debug().Int("removed", n).Msg("Sub-agent records cleaned up")
		}
	}); err != nil {
		logger.Warn().Err(err).Msg("Sub-agent cleanup disabled")
	}
	scheduler.Start()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		hub.Close()
		<-scheduler.Stop().Done()
		_ = a.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
	}
	if err := writePIDFile(pidFile); err != nil {
		logger.Warn().Err(err).Str("path", pidFile).Msg("Failed to write PID file")
	}
	defer os.Remove(pidFile)

	srv := &http.Server{
		Handler:           newServeMux(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	logger.Info().Str("addr", ln.Addr().String()).Msg("localforge server started")
	fmt.Fprintf(cmd.OutOrStdout(), "localforge listening on %s\n", ln.Addr())

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	return shutdown(srv, hub, scheduler, a, logger, err)
}

func shutdown(srv *http.Server, hub *stream.Hub, scheduler *cron.Cron, a *app, logger zerolog.Logger, serveErr error) error {
	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	hub.Close()
	<-scheduler.Stop().Done()
	if !a.runner.Drain(shutdownTimeout) {
		logger.Warn().Int("turns", a.runner.ActiveTurns()).Msg("Turns still running at shutdown")
	}
	if err := a.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to close cleanly")
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func newServeMux(a *app, hub *stream.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", healthHandler(a, hub))
	return mux
}

type healthStatus struct {
	Status         string   `json:"status"`
	Version        string   `json:"version"`
	CachedSessions int      `json:"cachedSessions"`
	Connections    int      `json:"connections"`
	ActiveTurns    int      `json:"activeTurns"`
	SubAgents      int      `json:"subAgents"`
	MCPServers     []string `json:"mcpServers"`
}

func healthHandler(a *app, hub *stream.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:         "ok",
			Version:        version,
			CachedSessions: len(a.sessions.CachedIDs()),
			Connections:    hub.Count(),
			ActiveTurns:    a.runner.ActiveTurns(),
			SubAgents:      a.coordinator.GetStats().ActiveRuns,
			MCPServers:     []string{},
		}
		for _, info := range a.mcp.List() {
			status.MCPServers = append(status.MCPServers, info.ID)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}
