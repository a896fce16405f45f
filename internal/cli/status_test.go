package cli

import (
	"bytes"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rockbite/localforge/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStatus points the config at a temp data dir and the given
// server address. It returns the PID file path status will read.
func setupTestStatus(t *testing.T, host string, port int) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOCALFORGE_DATA_DIR", dataDir)
	t.Setenv("LOCALFORGE_SERVER_HOST", host)
	t.Setenv("LOCALFORGE_SERVER_PORT", strconv.Itoa(port))
	t.Cleanup(func() { noColor = false })
	resetHelpFlag(statusCmd)
	return filepath.Join(dataDir, "localforge.pid")
}

func runStatusCommand(t *testing.T) string {
	t.Helper()
	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetArgs([]string{"status", "--no-color"})
	require.NoError(t, cmd.Execute())
	return output.String()
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStatusCommand(t *testing.T) {
	t.Run("should report stopped without a PID file", func(t *testing.T) {
		setupTestStatus(t, "127.0.0.1", closedPort(t))

		output := runStatusCommand(t)
		assert.Contains(t, output, "Status: stopped")
		assert.NotContains(t, output, "PID:")
	})

	t.Run("should report stopped for a malformed PID file", func(t *testing.T) {
		pidFile := setupTestStatus(t, "127.0.0.1", closedPort(t))
		require.NoError(t, writeFile(pidFile, "not-a-pid"))

		assert.Contains(t, runStatusCommand(t), "Status: stopped")
	})

	t.Run("should show the server health", func(t *testing.T) {
		a := setupTestApp(t)
		hub := stream.NewHub(stream.Config{Controller: a.runner})
		t.Cleanup(hub.Close)
		srv := httptest.NewServer(newServeMux(a, hub))
		t.Cleanup(srv.Close)

		u, err := url.Parse(srv.URL)
		require.NoError(t, err)
		port, err := strconv.Atoi(u.Port())
		require.NoError(t, err)

		pidFile := setupTestStatus(t, u.Hostname(), port)
		require.NoError(t, writePIDFile(pidFile))

		output := runStatusCommand(t)
		assert.Contains(t, output, "Status: running")
		assert.Contains(t, output, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, output, "Uptime: ")
		assert.Contains(t, output, "Address: "+u.Host)
		assert.Contains(t, output, "Sessions cached: 0")
		assert.Contains(t, output, "Stream connections: 0")
		assert.Contains(t, output, "Active turns: 0")
		assert.Contains(t, output, "Active sub-agents: 0")
		assert.NotContains(t, output, "unreachable")
	})

	t.Run("should flag an unreachable health endpoint", func(t *testing.T) {
		pidFile := setupTestStatus(t, "127.0.0.1", closedPort(t))
		require.NoError(t, writePIDFile(pidFile))

		output := runStatusCommand(t)
		assert.Contains(t, output, "Status: running")
		assert.Contains(t, output, "Health: unreachable")
	})
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(400*time.Millisecond))
	assert.Equal(t, "1m5s", formatDuration(65*time.Second))
	assert.Equal(t, "26h0m1s", formatDuration(26*time.Hour+time.Second))
}
