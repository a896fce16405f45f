package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneKind(t *testing.T) {
	assert.Equal(t, "session", laneKind("session:abc"))
	assert.Equal(t, "main", laneKind("main"))
}

func TestMetricsHandler(t *testing.T) {
	t.Run("should expose recorded series", func(t *testing.T) {
		RecordToolExecution("view", 10*time.Millisecond, true)
		RecordProviderCall("anthropic", time.Second, true, 100, 20)
		RecordQueueEnqueue("session:abc", 1)
		RecordInterruption()

		rec := httptest.NewRecorder()
		MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		text := string(body)
		assert.Contains(t, text, `localforge_tool_execution_total{status="success",tool="view"}`)
		assert.Contains(t, text, `localforge_queue_enqueue_total{lane="session"}`)
		assert.Contains(t, text, "localforge_interruptions_total")
	})
}

func TestAuditLogger(t *testing.T) {
	t.Run("should write json lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
		require.NoError(t, InitAuditLogger(path))

		RecordToolAudit(context.Background(), "s1", "bash", "success", map[string]interface{}{"exitCode": 0})
		RecordSandboxAudit(context.Background(), "s1", "path_denied", nil)
		require.NoError(t, GetAuditLogger().Close())

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		var lines []map[string]interface{}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var line map[string]interface{}
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
			lines = append(lines, line)
		}
		require.Len(t, lines, 2)
		assert.Equal(t, "tool:bash", lines[0]["action"])
		assert.Equal(t, "s1", lines[0]["session_id"])
		assert.Equal(t, "denied", lines[1]["status"])
	})
}
