package coretools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rockbite/localforge/pkg/sandbox"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "claude-sonnet-4"

type testTools struct {
	exec     *toolexecutor.ToolExecutor
	root     string
	sessions *session.Manager
	execCtx  *toolexecutor.ExecutionContext
}

func setupTestTools(t *testing.T, mutate ...func(*Options)) *testTools {
	t.Helper()

	root := t.TempDir()
	runner, err := sandbox.NewRunner(sandbox.Config{
		Timeout:      5 * time.Second,
		KillGrace:    200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	mgr := session.NewManager(session.Config{SaveDebounce: -1})
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })
	_, err = mgr.CreateSession(context.Background(), "s1", session.CreateOptions{WorkingDirectory: root})
	require.NoError(t, err)

	opts := Options{Runner: runner, Sessions: mgr}
	for _, fn := range mutate {
		fn(&opts)
	}

	exec := toolexecutor.New()
	require.NoError(t, RegisterAll(exec, opts))

	return &testTools{
		exec:     exec,
		root:     root,
		sessions: mgr,
		execCtx:  &toolexecutor.ExecutionContext{SessionID: "s1", WorkingDir: root, Model: testModel},
	}
}

func (tt *testTools) run(t *testing.T, tool string, params map[string]interface{}) toolexecutor.ToolResult {
	t.Helper()
	return tt.exec.Execute(context.Background(), tool, params, tt.execCtx)
}

func (tt *testTools) writeFile(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(tt.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRegisterAll(t *testing.T) {
	t.Run("should register every core tool", func(t *testing.T) {
		tt := setupTestTools(t, func(o *Options) { o.SubAgents = &fakeSubAgents{} })
		assert.ElementsMatch(t, []string{
			ToolView, ToolList, ToolGlob, ToolSearch, ToolWrite, ToolEdit,
			ToolBash, ToolFetch, ToolBatch, ToolTasks, ToolDispatchAgent,
		}, tt.exec.ListTools())
	})

	t.Run("should skip session tools without a manager", func(t *testing.T) {
		exec := toolexecutor.New()
		require.NoError(t, RegisterAll(exec, Options{WorkingDir: t.TempDir()}))
		assert.Nil(t, exec.GetTool(ToolTasks))
		assert.Nil(t, exec.GetTool(ToolDispatchAgent))
	})

	t.Run("should give sub-agents only read and web tools", func(t *testing.T) {
		tt := setupTestTools(t)
		sub := tt.exec.Subset(SubAgentTools...)
		assert.Len(t, sub.ListTools(), len(SubAgentTools))
		for _, name := range sub.ListTools() {
			category := sub.GetTool(name).Category
			assert.Contains(t, []toolexecutor.ToolCategory{toolexecutor.CategoryRead, toolexecutor.CategoryWeb}, category, name)
		}
	})

	t.Run("should reject a nil executor", func(t *testing.T) {
		assert.Error(t, RegisterAll(nil, Options{}))
	})
}

func TestPathConfinement(t *testing.T) {
	tt := setupTestTools(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	calls := map[string]map[string]interface{}{
		ToolView:  {"file_path": outside},
		ToolWrite: {"file_path": outside, "content": "x"},
		ToolEdit:  {"file_path": outside, "old_string": "secret", "new_string": "y"},
	}
	for tool, params := range calls {
		t.Run("should deny "+tool+" outside the working directory", func(t *testing.T) {
			res := tt.run(t, tool, params)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "sandbox denied")
		})
	}

	t.Run("should leave the outside file untouched", func(t *testing.T) {
		data, err := os.ReadFile(outside)
		require.NoError(t, err)
		assert.Equal(t, "secret", string(data))
	})

	t.Run("should deny traversal", func(t *testing.T) {
		res := tt.run(t, ToolList, map[string]interface{}{"path": "../.."})
		assert.False(t, res.Success)
	})

	t.Run("should require a working directory", func(t *testing.T) {
		exec := toolexecutor.New()
		require.NoError(t, RegisterAll(exec, Options{}))
		res := exec.Execute(context.Background(), ToolView, map[string]interface{}{"file_path": "a"}, nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "working directory is not configured")
	})
}
