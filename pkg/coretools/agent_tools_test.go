package coretools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rockbite/localforge/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubAgents struct {
	req      SubAgentRequest
	cachedAt []string
	err      error
	sessions *session.Manager
}

func (f *fakeSubAgents) RunSubAgent(ctx context.Context, req SubAgentRequest) (string, error) {
	f.req = req
	if f.sessions != nil {
		f.cachedAt = f.sessions.CachedIDs()
	}
	if f.err != nil {
		return "", f.err
	}
	return "the answer", nil
}

func TestDispatchAgent(t *testing.T) {
	t.Run("should run with read-only tools in a throwaway session", func(t *testing.T) {
		sub := &fakeSubAgents{}
		tt := setupTestTools(t, func(o *Options) {
			o.SubAgents = sub
			sub.sessions = o.Sessions
		})

		res := tt.run(t, ToolDispatchAgent, map[string]interface{}{"prompt": "find the config loader"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "the answer", res.Output)

		assert.Equal(t, "s1", sub.req.ParentSessionID)
		assert.Equal(t, testModel, sub.req.Model)
		assert.Equal(t, tt.root, sub.req.WorkingDir)
		assert.True(t, strings.HasPrefix(sub.req.SessionID, "sub_"))
		assert.Equal(t, []string{ToolFetch, ToolList, ToolSearch, ToolView}, sub.req.Tools.ListTools())

		assert.Contains(t, sub.cachedAt, sub.req.SessionID)
		assert.NotContains(t, tt.sessions.CachedIDs(), sub.req.SessionID)
	})

	t.Run("should discard the session on failure", func(t *testing.T) {
		sub := &fakeSubAgents{err: errors.New("model unavailable")}
		tt := setupTestTools(t, func(o *Options) { o.SubAgents = sub })

		res := tt.run(t, ToolDispatchAgent, map[string]interface{}{"prompt": "x"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "model unavailable")
		assert.NotContains(t, tt.sessions.CachedIDs(), sub.req.SessionID)
	})
}

func TestTasksTool(t *testing.T) {
	tt := setupTestTools(t)
	ctx := context.Background()

	tasks := func() []*session.Task {
		s, err := tt.sessions.GetSession(ctx, "s1")
		require.NoError(t, err)
		return s.Tasks
	}

	t.Run("should manage the task tree", func(t *testing.T) {
		res := tt.run(t, ToolTasks, map[string]interface{}{"action": "list"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "No tasks.", res.Output)

		res = tt.run(t, ToolTasks, map[string]interface{}{"action": "add", "title": "Build"})
		require.True(t, res.Success, res.Error)
		parent := tasks()[0]

		res = tt.run(t, ToolTasks, map[string]interface{}{"action": "add", "title": "Compile", "parent_id": parent.ID})
		require.True(t, res.Success, res.Error)
		child := tasks()[0].Children[0]

		res = tt.run(t, ToolTasks, map[string]interface{}{"action": "status", "id": child.ID, "status": "completed"})
		require.True(t, res.Success, res.Error)

		res = tt.run(t, ToolTasks, map[string]interface{}{"action": "list"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "- [pending] "+parent.ID+": Build\n  - [completed] "+child.ID+": Compile\n", res.Output)
	})

	t.Run("should reject cyclic moves", func(t *testing.T) {
		parent := tasks()[0]
		child := parent.Children[0]
		res := tt.run(t, ToolTasks, map[string]interface{}{"action": "move", "id": parent.ID, "parent_id": child.ID})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "own subtree")
	})

	t.Run("should edit and remove", func(t *testing.T) {
		parent := tasks()[0]
		res := tt.run(t, ToolTasks, map[string]interface{}{"action": "edit", "id": parent.ID, "title": "Ship"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "Ship", tasks()[0].Title)

		res = tt.run(t, ToolTasks, map[string]interface{}{"action": "remove", "id": parent.ID})
		require.True(t, res.Success, res.Error)
		assert.Empty(t, tasks())
	})

	t.Run("should require an id", func(t *testing.T) {
		res := tt.run(t, ToolTasks, map[string]interface{}{"action": "remove"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "id is required")
	})
}
