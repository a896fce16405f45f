package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestTasks(t *testing.T) (*Manager, *countingStore) {
	mgr, store, _ := setupTestManager(t, -1)
	_, err := mgr.CreateSession(context.Background(), "s1", CreateOptions{})
	require.NoError(t, err)
	return mgr, store
}

func taskIDs(tasks []*Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestManager_Tasks(t *testing.T) {
	ctx := context.Background()

	t.Run("should add root and child tasks", func(t *testing.T) {
		mgr, _ := setupTestTasks(t)

		root, err := mgr.AddTask(ctx, "s1", TaskInput{Title: "  ship feature "})
		require.NoError(t, err)
		assert.Equal(t, "ship feature", root.Title)
		assert.Equal(t, TaskPending, root.Status)

		child, err := mgr.AddTask(ctx, "s1", TaskInput{Title: "write tests", ParentID: root.ID})
		require.NoError(t, err)
		assert.Equal(t, root.ID, child.ParentID)

		sess, err := mgr.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, sess.Tasks, 1)
		assert.Equal(t, []string{child.ID}, taskIDs(sess.Tasks[0].Children))
	})

	t.Run("should validate input", func(t *testing.T) {
		mgr, _ := setupTestTasks(t)

		_, err := mgr.AddTask(ctx, "s1", TaskInput{Title: " "})
		assert.ErrorIs(t, err, ErrTaskTitleRequired)
		_, err = mgr.AddTask(ctx, "s1", TaskInput{Title: "x", Status: "doing"})
		assert.ErrorIs(t, err, ErrInvalidStatus)
		_, err = mgr.AddTask(ctx, "s1", TaskInput{Title: "x", ParentID: "nope"})
		assert.ErrorIs(t, err, ErrTaskNotFound)
		assert.ErrorIs(t, mgr.SetTaskStatus(ctx, "s1", "nope", TaskCompleted), ErrTaskNotFound)
	})

	t.Run("should edit fields and report the diff", func(t *testing.T) {
		mgr, _ := setupTestTasks(t)
		var events []Event
		mgr.On(EventTaskUpdated, func(e Event) { events = append(events, e) })

		task, err := mgr.AddTask(ctx, "s1", TaskInput{Title: "draft"})
		require.NoError(t, err)

		title := "final"
		status := TaskInProgress
		updated, err := mgr.EditTask(ctx, "s1", task.ID, TaskPatch{Title: &title, Status: &status})
		require.NoError(t, err)
		assert.Equal(t, "final", updated.Title)
		assert.Equal(t, TaskInProgress, updated.Status)

		require.Len(t, events, 1)
		assert.Equal(t, "s1", events[0].SessionID)
		assert.Equal(t, []string{"title", "status"}, events[0].Task.Fields)
		assert.Equal(t, "draft", events[0].Task.Before.Title)
		assert.Equal(t, "final", events[0].Task.After.Title)
	})

	t.Run("should keep the tree acyclic", func(t *testing.T) {
		mgr, _ := setupTestTasks(t)
		a, err := mgr.AddTask(ctx, "s1", TaskInput{Title: "a"})
		require.NoError(t, err)
		b, err := mgr.AddTask(ctx, "s1", TaskInput{Title: "b", ParentID: a.ID})
		require.NoError(t, err)
		c, err := mgr.AddTask(ctx, "s1", TaskInput{Title: "c", ParentID: b.ID})
		require.NoError(t, err)

		assert.ErrorIs(t, mgr.MoveTask(ctx, "s1", a.ID, a.ID, -1), ErrInvalidMove)
		assert.ErrorIs(t, mgr.MoveTask(ctx, "s1", a.ID, c.ID, -1), ErrInvalidMove)
		assert.ErrorIs(t, mgr.MoveTask(ctx, "s1", a.ID, "missing", -1), ErrTaskNotFound)

		sess, err := mgr.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, taskIDs(sess.Tasks))
	})

	t.Run("should move a subtree by detaching and reattaching", func(t *testing.T) {
		mgr, _ := setupTestTasks(t)
		a, _ := mgr.AddTask(ctx, "s1", TaskInput{Title: "a"})
		b, _ := mgr.AddTask(ctx, "s1", TaskInput{Title: "b"})
		c, _ := mgr.AddTask(ctx, "s1", TaskInput{Title: "c", ParentID: a.ID})
		d, _ := mgr.AddTask(ctx, "s1", TaskInput{Title: "d", ParentID: c.ID})

		require.NoError(t, mgr.MoveTask(ctx, "s1", c.ID, b.ID, 0))
		require.NoError(t, mgr.MoveTask(ctx, "s1", b.ID, "", 0))

		sess, err := mgr.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID, a.ID}, taskIDs(sess.Tasks))
		assert.Empty(t, sess.Tasks[1].Children)
		moved := sess.Tasks[0].Children[0]
		assert.Equal(t, c.ID, moved.ID)
		assert.Equal(t, b.ID, moved.ParentID)
		assert.Equal(t, []string{d.ID}, taskIDs(moved.Children))
	})

	t.Run("should remove a whole subtree", func(t *testing.T) {
		mgr, _ := setupTestTasks(t)
		a, _ := mgr.AddTask(ctx, "s1", TaskInput{Title: "a"})
		b, _ := mgr.AddTask(ctx, "s1", TaskInput{Title: "b", ParentID: a.ID})

		var removed []Event
		mgr.On(EventTaskRemoved, func(e Event) { removed = append(removed, e) })
		require.NoError(t, mgr.RemoveTask(ctx, "s1", a.ID))
		assert.ErrorIs(t, mgr.RemoveTask(ctx, "s1", b.ID), ErrTaskNotFound)

		sess, err := mgr.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, sess.Tasks)
		require.Len(t, removed, 1)
		assert.Equal(t, a.ID, removed[0].Task.Before.ID)
		assert.Nil(t, removed[0].Task.After)
	})

	t.Run("should defer durable writes on request", func(t *testing.T) {
		mgr, store := setupTestTasks(t)
		base := store.saves.Load()

		_, err := mgr.AddTask(ctx, "s1", TaskInput{Title: "a"}, WithDeferSave())
		require.NoError(t, err)
		_, err = mgr.AddTask(ctx, "s1", TaskInput{Title: "b"}, WithDeferSave())
		require.NoError(t, err)
		assert.Equal(t, base, store.saves.Load())

		require.NoError(t, mgr.SaveSession(ctx, "s1"))
		assert.Equal(t, base+1, store.saves.Load())
		assert.Len(t, storedSession(t, store, "s1").Tasks, 2)
	})
}

func TestManager_AddUsage(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupTestTasks(t)

	require.NoError(t, mgr.AddUsage(ctx, "s1", "claude-3-5-sonnet-20241022", 500_000, 500_000))
	require.NoError(t, mgr.AddUsage(ctx, "s1", "claude-3-5-sonnet-20241022", 500_000, 500_000))
	require.NoError(t, mgr.AddUsage(ctx, "s1", "my-local-model", 1000, 1000))

	sess, err := mgr.GetSession(ctx, "s1")
	require.NoError(t, err)
	usage := sess.Accounting.Models["claude-3-5-sonnet-20241022"]
	require.NotNil(t, usage)
	assert.Equal(t, int64(1_000_000), usage.InputTokens)
	assert.Equal(t, int64(2), usage.Calls)
	assert.InDelta(t, 18.0, usage.Cost, 1e-9)
	assert.Zero(t, sess.Accounting.Models["my-local-model"].Cost)
	assert.InDelta(t, 18.0, sess.Accounting.TotalCost, 1e-9)
}

func TestPriceTable_Lookup(t *testing.T) {
	tests := []struct {
		model string
		input float64
		found bool
	}{
		{"gpt-4o-mini-2024-07-18", 0.15, true},
		{"gpt-4o-2024-08-06", 2.5, true},
		{"anthropic/claude-3-haiku-20240307", 0.25, true},
		{"O3-MINI", 1.1, true},
		{"llama3", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			price, ok := DefaultPrices.Lookup(tt.model)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.input, price.InputPerMillion)
		})
	}
}
