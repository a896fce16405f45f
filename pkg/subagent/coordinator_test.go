package subagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rockbite/localforge/pkg/coretools"
	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunSubAgent(ctx context.Context, req coretools.SubAgentRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (b *blockingRunner) RunSubAgent(ctx context.Context, req coretools.SubAgentRequest) (string, error) {
	b.started <- req.SessionID
	select {
	case <-b.release:
		return "ok", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func setupTestCoordinator(t *testing.T, runner Runner, maxConcurrent int) *Coordinator {
	t.Helper()
	logger := zerolog.Nop()
	c, err := NewCoordinator(Config{
		Runner:        runner,
		MaxConcurrent: maxConcurrent,
		Logger:        &logger,
	})
	require.NoError(t, err)
	return c
}

func request(parent, child string) coretools.SubAgentRequest {
	return coretools.SubAgentRequest{
		ParentSessionID: parent,
		SessionID:       child,
		Prompt:          "find the config loader",
		Model:           "test-model",
	}
}

// childRun finds the run that produced child under parent.
func childRun(c *Coordinator, parent, child string) (RunRecord, bool) {
	for _, record := range c.ListDescendants(parent) {
		if record.ChildSessionID == child {
			return record, true
		}
	}
	return RunRecord{}, false
}

func TestNewCoordinator(t *testing.T) {
	t.Run("should require a runner", func(t *testing.T) {
		_, err := NewCoordinator(Config{})
		assert.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		c := setupTestCoordinator(t, &mockRunner{}, 0)
		assert.Equal(t, defaultMaxConcurrent, c.maxConcurrent)
		assert.Equal(t, defaultRetention, c.retention)
	})
}

func TestRunSubAgent(t *testing.T) {
	t.Run("should record a completed run", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("RunSubAgent", mock.Anything, request("parent", "child")).Return("it is in config.go", nil)
		c := setupTestCoordinator(t, runner, 2)

		text, err := c.RunSubAgent(context.Background(), request("parent", "child"))
		require.NoError(t, err)
		assert.Equal(t, "it is in config.go", text)
		runner.AssertExpectations(t)

		record, ok := childRun(c, "parent", "child")
		require.True(t, ok)
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, StatusCompleted, record.Status)
		assert.Equal(t, "parent", record.ParentSessionID)
		assert.Equal(t, "it is in config.go", record.Result)
		assert.Equal(t, "test-model", record.Model)
		require.NotNil(t, record.CompletedAt)
		assert.GreaterOrEqual(t, record.Duration(), time.Duration(0))
	})

	t.Run("should record failures and aborts", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("RunSubAgent", mock.Anything, request("parent", "fails")).Return("", errors.New("provider down"))
		runner.On("RunSubAgent", mock.Anything, request("parent", "aborts")).
			Return("", fmt.Errorf("agent: run aborted: %w", llm.ErrCancelled))
		c := setupTestCoordinator(t, runner, 2)

		_, err := c.RunSubAgent(context.Background(), request("parent", "fails"))
		assert.EqualError(t, err, "provider down")
		_, err = c.RunSubAgent(context.Background(), request("parent", "aborts"))
		assert.ErrorIs(t, err, llm.ErrCancelled)

		failed, _ := childRun(c, "parent", "fails")
		assert.Equal(t, StatusFailed, failed.Status)
		assert.Equal(t, "provider down", failed.Error)
		aborted, _ := childRun(c, "parent", "aborts")
		assert.Equal(t, StatusAborted, aborted.Status)

		assert.Equal(t, Stats{TotalRuns: 2, FailedRuns: 1, AbortedRuns: 1}, c.GetStats())
	})

	t.Run("should bound concurrent runs per parent", func(t *testing.T) {
		runner := &blockingRunner{started: make(chan string, 4), release: make(chan struct{})}
		c := setupTestCoordinator(t, runner, 1)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RunSubAgent(context.Background(), request("parent", "first"))
			assert.NoError(t, err)
		}()
		<-runner.started

		_, err := c.RunSubAgent(context.Background(), request("parent", "second"))
		assert.ErrorIs(t, err, ErrTooManyRuns)
		assert.Equal(t, 1, c.GetStats().ActiveRuns)

		// other parents are not affected
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RunSubAgent(context.Background(), request("other", "third"))
			assert.NoError(t, err)
		}()
		<-runner.started

		close(runner.release)
		wg.Wait()
		assert.Equal(t, 0, c.GetStats().ActiveRuns)
		assert.Equal(t, 2, c.GetStats().CompletedRuns)
	})

	t.Run("should truncate long results", func(t *testing.T) {
		long := make([]rune, resultPreview+10)
		for i := range long {
			long[i] = 'x'
		}
		runner := &mockRunner{}
		runner.On("RunSubAgent", mock.Anything, mock.Anything).Return(string(long), nil)
		c := setupTestCoordinator(t, runner, 1)

		text, err := c.RunSubAgent(context.Background(), request("parent", "child"))
		require.NoError(t, err)
		assert.Len(t, text, resultPreview+10)

		record, _ := childRun(c, "parent", "child")
		assert.Len(t, []rune(record.Result), resultPreview+3)
	})
}

func TestHierarchy(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunSubAgent", mock.Anything, mock.Anything).Return("ok", nil)
	c := setupTestCoordinator(t, runner, 2)

	for _, pair := range [][2]string{{"root", "a"}, {"root", "b"}, {"a", "a1"}, {"a1", "a2"}} {
		_, err := c.RunSubAgent(context.Background(), request(pair[0], pair[1]))
		require.NoError(t, err)
	}

	t.Run("should list all descendants", func(t *testing.T) {
		assert.Len(t, c.ListDescendants("root"), 4)
		assert.Len(t, c.ListDescendants("a"), 2)
		assert.Empty(t, c.ListDescendants("b"))
	})

	t.Run("should order descendants oldest first", func(t *testing.T) {
		descendants := c.ListDescendants("root")
		for i := 1; i < len(descendants); i++ {
			assert.False(t, descendants[i].StartedAt.Before(descendants[i-1].StartedAt))
		}
	})
}

func TestCleanup(t *testing.T) {
	t.Run("should drop finished runs past retention", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("RunSubAgent", mock.Anything, mock.Anything).Return("ok", nil)
		c := setupTestCoordinator(t, runner, 1)

		now := time.Now()
		c.now = func() time.Time { return now.Add(-48 * time.Hour) }
		_, err := c.RunSubAgent(context.Background(), request("parent", "old"))
		require.NoError(t, err)

		c.now = func() time.Time { return now }
		_, err = c.RunSubAgent(context.Background(), request("parent", "new"))
		require.NoError(t, err)

		assert.Equal(t, 1, c.Cleanup())
		_, ok := childRun(c, "parent", "old")
		assert.False(t, ok)
		_, ok = childRun(c, "parent", "new")
		assert.True(t, ok)
	})
}
