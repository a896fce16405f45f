package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) *CommandQueue {
	t.Helper()
	cq := New()
	t.Cleanup(func() { _ = cq.Close() })
	return cq
}

// blockingTask returns a task that signals started and waits for release.
func blockingTask(started chan<- struct{}, release <-chan struct{}) Task {
	return func(ctx context.Context) (interface{}, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestCommandQueue_Enqueue(t *testing.T) {
	t.Run("should return the task result", func(t *testing.T) {
		cq := setupTestQueue(t)

		result, err := cq.EnqueueWithContext(context.Background(), MainLane, func(ctx context.Context) (interface{}, error) {
			return "result", nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "result", result)
	})

	t.Run("should return the task error", func(t *testing.T) {
		cq := setupTestQueue(t)
		expectedErr := errors.New("task failed")

		result, err := cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			return nil, expectedErr
		}, nil)

		assert.ErrorIs(t, err, expectedErr)
		assert.Nil(t, result)
	})

	t.Run("should turn a panic into an error", func(t *testing.T) {
		cq := setupTestQueue(t)

		_, err := cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			panic("boom")
		}, nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")

		result, err := cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			return "next", nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "next", result)
	})

	t.Run("should refuse tasks after close", func(t *testing.T) {
		cq := New()
		require.NoError(t, cq.Close())

		_, err := cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestCommandQueue_SessionLaneSerialization(t *testing.T) {
	t.Run("should never overlap tasks of one session", func(t *testing.T) {
		cq := setupTestQueue(t)
		lane := SessionLane("s1")

		var running, maxRunning int32
		var order []int
		var mu sync.Mutex
		var wg sync.WaitGroup

		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := cq.EnqueueWithContext(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
					n := atomic.AddInt32(&running, 1)
					for {
						m := atomic.LoadInt32(&maxRunning)
						if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					atomic.AddInt32(&running, -1)
					return nil, nil
				}, nil)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		assert.Len(t, order, 5)
		assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	})

	t.Run("should run different sessions concurrently", func(t *testing.T) {
		cq := setupTestQueue(t)
		started := make(chan struct{}, 2)
		release := make(chan struct{})

		var wg sync.WaitGroup
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = cq.EnqueueWithContext(context.Background(), SessionLane(id), blockingTask(started, release), nil)
			}(id)
		}

		for i := 0; i < 2; i++ {
			select {
			case <-started:
			case <-time.After(time.Second):
				t.Fatal("sessions did not run concurrently")
			}
		}
		close(release)
		wg.Wait()
	})

	t.Run("should drop idle session lanes", func(t *testing.T) {
		cq := setupTestQueue(t)
		lane := SessionLane("gone")

		_, err := cq.EnqueueWithContext(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, ok := cq.GetStats()[lane]
			return !ok
		}, time.Second, 10*time.Millisecond)
		assert.Contains(t, cq.GetStats(), MainLane)
	})
}

func TestCommandQueue_Abandon(t *testing.T) {
	t.Run("should abandon a queued task when its context ends", func(t *testing.T) {
		cq := setupTestQueue(t)
		lane := SessionLane("s1")
		started := make(chan struct{}, 1)
		release := make(chan struct{})
		defer close(release)

		go func() { _, _ = cq.EnqueueWithContext(context.Background(), lane, blockingTask(started, release), nil) }()
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		var ran atomic.Bool
		_, err := cq.EnqueueWithContext(ctx, lane, func(ctx context.Context) (interface{}, error) {
			ran.Store(true)
			return nil, nil
		}, nil)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, cq.GetQueueSize(lane))
		assert.False(t, ran.Load())
	})

	t.Run("should cancel a running task when its context ends", func(t *testing.T) {
		cq := setupTestQueue(t)
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{}, 1)

		go func() {
			<-started
			cancel()
		}()
		_, err := cq.EnqueueWithContext(ctx, "test", blockingTask(started, nil), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCommandQueue_ClearLane(t *testing.T) {
	t.Run("should reject queued tasks on clear", func(t *testing.T) {
		cq := setupTestQueue(t)
		started := make(chan struct{}, 1)
		release := make(chan struct{})

		go func() { _, _ = cq.EnqueueWithContext(context.Background(), "test", blockingTask(started, release), nil) }()
		<-started

		errs := make(chan error, 3)
		for i := 0; i < 3; i++ {
			go func() {
				_, err := cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
					return nil, nil
				}, nil)
				errs <- err
			}()
		}
		require.Eventually(t, func() bool { return cq.GetQueueSize("test") == 3 }, time.Second, 5*time.Millisecond)

		assert.Equal(t, 3, cq.ClearLane("test"))
		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, <-errs, ErrLaneCleared)
		}
		close(release)
	})

	t.Run("should report nothing dropped for an unknown lane", func(t *testing.T) {
		cq := setupTestQueue(t)
		assert.Equal(t, 0, cq.ClearLane(SessionLane("nobody")))
	})
}

func TestCommandQueue_EnqueueOnce(t *testing.T) {
	t.Run("should run a repeated request once", func(t *testing.T) {
		cq := setupTestQueue(t)
		var runs int32
		task := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&runs, 1)
			return "done", nil
		}

		first, err := cq.EnqueueOnce(context.Background(), SessionLane("s1"), "req-1", task, nil)
		require.NoError(t, err)
		second, err := cq.EnqueueOnce(context.Background(), SessionLane("s1"), "req-1", task, nil)
		require.NoError(t, err)

		assert.Equal(t, "done", first)
		assert.Equal(t, "done", second)
		assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	})

	t.Run("should join an in-flight request", func(t *testing.T) {
		cq := setupTestQueue(t)
		started := make(chan struct{}, 1)
		release := make(chan struct{})

		results := make(chan interface{}, 2)
		go func() {
			v, _ := cq.EnqueueOnce(context.Background(), "test", "req-2", blockingTask(started, release), nil)
			results <- v
		}()
		<-started
		go func() {
			v, _ := cq.EnqueueOnce(context.Background(), "test", "req-2", func(ctx context.Context) (interface{}, error) {
				return "second", nil
			}, nil)
			results <- v
		}()

		time.Sleep(20 * time.Millisecond)
		close(release)
		assert.Equal(t, "released", <-results)
		assert.Equal(t, "released", <-results)
	})

	t.Run("should retry a failed request", func(t *testing.T) {
		cq := setupTestQueue(t)
		var runs int32
		task := func(ctx context.Context) (interface{}, error) {
			if atomic.AddInt32(&runs, 1) == 1 {
				return nil, errors.New("flaky")
			}
			return "ok", nil
		}

		_, err := cq.EnqueueOnce(context.Background(), "test", "req-3", task, nil)
		require.Error(t, err)
		v, err := cq.EnqueueOnce(context.Background(), "test", "req-3", task, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})
}

func TestCommandQueue_Stats(t *testing.T) {
	cq := setupTestQueue(t)

	stats := cq.GetStats()
	assert.Contains(t, stats, MainLane)
	assert.Equal(t, 1, stats[MainLane]["concurrency"])

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	lane := SessionLane("s1")
	go func() { _, _ = cq.EnqueueWithContext(context.Background(), lane, blockingTask(started, release), nil) }()
	<-started
	go func() {
		_, _ = cq.EnqueueWithContext(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize(lane) == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, cq.IsBusy(lane))
	assert.False(t, cq.IsBusy(SessionLane("other")))
	assert.Equal(t, 1, cq.GetStats()[lane]["running"])
	assert.Equal(t, 1, cq.GetStats()[lane]["queued"])

	close(release)
	require.Eventually(t, func() bool { return !cq.IsBusy(lane) }, time.Second, 5*time.Millisecond)
}

func TestCommandQueue_WaitForActive(t *testing.T) {
	t.Run("should return at once when nothing runs", func(t *testing.T) {
		cq := setupTestQueue(t)
		assert.True(t, cq.WaitForActive(10*time.Millisecond))
	})

	t.Run("should time out while a task runs", func(t *testing.T) {
		cq := setupTestQueue(t)
		started := make(chan struct{}, 1)
		release := make(chan struct{})
		defer close(release)

		go func() { _, _ = cq.EnqueueWithContext(context.Background(), "test", blockingTask(started, release), nil) }()
		<-started

		assert.False(t, cq.WaitForActive(50*time.Millisecond))
	})
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := setupTestQueue(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	go func() { _, _ = cq.EnqueueWithContext(context.Background(), "test", blockingTask(started, release), nil) }()
	<-started

	waited := make(chan int, 1)
	go func() {
		_, _ = cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait:    func(_ time.Duration, pos int) { waited <- pos },
		})
	}()

	select {
	case pos := <-waited:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait was not called")
	}
	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
}
