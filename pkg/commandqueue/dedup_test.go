package commandqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache(t *testing.T) {
	t.Run("should stop the cleanup goroutine", func(t *testing.T) {
		cache := newDedupCache(context.Background(), 50*time.Millisecond)
		cache.Stop()

		select {
		case <-cache.done:
		case <-time.After(time.Second):
			t.Fatal("dedup cache cleanup did not stop")
		}
	})

	t.Run("should elect one leader per request id", func(t *testing.T) {
		cache := newDedupCache(context.Background(), time.Minute)
		defer cache.Stop()

		call, leader := cache.Join("r1")
		assert.True(t, leader)
		again, leader := cache.Join("r1")
		assert.False(t, leader)
		assert.Same(t, call, again)

		cache.Complete("r1", call, taskResult{value: 1})
		<-again.done
		assert.Equal(t, 1, again.result.value)
		assert.Equal(t, 1, cache.Size())
	})

	t.Run("should expire finished calls", func(t *testing.T) {
		cache := newDedupCache(context.Background(), 20*time.Millisecond)
		defer cache.Stop()

		call, _ := cache.Join("r1")
		cache.Complete("r1", call, taskResult{})

		assert.Eventually(t, func() bool { return cache.Size() == 0 }, time.Second, 10*time.Millisecond)
	})
}
