package commandqueue

import (
	"context"
	"sync"
	"time"
)

const defaultDedupTTL = 5 * time.Minute

// dedupCall is one request ID, in flight until done is closed.
type dedupCall struct {
	done     chan struct{}
	result   taskResult
	finished time.Time
}

// dedupCache remembers request IDs for a TTL so retried submissions join
// the first one instead of running twice.
type dedupCache struct {
	calls  map[string]*dedupCall
	ttl    time.Duration
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		calls:  make(map[string]*dedupCall),
		ttl:    ttl,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go cache.cleanup(ctx)

	return cache
}

// Stop ends the cleanup goroutine.
func (dc *dedupCache) Stop() {
	dc.cancel()
	<-dc.done
}

// Join returns the call for requestID. leader is true when the caller
// registered it and must run the task, then call Complete.
func (dc *dedupCache) Join(requestID string) (call *dedupCall, leader bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if c, ok := dc.calls[requestID]; ok && !dc.expired(c, time.Now()) {
		return c, false
	}
	c := &dedupCall{done: make(chan struct{})}
	dc.calls[requestID] = c
	return c, true
}

// Complete publishes the leader's result. Failed calls are forgotten so a
// retry runs again.
func (dc *dedupCache) Complete(requestID string, call *dedupCall, res taskResult) {
	dc.mu.Lock()
	call.result = res
	call.finished = time.Now()
	if res.err != nil && dc.calls[requestID] == call {
		delete(dc.calls, requestID)
	}
	dc.mu.Unlock()

	close(call.done)
}

// expired runs under dc.mu.
func (dc *dedupCache) expired(c *dedupCall, now time.Time) bool {
	return !c.finished.IsZero() && now.Sub(c.finished) > dc.ttl
}

func (dc *dedupCache) cleanup(ctx context.Context) {
	defer close(dc.done)

	interval := dc.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dc.mu.Lock()
			for requestID, c := range dc.calls {
				if dc.expired(c, now) {
					delete(dc.calls, requestID)
				}
			}
			dc.mu.Unlock()
		}
	}
}

// Size returns the number of remembered request IDs.
func (dc *dedupCache) Size() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.calls)
}
