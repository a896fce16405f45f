// Package commandqueue runs tasks in named lanes with FIFO ordering per lane.
//
// Each session gets its own lane (SessionLane), so two turns of the same
// session never overlap while different sessions proceed concurrently.
// Idle session lanes are dropped; the main lane and lanes with an explicit
// concurrency persist.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.EnqueueWithContext(ctx, commandqueue.SessionLane("abc"), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
