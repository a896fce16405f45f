package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// MainLane is the default shared lane.
const MainLane = "main"

const sessionLanePrefix = "session:"

var (
	// ErrLaneCleared is returned to tasks dropped by ClearLane.
	ErrLaneCleared = errors.New("commandqueue: lane cleared")
	// ErrClosed is returned for tasks enqueued after Close.
	ErrClosed = errors.New("commandqueue: closed")
)

// SessionLane returns the lane that serializes turns of one session.
func SessionLane(sessionID string) string {
	return sessionLanePrefix + sessionID
}

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter logs a warning and calls OnWait when the task is still
	// queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
	once       sync.Once
}

func (r *taskRecord) finish(res taskResult) {
	r.once.Do(func() {
		r.result <- res
		close(r.result)
	})
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	activeIDs   map[string]bool
	// persistent lanes survive going idle; session lanes are dropped
	persistent bool
	mu         sync.Mutex
}

// CommandQueue runs tasks in named lanes. Tasks of one lane run in FIFO
// order up to the lane's concurrency; lanes are independent.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	dedup *dedupCache
}

// New creates a CommandQueue with the main lane.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
	cq.dedup = newDedupCache(ctx, 0)
	cq.lanes[MainLane] = newLaneState(MainLane)

	return cq
}

func newLaneState(name string) *laneState {
	return &laneState{
		concurrency: 1,
		activeIDs:   make(map[string]bool),
		persistent:  !strings.HasPrefix(name, sessionLanePrefix),
	}
}

func (cq *CommandQueue) existing(name string) *laneState {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	return cq.lanes[name]
}

// pruneLane drops an idle session lane so per-session lanes do not
// accumulate.
func (cq *CommandQueue) pruneLane(name string) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[name]
	if !ok || ls.persistent {
		return
	}
	ls.mu.Lock()
	idle := ls.running == 0 && len(ls.queue) == 0
	ls.mu.Unlock()
	if idle {
		delete(cq.lanes, name)
	}
}

// EnqueueWithContext adds a task to the lane and waits for its result. The
// task receives ctx, also cancelled when the queue closes. If ctx ends while
// the task is still queued, the task is abandoned and ctx's error returned.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"localforge.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record, queueSize, err := cq.push(ctx, lane, task, opts)
	if err != nil {
		return nil, err
	}
	taskID := record.id

	logger.Debug().
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	go cq.processLane(lane)

	select {
	case result := <-record.result:
		if result.err != nil {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		}
		return result.value, result.err
	case <-ctx.Done():
		if cq.abandon(lane, record) {
			logger.Debug().Str("taskId", taskID).Msg("Queued task abandoned")
			return nil, ctx.Err()
		}
		// already running; the task sees the same ctx and returns soon
		result := <-record.result
		return result.value, result.err
	}
}

// EnqueueOnce is EnqueueWithContext keyed by requestID: a repeated ID joins
// the in-flight task or, within the dedup TTL, gets the cached result
// without running again. An empty requestID disables deduplication.
func (cq *CommandQueue) EnqueueOnce(ctx context.Context, lane, requestID string, task Task, options *TaskOptions) (interface{}, error) {
	if requestID == "" {
		return cq.EnqueueWithContext(ctx, lane, task, options)
	}

	call, leader := cq.dedup.Join(requestID)
	if !leader {
		log.Debug().Str("lane", lane).Str("requestId", requestID).Msg("Duplicate request joined")
		select {
		case <-call.done:
			return call.result.value, call.result.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	value, err := cq.EnqueueWithContext(ctx, lane, task, options)
	cq.dedup.Complete(requestID, call, taskResult{value: value, err: err})
	return value, err
}

// push appends a record under cq.mu so a lane cannot be pruned between
// lookup and append.
func (cq *CommandQueue) push(ctx context.Context, lane string, task Task, opts TaskOptions) (*taskRecord, int, error) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.closed {
		return nil, 0, ErrClosed
	}
	cq.taskIDSeq++

	ls, ok := cq.lanes[lane]
	if !ok {
		ls = newLaneState(lane)
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Msg("Lane initialized")
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	return record, len(ls.queue), nil
}

// abandon removes a still-queued record. It reports false when the record
// already left the queue.
func (cq *CommandQueue) abandon(lane string, record *taskRecord) bool {
	ls := cq.existing(lane)
	if ls == nil {
		return false
	}
	ls.mu.Lock()
	found := false
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			found = true
			break
		}
	}
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	if found {
		observability.RecordQueueCompletion(lane, 0, false, queueSize)
		record.finish(taskResult{err: context.Canceled})
		cq.pruneLane(lane)
	}
	return found
}

// processLane starts queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.existing(lane)
	if ls == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		ls.running++
		ls.activeIDs[record.id] = true

		logger := tracing.LoggerFromContext(record.ctx, log.Logger)
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"localforge.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	delete(ls.activeIDs, record.id)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.finish(taskResult{value: value, err: err})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	if queueSize > 0 {
		cq.processLane(lane)
		return
	}
	cq.pruneLane(lane)
}

// runTask turns a panicking task into an error so the lane keeps moving.
func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.existing(lane)
		if ls == nil {
			return
		}
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r == record {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-record.result:
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls := cq.existing(lane)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// IsBusy reports whether a lane has a running or queued task.
func (cq *CommandQueue) IsBusy(lane string) bool {
	ls := cq.existing(lane)
	if ls == nil {
		return false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running > 0 || len(ls.queue) > 0
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}

	return stats
}

// ClearLane rejects all queued tasks of a lane with ErrLaneCleared and
// returns how many were dropped. Running tasks continue.
func (cq *CommandQueue) ClearLane(lane string) int {
	ls := cq.existing(lane)
	if ls == nil {
		return 0
	}

	ls.mu.Lock()
	dropped := ls.queue
	ls.queue = nil
	ls.mu.Unlock()

	for _, record := range dropped {
		record.finish(taskResult{err: ErrLaneCleared})
	}
	if len(dropped) > 0 {
		log.Info().Str("lane", lane).Int("dropped", len(dropped)).Msg("Lane queue cleared")
		observability.RecordQueueCompletion(lane, 0, false, 0)
	}
	cq.pruneLane(lane)

	return len(dropped)
}

// WaitForActive waits until no lane has a running task, or timeout passes.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		cq.mu.RLock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if len(ls.activeIDs) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.RUnlock()

		if allDrained {
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close cancels running tasks, rejects queued ones and waits for the
// running ones to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make([]string, 0, len(cq.lanes))
	for name := range cq.lanes {
		lanes = append(lanes, name)
	}
	cq.mu.Unlock()

	cq.cancel()
	for _, name := range lanes {
		if ls := cq.existing(name); ls != nil {
			ls.mu.Lock()
			dropped := ls.queue
			ls.queue = nil
			ls.mu.Unlock()
			for _, record := range dropped {
				record.finish(taskResult{err: ErrClosed})
			}
		}
	}
	cq.wg.Wait()
	cq.dedup.Stop()
	return nil
}
