package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/confer/internal/observability"
	"github.com/harun/confer/internal/tracing"
)

const tracerName = "confer/commandqueue"

var (
	// ErrClosed is returned for tasks enqueued on or pending in a closed queue
	ErrClosed = errors.New("command queue closed")

	// ErrLaneCleared is returned for tasks dropped by ClearLane
	ErrLaneCleared = errors.New("lane cleared")
)

// Task is a unit of work run inside a lane
type Task func(ctx context.Context) error

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan error
}

// laneState holds the pending tasks of one lane
type laneState struct {
	queue   []*taskRecord
	running bool
}

// CommandQueue serializes tasks per lane
type CommandQueue struct {
	mu        sync.Mutex
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an empty CommandQueue
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds task to lane and blocks until it has run. A task whose
// context is cancelled while it waits is skipped and returns the context error.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.enqueue", attribute.String("lane", lane))
	defer span.End()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return ErrClosed
	}
	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan error, 1),
	}
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	cq.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)

	cq.processLane(lane)

	err := <-record.result
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// processLane starts the next task of a lane when the lane is idle
func (cq *CommandQueue) processLane(lane string) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok || ls.running {
		return
	}

	for len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if err := record.ctx.Err(); err != nil {
			record.result <- err
			continue
		}

		ls.running = true
		cq.wg.Add(1)
		go cq.executeTask(lane, record)
		return
	}

	delete(cq.lanes, lane)
}

// executeTask runs a single task and hands the lane to the next one
func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, tracerName, "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	waited := time.Since(record.enqueuedAt)
	start := time.Now()
	err := cq.run(runCtx, record.task)
	duration := time.Since(start)

	cq.mu.Lock()
	ls := cq.lanes[lane]
	ls.running = false
	queueSize := len(ls.queue)
	cq.mu.Unlock()

	record.result <- err

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("waited", waited).
			Dur("duration", duration).
			Msg("Task completed")
	}
	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	cq.processLane(lane)
}

// run converts a panicking task into an error so the lane keeps moving
func (cq *CommandQueue) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(ctx)
}

// QueueSize returns the number of tasks waiting in a lane
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// Running reports whether a lane has a task executing
func (cq *CommandQueue) Running(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	return ok && ls.running
}

// Stats returns queued and running counts for every active lane
func (cq *CommandQueue) Stats() map[string]map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		running := 0
		if ls.running {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
	}
	return stats
}

// ClearLane drops the tasks waiting in a lane. The running task is not affected.
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return 0
	}

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- ErrLaneCleared
	}
	ls.queue = nil
	if !ls.running {
		delete(cq.lanes, lane)
	}

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	return count
}

// Close rejects waiting tasks, cancels running ones and waits for them to return
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	for _, ls := range cq.lanes {
		for _, record := range ls.queue {
			record.result <- ErrClosed
		}
		ls.queue = nil
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
