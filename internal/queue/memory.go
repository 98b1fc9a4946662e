package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Enqueue after Stop.
var ErrClosed = errors.New("queue is closed")

// MemoryQueue is an in-process worker pool. Pending tasks are lost when the
// process exits; the stale-session sweeper fails their sessions later.
//
// Callers outside the pool wait for buffer space. Tasks enqueued by a running
// task (follow-up stages and retries) are always accepted, so a full buffer
// can never block the only free worker.
type MemoryQueue struct {
	opts    Options
	buffer  int
	limiter *Limiter
	ready   chan struct{}

	mu      sync.Mutex
	pending []Task
	space   chan struct{}
	closed  bool
	stopDis context.CancelFunc
	stopRun context.CancelFunc
	done    chan struct{}
	running sync.WaitGroup
}

type workerKey struct{}

// NewMemoryQueue creates a queue holding up to buffer pending tasks from
// outside callers and running at most opts.Workers tasks at once.
func NewMemoryQueue(buffer int, opts Options) *MemoryQueue {
	opts = opts.withDefaults()
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{
		opts:    opts,
		buffer:  buffer,
		limiter: NewLimiter(opts.Workers, time.Second),
		ready:   make(chan struct{}, 1),
		space:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue adds a task. Outside the pool it waits for buffer space until ctx
// is done.
func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	fromWorker := ctx.Value(workerKey{}) != nil
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if fromWorker || len(q.pending) < q.buffer {
			q.pending = append(q.pending, t)
			q.mu.Unlock()
			q.wake()
			return nil
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *MemoryQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next pops the oldest pending task and releases writers waiting for space.
func (q *MemoryQueue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Task{}, false
	}
	t := q.pending[0]
	q.pending[0] = Task{}
	q.pending = q.pending[1:]
	close(q.space)
	q.space = make(chan struct{})
	return t, true
}

// Start launches the dispatcher.
func (q *MemoryQueue) Start(ctx context.Context, h Handler) error {
	disCtx, stopDis := context.WithCancel(ctx)
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = context.WithValue(runCtx, workerKey{}, true)

	q.mu.Lock()
	q.stopDis, q.stopRun = stopDis, stopRun
	q.mu.Unlock()

	go q.dispatch(disCtx, runCtx, h)
	return nil
}

func (q *MemoryQueue) dispatch(disCtx, runCtx context.Context, h Handler) {
	defer close(q.done)
	for {
		t, ok := q.next()
		if !ok {
			select {
			case <-disCtx.Done():
				return
			case <-q.ready:
				continue
			}
		}
		if !q.acquire(disCtx) {
			q.opts.Logger.Warn("task dropped at shutdown", "task_id", t.ID, "session_id", t.SessionID, "stage", t.Stage)
			return
		}
		q.running.Add(1)
		go func(t Task) {
			defer q.running.Done()
			defer q.limiter.Release()
			q.opts.process(runCtx, h, t, q.Enqueue)
		}(t)
	}
}

// acquire blocks until a worker slot is free or ctx is done.
func (q *MemoryQueue) acquire(ctx context.Context) bool {
	for {
		err := q.limiter.Acquire(ctx)
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrSaturated) {
			return false
		}
	}
}

// Stop stops dispatching and waits for running tasks. Tasks still running
// when ctx expires are cancelled.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	stopDis, stopRun := q.stopDis, q.stopRun
	q.mu.Unlock()

	if stopDis == nil {
		return nil
	}
	stopDis()
	<-q.done

	err := q.limiter.WaitForDrain(ctx)
	stopRun()
	q.running.Wait()
	return err
}

// Len returns the number of pending tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Status reports worker slot usage.
func (q *MemoryQueue) Status() LimiterStatus {
	return q.limiter.Status()
}
