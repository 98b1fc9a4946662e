package queue

import (
	"context"
	"sync"
)

// Inline runs tasks synchronously: Enqueue returns after the task and every
// task it enqueued have run. It serves non-background imports and the CLI.
type Inline struct {
	opts Options

	mu       sync.Mutex
	handler  Handler
	pending  []Task
	draining bool
}

// NewInline creates an inline runner.
func NewInline(opts Options) *Inline {
	opts = opts.withDefaults()
	opts.Workers = 1
	return &Inline{opts: opts}
}

// Start sets the handler.
func (q *Inline) Start(_ context.Context, h Handler) error {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
	return nil
}

// Enqueue runs t and its follow-up tasks before returning. A task enqueued
// from inside a handler is queued and run after the current one.
func (q *Inline) Enqueue(ctx context.Context, t Task) error {
	q.mu.Lock()
	q.pending = append(q.pending, t)
	if q.draining || q.handler == nil {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	h := q.handler
	q.mu.Unlock()

	q.drain(ctx, h)
	return nil
}

func (q *Inline) drain(ctx context.Context, h Handler) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.opts.process(ctx, h, t, q.push)
	}
}

func (q *Inline) push(_ context.Context, t Task) error {
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	return nil
}

// Stop is a no-op; Inline never runs in the background.
func (q *Inline) Stop(context.Context) error {
	return nil
}
