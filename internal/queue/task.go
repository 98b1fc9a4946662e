// Package queue runs import stages as background tasks. Three backends share
// one retry policy: an in-process worker pool, a redis list consumed with
// BLPOP, and an inline runner that drains tasks synchronously.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Task asks a worker to run one stage of one session.
type Task struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Stage      string    `json:"stage"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask creates a first-attempt task.
func NewTask(sessionID, stage string) Task {
	return Task{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Stage:      stage,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Handler runs a task.
type Handler func(ctx context.Context, t Task) error

// Queue accepts tasks and hands them to a handler.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Start begins consuming. It returns immediately for background queues.
	Start(ctx context.Context, h Handler) error
	// Stop stops consuming and waits for running tasks until ctx expires.
	Stop(ctx context.Context) error
}

// Options configure retries and workers for every backend.
type Options struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration

	// OnGiveUp is called when a task fails with a permanent error or runs
	// out of retries.
	OnGiveUp func(ctx context.Context, t Task, err error)

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// process runs h and applies the retry policy. requeue schedules the next attempt.
func (o Options) process(ctx context.Context, h Handler, t Task, requeue func(context.Context, Task) error) {
	log := o.Logger.With("task_id", t.ID, "session_id", t.SessionID, "stage", t.Stage, "attempt", t.Attempt)

	err := h(ctx, t)
	if err == nil {
		return
	}

	if IsTransient(err) && t.Attempt < o.MaxRetries {
		next := t
		next.Attempt++
		log.Warn("task failed, retrying", "error", err, "delay", o.RetryDelay)

		if o.RetryDelay > 0 {
			timer := time.NewTimer(o.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				err = ctx.Err()
			}
		}
		if ctx.Err() == nil {
			rqErr := requeue(ctx, next)
			if rqErr == nil {
				return
			}
			err = rqErr
		}
	}

	log.Error("background task failed", "error", err)
	if o.OnGiveUp != nil {
		o.OnGiveUp(context.WithoutCancel(ctx), t, err)
	}
}
