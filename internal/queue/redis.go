package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the redis list holding pending tasks.
const DefaultKey = "catalogimport:tasks"

// RedisQueue stores tasks in a redis list. Producers RPUSH, workers BLPOP,
// so several service instances can share the work.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	opts   Options

	// PollTimeout bounds each BLPOP so workers notice Stop.
	PollTimeout time.Duration

	mu      sync.Mutex
	stopDis context.CancelFunc
	stopRun context.CancelFunc
	workers sync.WaitGroup
}

// NewRedisQueue creates a queue on key.
func NewRedisQueue(client redis.UniversalClient, key string, opts Options) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{
		client:      client,
		key:         key,
		opts:        opts.withDefaults(),
		PollTimeout: time.Second,
	}
}

// Enqueue appends a task to the list.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Start launches opts.Workers consumers.
func (q *RedisQueue) Start(ctx context.Context, h Handler) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis queue: %w", err)
	}

	disCtx, stopDis := context.WithCancel(ctx)
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))

	q.mu.Lock()
	q.stopDis, q.stopRun = stopDis, stopRun
	q.mu.Unlock()

	q.opts.Logger.Info("task workers started", "queue", q.key, "workers", q.opts.Workers)
	for i := 0; i < q.opts.Workers; i++ {
		q.workers.Add(1)
		go q.work(disCtx, runCtx, h)
	}
	return nil
}

func (q *RedisQueue) work(disCtx, runCtx context.Context, h Handler) {
	defer q.workers.Done()
	for {
		if disCtx.Err() != nil {
			return
		}

		res, err := q.client.BLPop(disCtx, q.PollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if disCtx.Err() != nil {
				return
			}
			q.opts.Logger.Error("redis BLPOP failed", "queue", q.key, "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if len(res) < 2 {
			continue
		}

		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			q.opts.Logger.Error("discarding malformed task", "queue", q.key, "error", err)
			continue
		}
		q.opts.process(runCtx, h, t, q.Enqueue)
	}
}

// Stop stops the consumers and waits for running tasks. Tasks still running
// when ctx expires are cancelled.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	stopDis, stopRun := q.stopDis, q.stopRun
	q.mu.Unlock()
	if stopDis == nil {
		return nil
	}
	stopDis()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		stopRun()
		return nil
	case <-ctx.Done():
		stopRun()
		<-done
		return ctx.Err()
	}
}

// Len returns the number of pending tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
