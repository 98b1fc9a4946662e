package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	stages []string
	gaveUp []error
}

func (r *recorder) add(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}

func (r *recorder) giveUp(_ context.Context, _ Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaveUp = append(r.gaveUp, err)
}

func TestTransient(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient(base)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsTransient(base))
	assert.Nil(t, Transient(nil))
}

func TestInline_RunsChainBeforeReturning(t *testing.T) {
	rec := &recorder{}
	q := NewInline(Options{})

	var h Handler
	h = func(ctx context.Context, task Task) error {
		rec.add(task.Stage)
		switch task.Stage {
		case "analyze":
			return q.Enqueue(ctx, NewTask(task.SessionID, "process"))
		case "process":
			return q.Enqueue(ctx, NewTask(task.SessionID, "finalize"))
		}
		return nil
	}
	require.NoError(t, q.Start(context.Background(), h))
	require.NoError(t, q.Enqueue(context.Background(), NewTask("s1", "analyze")))

	assert.Equal(t, []string{"analyze", "process", "finalize"}, rec.snapshot())
}

func TestInline_RetriesTransientErrors(t *testing.T) {
	rec := &recorder{}
	q := NewInline(Options{MaxRetries: 2, OnGiveUp: rec.giveUp})

	var calls int
	require.NoError(t, q.Start(context.Background(), func(context.Context, Task) error {
		calls++
		return Transient(errors.New("db unavailable"))
	}))
	require.NoError(t, q.Enqueue(context.Background(), NewTask("s1", "process")))

	assert.Equal(t, 3, calls)
	require.Len(t, rec.gaveUp, 1)
	assert.Contains(t, rec.gaveUp[0].Error(), "db unavailable")
}

func TestInline_PermanentErrorIsNotRetried(t *testing.T) {
	rec := &recorder{}
	q := NewInline(Options{MaxRetries: 5, OnGiveUp: rec.giveUp})

	var calls int
	require.NoError(t, q.Start(context.Background(), func(context.Context, Task) error {
		calls++
		return errors.New("bad file")
	}))
	require.NoError(t, q.Enqueue(context.Background(), NewTask("s1", "analyze")))

	assert.Equal(t, 1, calls)
	assert.Len(t, rec.gaveUp, 1)
}

func TestMemoryQueue_ProcessesAndStops(t *testing.T) {
	rec := &recorder{}
	q := NewMemoryQueue(16, Options{Workers: 2})

	var inFlight, maxInFlight int32
	require.NoError(t, q.Start(context.Background(), func(_ context.Context, task Task) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		rec.add(task.SessionID)
		return nil
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Enqueue(context.Background(), NewTask(string(rune('a'+i)), "analyze")))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
	assert.ErrorIs(t, q.Enqueue(context.Background(), NewTask("z", "analyze")), ErrClosed)
}

func TestMemoryQueue_FollowUpWithFullBuffer(t *testing.T) {
	rec := &recorder{}
	q := NewMemoryQueue(1, Options{Workers: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, task Task) error {
		rec.add(task.SessionID + ":" + task.Stage)
		if task.SessionID == "a" && task.Stage == "analyze" {
			close(started)
			<-release
			return q.Enqueue(ctx, NewTask("a", "process"))
		}
		return nil
	}))

	require.NoError(t, q.Enqueue(context.Background(), NewTask("a", "analyze")))
	<-started

	// b waits in the dispatcher for the worker slot, c fills the buffer.
	require.NoError(t, q.Enqueue(context.Background(), NewTask("b", "analyze")))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), NewTask("c", "analyze")))
	close(release)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a:analyze", "b:analyze", "c:analyze", "a:process"}, rec.snapshot())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
}

func TestMemoryQueue_OutsideCallerWaitsForSpace(t *testing.T) {
	q := NewMemoryQueue(1, Options{Workers: 1})
	require.NoError(t, q.Enqueue(context.Background(), NewTask("a", "analyze")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, NewTask("b", "analyze")), context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestMemoryQueue_RetryThenGiveUp(t *testing.T) {
	rec := &recorder{}
	q := NewMemoryQueue(4, Options{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond, OnGiveUp: rec.giveUp})

	var calls int32
	require.NoError(t, q.Start(context.Background(), func(context.Context, Task) error {
		atomic.AddInt32(&calls, 1)
		return Transient(errors.New("timeout"))
	}))
	require.NoError(t, q.Enqueue(context.Background(), NewTask("s1", "process")))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.gaveUp) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	require.NoError(t, q.Stop(context.Background()))
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisQueue_EnqueueAndConsume(t *testing.T) {
	client := newRedis(t)
	q := NewRedisQueue(client, "test:tasks", Options{Workers: 2})
	q.PollTimeout = 50 * time.Millisecond

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewTask("s1", "analyze")))
	require.NoError(t, q.Enqueue(ctx, NewTask("s2", "analyze")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rec := &recorder{}
	require.NoError(t, q.Start(ctx, func(_ context.Context, task Task) error {
		rec.add(task.SessionID + ":" + task.Stage)
		return nil
	}))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"s1:analyze", "s2:analyze"}, rec.snapshot())

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisQueue_RetryKeepsAttemptCount(t *testing.T) {
	client := newRedis(t)
	rec := &recorder{}
	q := NewRedisQueue(client, "", Options{Workers: 1, MaxRetries: 2, OnGiveUp: rec.giveUp})
	q.PollTimeout = 50 * time.Millisecond

	var mu sync.Mutex
	var attempts []int
	ctx := context.Background()
	require.NoError(t, q.Start(ctx, func(_ context.Context, task Task) error {
		mu.Lock()
		attempts = append(attempts, task.Attempt)
		mu.Unlock()
		return Transient(errors.New("busy"))
	}))
	require.NoError(t, q.Enqueue(ctx, NewTask("s1", "process")))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.gaveUp) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2}, attempts)
	mu.Unlock()
	require.NoError(t, q.Stop(ctx))
}

func TestRedisQueue_StartFailsWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	q := NewRedisQueue(client, "", Options{})
	assert.Error(t, q.Start(context.Background(), func(context.Context, Task) error { return nil }))
}
