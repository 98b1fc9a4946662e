package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestSession(id string) *Session {
	return New(id, "user-1", FileInfo{Name: "catalog.csv", Type: "csv"}, DefaultConfiguration(), t0)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitializing, StatusAnalyzingFile, true},
		{StatusAnalyzingFile, StatusAwaitingMapping, true},
		{StatusAnalyzingFile, StatusDryRun, true},
		{StatusAwaitingMapping, StatusDryRun, true},
		{StatusDryRun, StatusProcessing, true},
		{StatusProcessing, StatusFinalizing, true},
		{StatusFinalizing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusAwaitingMapping, StatusCancelled, true},

		{StatusInitializing, StatusProcessing, false},
		{StatusDryRun, StatusAwaitingMapping, false},
		{StatusProcessing, StatusDryRun, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCancelled, false},
		{StatusCancelled, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_SetsTimestamps(t *testing.T) {
	s := newTestSession("s1")

	require.NoError(t, s.Transition(StatusAnalyzingFile, t0.Add(time.Second)))
	require.NotNil(t, s.StartedAt)

	require.NoError(t, s.Transition(StatusDryRun, t0.Add(2*time.Second)))
	require.NoError(t, s.Transition(StatusProcessing, t0.Add(3*time.Second)))
	require.NotNil(t, s.ProcessingStartedAt)

	require.NoError(t, s.Transition(StatusFinalizing, t0.Add(4*time.Second)))
	require.NoError(t, s.Transition(StatusCompleted, t0.Add(5*time.Second)))
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, 100, s.ProgressPercentage)
}

func TestTransition_InvalidIsRejected(t *testing.T) {
	s := newTestSession("s1")

	err := s.Transition(StatusProcessing, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusInitializing, s.Status)
}

func TestTerminalSessionRejectsMutation(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			s := newTestSession("s1")
			s.TotalRows = 10
			s.Status = terminal

			assert.ErrorIs(t, s.ApplyCounts(Counts{Processed: 1, Successful: 1}), ErrTerminal)
			assert.ErrorIs(t, s.SetProgress(50, "processing", "chunk 1"), ErrTerminal)
			assert.ErrorIs(t, s.Transition(StatusFailed, t0), ErrTerminal)
			assert.ErrorIs(t, s.Cancel(t0), ErrTerminal)
			assert.Zero(t, s.Counts.Processed)
		})
	}
}

func TestApplyCounts_NeverExceedsTotal(t *testing.T) {
	s := newTestSession("s1")
	s.Status = StatusProcessing
	s.TotalRows = 5

	require.NoError(t, s.ApplyCounts(Counts{Processed: 3, Successful: 2, Skipped: 1}))
	err := s.ApplyCounts(Counts{Processed: 3, Failed: 3})

	assert.ErrorIs(t, err, ErrRowOverflow)
	assert.Equal(t, 3, s.Counts.Processed)
	assert.LessOrEqual(t, s.Counts.Processed, s.TotalRows)
}

func TestApplyCounts_RejectsUnbalancedDelta(t *testing.T) {
	s := newTestSession("s1")
	s.Status = StatusProcessing
	s.TotalRows = 5

	assert.Error(t, s.ApplyCounts(Counts{Processed: 2, Successful: 1}))
}

func TestFail_PreservesCounters(t *testing.T) {
	s := newTestSession("s1")
	s.Status = StatusProcessing
	s.TotalRows = 100
	require.NoError(t, s.ApplyCounts(Counts{Processed: 40, Successful: 38, Failed: 2}))

	require.NoError(t, s.Fail("catalog database unavailable", "stack", t0))

	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, 40, s.Counts.Processed)
	assert.Equal(t, "catalog database unavailable", s.FailureReason)
	require.NotEmpty(t, s.Errors)
	assert.Equal(t, "catalog database unavailable", s.Errors[len(s.Errors)-1].Text)
}

func TestCancel_RecordsReason(t *testing.T) {
	s := newTestSession("s1")
	s.Status = StatusProcessing

	require.NoError(t, s.Cancel(t0))
	assert.Equal(t, StatusCancelled, s.Status)
	assert.Equal(t, CancelReason, s.FailureReason)
}

func TestAwaitingUser(t *testing.T) {
	s := newTestSession("s1")
	for _, st := range WorkerOwned() {
		s.Status = st
		assert.False(t, s.AwaitingUser(), st)
	}
	assert.NotContains(t, WorkerOwned(), StatusAwaitingMapping)

	s.Status = StatusAwaitingMapping
	assert.True(t, s.AwaitingUser())

	s.Status = StatusDryRun
	s.DryRunResults = &DryRunResults{QualityScore: 40, Threshold: 80}
	assert.True(t, s.AwaitingUser())

	s.Status = StatusCompleted
	assert.False(t, s.AwaitingUser())
}

func TestNewRetry(t *testing.T) {
	s := newTestSession("s1")

	_, err := s.NewRetry("s2", t0)
	assert.ErrorIs(t, err, ErrNotRetryable)

	s.Status = StatusFailed
	s.Counts = Counts{Processed: 4, Failed: 4}
	retry, err := s.NewRetry("s2", t0)
	require.NoError(t, err)

	assert.Equal(t, "s2", retry.ID)
	assert.Equal(t, "s1", retry.RetryOf)
	assert.Equal(t, StatusInitializing, retry.Status)
	assert.Equal(t, s.Configuration, retry.Configuration)
	assert.Zero(t, retry.Counts.Processed)
	assert.Equal(t, StatusFailed, s.Status)
}

func TestAddError_RespectsLimit(t *testing.T) {
	s := newTestSession("s1")
	for i := 0; i < 5; i++ {
		s.AddError(Message{At: t0, Row: i + 1, Text: "bad row"}, 3)
	}
	assert.Len(t, s.Errors, 3)
	assert.Equal(t, 2, s.DroppedMessages)
}

func TestRowsPerSecond(t *testing.T) {
	s := newTestSession("s1")
	start := t0
	end := t0.Add(10 * time.Second)
	s.ProcessingStartedAt = &start
	s.CompletedAt = &end
	s.Counts.Processed = 50

	assert.InDelta(t, 5.0, s.RowsPerSecond(end.Add(time.Hour)), 0.0001)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestSession("s1")))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	got.Status = StatusFailed

	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusInitializing, again.Status)
}

func TestMemoryStore_NotFound(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentUpdatesDoNotLoseCounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := newTestSession("s1")
	s.Status = StatusProcessing
	s.TotalRows = 1000
	require.NoError(t, store.Create(ctx, s))

	var wg sync.WaitGroup
	var failures int
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := store.Update(ctx, "s1", func(s *Session) error {
					return s.ApplyCounts(Counts{Processed: 1, Successful: 1})
				})
				if err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	// Every update either landed or reported ErrConflict; none were silently lost.
	assert.Equal(t, 100-failures, got.Counts.Processed)
	assert.Equal(t, int64(1+100-failures), got.Version)
}

func TestMemoryStore_UpdateErrorDoesNotSave(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestSession("s1")))

	boom := errors.New("boom")
	_, err := store.Update(ctx, "s1", func(s *Session) error {
		s.CurrentOperation = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, "changed", got.CurrentOperation)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newTestSession("a")
	b := newTestSession("b")
	b.CreatedAt = t0.Add(time.Minute)
	b.Status = StatusFailed
	c := newTestSession("c")
	c.UserID = "user-2"
	for _, s := range []*Session{a, b, c} {
		require.NoError(t, store.Create(ctx, s))
	}

	failed, err := store.List(ctx, Filter{Statuses: []Status{StatusFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)

	mine, err := store.List(ctx, Filter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "b", mine[0].ID, "newest first")
}

func TestConfiguration_Validate(t *testing.T) {
	score := 120.0
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr string
	}{
		{"defaults", func(*Configuration) {}, ""},
		{"unknown mode", func(c *Configuration) { c.ImportMode = "replace_all" }, "import_mode must be one of"},
		{"missing mode", func(c *Configuration) { c.ImportMode = "" }, "import_mode is required"},
		{"chunk too small", func(c *Configuration) { c.ChunkSize = 5 }, "chunk_size must be at least 10"},
		{"chunk too large", func(c *Configuration) { c.ChunkSize = 5000 }, "chunk_size must be at most 1000"},
		{"minutes zero", func(c *Configuration) { c.MaxProcessingMinutes = 0 }, "max_processing_minutes"},
		{"score out of range", func(c *Configuration) { c.AutoAdvanceScore = &score }, "auto_advance_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfiguration()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
