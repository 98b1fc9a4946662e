package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_PostsEvent(t *testing.T) {
	var got Event
	var eventType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventType = r.Header.Get("X-Event-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := NewEvent(EventCompleted, "s1", time.Now().UTC())
	e.Successful = 3
	require.NoError(t, NewWebhook(srv.URL, time.Second).Notify(context.Background(), e))

	assert.Equal(t, EventCompleted, eventType)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 3, got.Successful)
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), NewEvent(EventFailed, "s1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhook_ClientErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), NewEvent(EventFailed, "s1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestSearchIndex_Refresh(t *testing.T) {
	var body refreshRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reindex", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	idx := NewSearchIndex(srv.URL+"/reindex/", time.Second)
	require.NoError(t, idx.Refresh(context.Background(), NewEvent(EventCompleted, "s9", time.Now())))
	assert.Equal(t, "s9", body.ImportID)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_KeyedBySession(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "catalog.imports"}

	require.NoError(t, k.Notify(context.Background(), NewEvent(EventCreated, "s1", time.Now())))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "s1", string(w.msgs[0].Key))
	assert.Equal(t, EventCreated, string(w.msgs[0].Headers[0].Value))

	var e Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &e))
	assert.Equal(t, EventCreated, e.Type)

	w.err = errors.New("broker down")
	assert.ErrorContains(t, k.Notify(context.Background(), NewEvent(EventFailed, "s1", time.Now())), "broker down")

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingNotifier) Refresh(ctx context.Context, e Event) error {
	return r.Notify(ctx, e)
}

func TestDispatcher(t *testing.T) {
	ok := &recordingNotifier{}
	broken := &recordingNotifier{err: errors.New("nope")}
	idx := &recordingNotifier{}
	d := NewDispatcher([]Notifier{ok, broken}, idx, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, NewEvent(EventCreated, "s1", time.Now()))
	d.Dispatch(ctx, NewEvent(EventCompleted, "s1", time.Now()))
	cancel()

	require.NoError(t, d.Wait(context.Background()))
	assert.Len(t, ok.events, 2)
	assert.Len(t, broken.events, 2)
	require.Len(t, idx.events, 1)
	assert.Equal(t, EventCompleted, idx.events[0].Type)

	var nilDispatcher *Dispatcher
	nilDispatcher.Dispatch(ctx, NewEvent(EventCreated, "s1", time.Now()))
	assert.NoError(t, nilDispatcher.Close(context.Background()))
}
