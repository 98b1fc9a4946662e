package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/session"
)

func progress(id string, pct int) Event {
	return Event{Type: TypeProgress, SessionID: id, Status: session.StatusProcessing, Percentage: pct}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestHub_CurrentStateFirst(t *testing.T) {
	h := NewHub(4)
	current := progress("s1", 10)
	sub := h.Subscribe("s1", &current)

	require.NoError(t, h.Publish(context.Background(), progress("s1", 20)))
	require.NoError(t, h.Publish(context.Background(), progress("other", 99)))

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, 10, first.Percentage)
	assert.Equal(t, 20, second.Percentage)

	sub.Close()
	sub.Close()
	_, open := <-sub.C()
	assert.False(t, open)
	assert.Zero(t, h.Subscribers("s1"))
}

func TestHub_TerminalClosesSubscription(t *testing.T) {
	h := NewHub(4)
	sub := h.Subscribe("s1", nil)

	h.Publish(context.Background(), progress("s1", 50))
	h.Publish(context.Background(), Event{Type: TypeTerminal, SessionID: "s1", Status: session.StatusCompleted})

	events := drain(sub.C())
	require.Len(t, events, 2)
	assert.True(t, events[1].Terminal())
	assert.Zero(t, h.Subscribers("s1"))
}

func TestHub_TerminalCurrentState(t *testing.T) {
	h := NewHub(4)
	done := Event{Type: TypeTerminal, SessionID: "s1", Status: session.StatusFailed}
	sub := h.Subscribe("s1", &done)

	events := drain(sub.C())
	require.Len(t, events, 1)
	assert.Equal(t, session.StatusFailed, events[0].Status)
	assert.Zero(t, h.Subscribers("s1"))
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := NewHub(2)
	slow := h.Subscribe("s1", nil)
	fast := h.Subscribe("s1", nil)

	got := make(chan int, 10)
	go func() {
		for e := range fast.C() {
			got <- e.Percentage
		}
	}()

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Publish(context.Background(), progress("s1", i)))
		time.Sleep(5 * time.Millisecond)
	}

	events := drain(slow.C())
	assert.Len(t, events, 2)
	assert.Eventually(t, func() bool { return len(got) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Subscribers("s1"))
	fast.Close()
}

func TestFromSession(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := session.New("s1", "u1", session.FileInfo{Name: "a.csv"}, session.DefaultConfiguration(), now)
	e := FromSession(TypeStatus, s, now)
	assert.Equal(t, TypeStatus, e.Type)
	assert.False(t, e.Terminal())

	require.NoError(t, s.Cancel(now))
	e = FromSession(TypeStatus, s, now)
	assert.Equal(t, TypeTerminal, e.Type)
	assert.Equal(t, session.CancelReason, e.Message)
}

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("down") }

func TestMulti(t *testing.T) {
	h := NewHub(4)
	sub := h.Subscribe("s1", nil)
	defer sub.Close()

	err := Multi{h, failing{}, nil}.Publish(context.Background(), progress("s1", 5))
	assert.EqualError(t, err, "down")
	assert.Equal(t, 5, (<-sub.C()).Percentage)

	assert.NoError(t, Logged(Multi{failing{}}, nil).Publish(context.Background(), progress("s1", 6)))
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub := NewRedisPublisher(client, "")
	assert.Equal(t, DefaultChannelPrefix+"s1", pub.Channel("s1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := pub.Subscribe(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, progress("s1", 40)))
	require.NoError(t, pub.Publish(ctx, progress("s2", 41)))
	require.NoError(t, pub.Publish(ctx, Event{Type: TypeTerminal, SessionID: "s1", Status: session.StatusCompleted}))

	events := drain(ch)
	require.Len(t, events, 2)
	assert.Equal(t, 40, events[0].Percentage)
	assert.Equal(t, session.StatusCompleted, events[1].Status)
}

func TestRedisPublisher_PrefixSeparator(t *testing.T) {
	pub := NewRedisPublisher(nil, "imports:progress")
	assert.Equal(t, "imports:progress:abc", pub.Channel("abc"))
}
