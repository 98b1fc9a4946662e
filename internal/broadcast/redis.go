package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix prefixes the per-session pub/sub channel.
const DefaultChannelPrefix = "catalogimport:progress:"

// RedisPublisher publishes events on a redis channel per session so other
// service instances and external consumers can follow an import.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher creates a publisher using prefix + session id as channel.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel name for sessionID.
func (p *RedisPublisher) Channel(sessionID string) string {
	return p.prefix + sessionID
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(e.SessionID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe follows sessionID's channel until ctx is done or a terminal
// event arrives. The returned channel is closed when it stops.
func (p *RedisPublisher) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	ps := p.client.Subscribe(ctx, p.Channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.Channel(sessionID), err)
	}

	out := make(chan Event, DefaultBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if e.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}
