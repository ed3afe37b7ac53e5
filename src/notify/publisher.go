// Package notify fans decision events out to channel members.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Publisher delivers one payload to one topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// RedisPublisher uses redis PUBLISH; subscribers SUBSCRIBE to the topic.
type RedisPublisher struct{ rdb *redis.Client }

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher { return &RedisPublisher{rdb: rdb} }

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }

// NATSPublisher publishes on <base>.<topic>.
type NATSPublisher struct {
	nc   *nats.Conn
	base string
}

func NewNATSPublisher(url, base string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("govdecisions"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{nc: nc, base: strings.TrimSuffix(base, ".")}, nil
}

func (p *NATSPublisher) Subject(topic string) string {
	if p.base == "" {
		return topic
	}
	return p.base + "." + topic
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                    { return nil }

// Memory keeps published payloads per topic. Useful for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	messages map[string][][]byte
	fail     func(topic string) error
}

func NewMemory() *Memory { return &Memory{messages: map[string][][]byte{}} }

// FailWith makes Publish return fn(topic) when it is non-nil.
func (m *Memory) FailWith(fn func(topic string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		if err := m.fail(topic); err != nil {
			return err
		}
	}
	m.messages[topic] = append(m.messages[topic], append([]byte(nil), payload...))
	return nil
}

func (m *Memory) Messages(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[topic]
}

func (m *Memory) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.messages))
	for t := range m.messages {
		out = append(out, t)
	}
	return out
}

func (m *Memory) Close() error { return nil }
