// Package events is the directory's fan-out feed: every pool scan,
// session verification and legacy sync lands here for downstream
// consumers (dashboards, SMS notifiers).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event kinds published by the directory server.
const (
	KindPoolScan     = "pool.scan"
	KindSessionOpen  = "session.open"
	KindSessionClose = "session.close"
	KindVerified     = "session.verified"
	KindLegacySync   = "legacy.sync"
)

// Event is one fact on the feed. Payload is event-kind specific JSON.
type Event struct {
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent marshals payload and stamps the event.
func NewEvent(kind string, occurredAt time.Time, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, OccurredAt: occurredAt, Payload: body}, nil
}

// Feed is the abstraction over different backends.
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	Consume(ctx context.Context) (<-chan Event, error)
}

// InMemory is a channel-backed feed for single-process deployments and
// tests.
type InMemory struct {
	ch chan Event
}

// NewInMemory creates a bounded in-memory feed.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Event, size)}
}

// Publish enqueues an event.
func (f *InMemory) Publish(ctx context.Context, ev Event) error {
	select {
	case f.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for consumers.
func (f *InMemory) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-f.ch:
				out <- ev
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisFeed is a Redis list-backed feed using LPUSH/BRPOP semantics.
type RedisFeed struct {
	client *redis.Client
	key    string
}

// NewRedisFeed builds a feed on the given list key.
func NewRedisFeed(client *redis.Client, key string) *RedisFeed {
	if key == "" {
		key = "tagsci:events"
	}
	return &RedisFeed{client: client, key: key}
}

// Publish enqueues an event as JSON.
func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.client.LPush(ctx, f.key, body).Err()
}

// Consume streams events using BRPOP. Malformed entries are skipped.
func (f *RedisFeed) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			res, err := f.client.BRPop(ctx, 5*time.Second, f.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var ev Event
				if err := json.Unmarshal([]byte(res[1]), &ev); err == nil {
					out <- ev
				}
			}
		}
	}()
	return out, nil
}
