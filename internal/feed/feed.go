// Package feed is the realtime change feed: row-level events published per
// entity over Redis pub/sub. Delivery is at-least-once and unordered across
// entities; consumers must tolerate duplicates and resubscribe when their
// stream closes.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ActionInserted = "inserted"
	ActionUpdated  = "updated"
)

// Event is one change notification for a single row.
type Event struct {
	Entity string          `json:"entity"`
	Action string          `json:"action"`
	RowID  string          `json:"rowId"`
	Row    json.RawMessage `json:"row,omitempty"`
	At     time.Time       `json:"at"`
}

type Feed struct {
	client *redis.Client
	prefix string
}

func New(redisURL string) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client *redis.Client) *Feed {
	return &Feed{client: client, prefix: "feed:"}
}

func (f *Feed) channel(entity string) string {
	return f.prefix + entity
}

// Publish sends one event on the entity channel. Marshalling the row is the
// caller's job; a nil Row is fine for consumers that refetch.
func (f *Feed) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(event.Entity), payload).Err(); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}
	return nil
}

// Subscribe returns a stream of events for one entity. The channel closes when
// ctx is cancelled or the underlying subscription drops; there is no
// server-side session affinity, so the caller resubscribes on close.
func (f *Feed) Subscribe(ctx context.Context, entity string) (<-chan Event, error) {
	sub := f.client.Subscribe(ctx, f.channel(entity))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", entity, err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("feed: drop malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (f *Feed) Close() error {
	return f.client.Close()
}

func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}
