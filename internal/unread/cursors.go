// Package unread maintains per-actor read cursors and unread counters for
// conversations, reconciled against the authoritative message store. Cursors
// are a display cache: they are never consulted for access control.
package unread

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CursorStore keeps one last-read timestamp per (actor, conversation) in a
// Redis hash per actor.
type CursorStore struct {
	client *redis.Client
	prefix string
}

func NewCursorStore(redisURL string) (*CursorStore, error) {
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
	return NewCursorStoreWithClient(client), nil
}

func NewCursorStoreWithClient(client *redis.Client) *CursorStore {
	return &CursorStore{client: client, prefix: "cursor:"}
}

func (s *CursorStore) key(actorID string) string {
	return s.prefix + actorID
}

func (s *CursorStore) Set(ctx context.Context, actorID, conversationID string, lastReadAt time.Time) error {
	value := lastReadAt.UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, s.key(actorID), conversationID, value).Err(); err != nil {
		return fmt.Errorf("set read cursor: %w", err)
	}
	return nil
}

// Get returns the cursor and whether one exists. A missing cursor means the
// actor has never read the conversation.
func (s *CursorStore) Get(ctx context.Context, actorID, conversationID string) (time.Time, bool, error) {
	value, err := s.client.HGet(ctx, s.key(actorID), conversationID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get read cursor: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		// A corrupt cursor is treated as absent rather than trusted.
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (s *CursorStore) All(ctx context.Context, actorID string) (map[string]time.Time, error) {
	values, err := s.client.HGetAll(ctx, s.key(actorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list read cursors: %w", err)
	}
	cursors := make(map[string]time.Time, len(values))
	for conversationID, value := range values {
		at, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			continue
		}
		cursors[conversationID] = at
	}
	return cursors, nil
}

func (s *CursorStore) Close() error {
	return s.client.Close()
}

func (s *CursorStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
