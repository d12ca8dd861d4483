package unread

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupCursorStore(t *testing.T) *CursorStore {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCursorStoreWithClient(client)
}

func TestCursorSetGet(t *testing.T) {
	store := setupCursorStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "stu-1", "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("cursor must be absent before any Set")
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.Set(ctx, "stu-1", "conv-1", at); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := store.Get(ctx, "stu-1", "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("cursor must exist after Set")
	}
	if !got.Equal(at) {
		t.Errorf("cursor = %v, want %v", got, at)
	}
}

func TestCursorIsolationPerActor(t *testing.T) {
	store := setupCursorStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "stu-1", "conv-1", time.Now()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, ok, err := store.Get(ctx, "stu-2", "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("cursors must not leak across actors")
	}
}

func TestCursorAll(t *testing.T) {
	store := setupCursorStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "stu-1", "conv-1", time.Now()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "stu-1", "conv-2", time.Now()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cursors, err := store.All(ctx, "stu-1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(cursors) != 2 {
		t.Errorf("cursor count = %d, want 2", len(cursors))
	}
}
