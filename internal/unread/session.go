package unread

import (
	"context"
	"time"

	"concerndesk/api/internal/feed"
)

type eventSource interface {
	Subscribe(ctx context.Context, entity string) (<-chan feed.Event, error)
}

// Session is the per-connection bundle for one actor: a reconciler fed from
// the message stream and the optimistic outbox for that actor's own sends.
// A realtime gateway creates one per socket and drives Run for its lifetime.
type Session struct {
	reconciler *Reconciler
	outbox     *Outbox
}

func NewSession(actorID string, cursors *CursorStore, store messageStore) *Session {
	return &Session{
		reconciler: NewReconciler(actorID, cursors, store),
		outbox:     NewOutbox(),
	}
}

func (s *Session) Reconciler() *Reconciler { return s.reconciler }

func (s *Session) Outbox() *Outbox { return s.outbox }

// Run pumps message events into the reconciler until ctx is cancelled,
// resubscribing when the stream closes.
func (s *Session) Run(ctx context.Context, source eventSource) error {
	for {
		events, err := source.Subscribe(ctx, "messages")
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}
		for event := range events {
			s.reconciler.HandleEvent(event)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
