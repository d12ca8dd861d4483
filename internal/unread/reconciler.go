package unread

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"concerndesk/api/internal/feed"
)

type messageStore interface {
	CountUnread(ctx context.Context, conversationID, actorID string, after time.Time) (int, error)
	GetConversationCreatedAt(ctx context.Context, conversationID string) (time.Time, error)
}

// Reconciler tracks unread counts for one actor. Counters are advanced by
// feed events and corrected against the message store, which stays the source
// of truth; the feed may deliver duplicates or arrive out of order relative to
// local writes.
type Reconciler struct {
	actorID string
	cursors *CursorStore
	store   messageStore

	mu      sync.Mutex
	counts  map[string]int
	seen    map[string]map[string]struct{}
	focused string
}

func NewReconciler(actorID string, cursors *CursorStore, store messageStore) *Reconciler {
	return &Reconciler{
		actorID: actorID,
		cursors: cursors,
		store:   store,
		counts:  make(map[string]int),
		seen:    make(map[string]map[string]struct{}),
	}
}

// messageRow is the slice of the feed payload the reconciler needs.
type messageRow struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// SetFocus marks the conversation currently open for this actor. A focused
// conversation is considered continuously read: inbound events for it do not
// raise the counter.
func (r *Reconciler) SetFocus(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = conversationID
}

// HandleEvent applies one inbound message event. Self-sent messages are
// suppressed (the sender's own view reflects the send optimistically), and a
// message ID is only ever counted once, so redelivery is harmless.
func (r *Reconciler) HandleEvent(event feed.Event) {
	if event.Entity != "messages" || event.Action != feed.ActionInserted {
		return
	}
	var row messageRow
	if err := json.Unmarshal(event.Row, &row); err != nil {
		return
	}
	if row.SenderID == r.actorID || row.ConversationID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if row.ConversationID == r.focused {
		return
	}
	ids, ok := r.seen[row.ConversationID]
	if !ok {
		ids = make(map[string]struct{})
		r.seen[row.ConversationID] = ids
	}
	if _, dup := ids[event.RowID]; dup {
		return
	}
	ids[event.RowID] = struct{}{}
	r.counts[row.ConversationID]++
}

// Counter returns the locally tracked count without touching storage.
func (r *Reconciler) Counter(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[conversationID]
}

// Unread computes the authoritative count: messages from other senders newer
// than the read cursor (or the conversation start when no cursor exists). The
// local counter is reconciled to the result.
func (r *Reconciler) Unread(ctx context.Context, conversationID string) (int, error) {
	createdAt, err := r.store.GetConversationCreatedAt(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	after := createdAt
	if cursor, ok, err := r.cursors.Get(ctx, r.actorID, conversationID); err != nil {
		return 0, err
	} else if ok && cursor.After(after) {
		after = cursor
	}

	count, err := r.store.CountUnread(ctx, conversationID, r.actorID, after)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.counts[conversationID] = count
	r.mu.Unlock()
	return count, nil
}

// MarkRead advances the cursor and zeroes the counter for that conversation
// only.
func (r *Reconciler) MarkRead(ctx context.Context, conversationID string, now time.Time) error {
	if err := r.cursors.Set(ctx, r.actorID, conversationID, now); err != nil {
		return err
	}
	r.mu.Lock()
	r.counts[conversationID] = 0
	r.seen[conversationID] = make(map[string]struct{})
	r.mu.Unlock()
	return nil
}

// MarkAllRead is the explicit global affordance behind the notification bell;
// it is never triggered implicitly.
func (r *Reconciler) MarkAllRead(ctx context.Context, conversationIDs []string, now time.Time) error {
	for _, conversationID := range conversationIDs {
		if err := r.MarkRead(ctx, conversationID, now); err != nil {
			return err
		}
	}
	return nil
}
