package unread

import (
	"errors"
	"sync"
	"time"

	"concerndesk/api/internal/util"
)

type SendState string

const (
	SendPending   SendState = "pending"
	SendCommitted SendState = "committed"
	SendFailed    SendState = "failed"
)

var ErrUnknownProvisional = errors.New("unknown provisional message")

// Provisional is a locally staged message shown before the collaborator
// acknowledges it.
type Provisional struct {
	TempID         string
	CanonicalID    string
	ConversationID string
	Body           string
	State          SendState
	StagedAt       time.Time
}

// Outbox implements the optimistic send protocol: stage immediately under a
// temporary ID, swap in the canonical ID on acknowledgment, and park failures
// until the actor explicitly resubmits.
type Outbox struct {
	mu      sync.Mutex
	entries map[string]*Provisional
}

func NewOutbox() *Outbox {
	return &Outbox{entries: make(map[string]*Provisional)}
}

func (o *Outbox) Stage(conversationID, body string) Provisional {
	entry := &Provisional{
		TempID:         util.NewID("tmp"),
		ConversationID: conversationID,
		Body:           body,
		State:          SendPending,
		StagedAt:       time.Now(),
	}
	o.mu.Lock()
	o.entries[entry.TempID] = entry
	o.mu.Unlock()
	return *entry
}

// Commit replaces the provisional entry in place with its canonical identity.
func (o *Outbox) Commit(tempID, canonicalID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[tempID]
	if !ok {
		return ErrUnknownProvisional
	}
	entry.CanonicalID = canonicalID
	entry.State = SendCommitted
	return nil
}

// Fail marks the entry failed. There is no automatic retry; the entry stays
// visible so the actor can resubmit it.
func (o *Outbox) Fail(tempID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[tempID]
	if !ok {
		return ErrUnknownProvisional
	}
	entry.State = SendFailed
	return nil
}

// Resubmit re-stages a failed entry under a fresh temporary ID.
func (o *Outbox) Resubmit(tempID string) (Provisional, error) {
	o.mu.Lock()
	entry, ok := o.entries[tempID]
	if !ok || entry.State != SendFailed {
		o.mu.Unlock()
		return Provisional{}, ErrUnknownProvisional
	}
	conversationID, body := entry.ConversationID, entry.Body
	delete(o.entries, tempID)
	o.mu.Unlock()
	return o.Stage(conversationID, body), nil
}

func (o *Outbox) Get(tempID string) (Provisional, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[tempID]
	if !ok {
		return Provisional{}, false
	}
	return *entry, true
}
