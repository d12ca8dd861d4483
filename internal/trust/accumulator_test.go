package trust

import (
	"context"
	"testing"
	"time"
)

// fakeStore keeps negative-event timestamps in memory and mirrors the
// first-crossing contract of the Postgres MarkBanned update.
type fakeStore struct {
	events map[string][]time.Time
	banned map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events: make(map[string][]time.Time),
		banned: make(map[string]bool),
	}
}

func (f *fakeStore) add(userID string, at time.Time) {
	f.events[userID] = append(f.events[userID], at)
}

func (f *fakeStore) RecountNegativeLifetime(_ context.Context, userID string) (int, error) {
	return len(f.events[userID]), nil
}

func (f *fakeStore) CountNegativeEventsSince(_ context.Context, userID string, since time.Time) (int, error) {
	count := 0
	for _, at := range f.events[userID] {
		if at.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) MarkBanned(_ context.Context, userID string) (bool, error) {
	if f.banned[userID] {
		return false, nil
	}
	f.banned[userID] = true
	return true, nil
}

func TestBanTripsOnThirdEventOnly(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	acc := New(store)
	now := time.Now()

	// two events: no ban
	for i := 0; i < 2; i++ {
		store.add("stu-1", now)
		crossed, err := acc.RecordStudentEvent(ctx, "stu-1")
		if err != nil {
			t.Fatalf("RecordStudentEvent: %v", err)
		}
		if crossed {
			t.Fatalf("ban tripped at %d events", i+1)
		}
	}
	if store.banned["stu-1"] {
		t.Fatal("student banned below threshold")
	}

	// third event crosses
	store.add("stu-1", now)
	crossed, err := acc.RecordStudentEvent(ctx, "stu-1")
	if err != nil {
		t.Fatalf("RecordStudentEvent: %v", err)
	}
	if !crossed {
		t.Fatal("third event must trip the ban")
	}
	if !store.banned["stu-1"] {
		t.Fatal("student not banned after threshold")
	}

	// fourth event is a no-op
	store.add("stu-1", now)
	crossed, err = acc.RecordStudentEvent(ctx, "stu-1")
	if err != nil {
		t.Fatalf("RecordStudentEvent: %v", err)
	}
	if crossed {
		t.Fatal("fourth event must not report a crossing")
	}
	if !store.banned["stu-1"] {
		t.Fatal("ban must never be cleared")
	}
}

func TestHighAlertRollingWindow(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	acc := New(store)
	now := time.Now()

	// two recent events plus one outside the window: below threshold
	store.add("staff-1", now.Add(-time.Hour))
	store.add("staff-1", now.Add(-2*24*time.Hour))
	store.add("staff-1", now.Add(-10*24*time.Hour))

	alert, err := acc.HighAlert(ctx, "staff-1", now)
	if err != nil {
		t.Fatalf("HighAlert: %v", err)
	}
	if alert {
		t.Fatal("two in-window events must not raise the alert")
	}

	// a third in-window event flips it
	store.add("staff-1", now.Add(-time.Minute))
	alert, err = acc.HighAlert(ctx, "staff-1", now)
	if err != nil {
		t.Fatalf("HighAlert: %v", err)
	}
	if !alert {
		t.Fatal("three in-window events must raise the alert")
	}

	// once the window rolls past the oldest events, re-evaluation clears it
	later := now.Add(6 * 24 * time.Hour)
	alert, err = acc.HighAlert(ctx, "staff-1", later)
	if err != nil {
		t.Fatalf("HighAlert: %v", err)
	}
	if alert {
		t.Fatal("alert must clear after the window rolls past")
	}
}
