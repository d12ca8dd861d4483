// Package trust tracks negative events against profiles: lifetime counts that
// suspend a student's right to raise concerns, and a rolling-window count that
// flags staff and trainers for attention.
package trust

import (
	"context"
	"time"
)

const (
	// DefaultBanThreshold is the lifetime negative-event count that suspends
	// a student's submission privileges.
	DefaultBanThreshold = 3
	// DefaultAlertThreshold is the windowed negative-event count that puts a
	// handler on high alert.
	DefaultAlertThreshold = 3
	// DefaultAlertWindow is the trailing period considered for high alert.
	DefaultAlertWindow = 7 * 24 * time.Hour
)

type Store interface {
	RecountNegativeLifetime(ctx context.Context, userID string) (int, error)
	CountNegativeEventsSince(ctx context.Context, userID string, since time.Time) (int, error)
	MarkBanned(ctx context.Context, userID string) (bool, error)
}

type Accumulator struct {
	store          Store
	banThreshold   int
	alertThreshold int
	alertWindow    time.Duration
}

func New(store Store) *Accumulator {
	return &Accumulator{
		store:          store,
		banThreshold:   DefaultBanThreshold,
		alertThreshold: DefaultAlertThreshold,
		alertWindow:    DefaultAlertWindow,
	}
}

// RecordStudentEvent recomputes the lifetime count after a negative event
// against a student and trips the ban on the first crossing of the threshold.
// The ban is one-way: nothing here ever clears it, and calls past the
// threshold are no-ops. Returns whether this call was the crossing.
func (a *Accumulator) RecordStudentEvent(ctx context.Context, studentID string) (bool, error) {
	count, err := a.store.RecountNegativeLifetime(ctx, studentID)
	if err != nil {
		return false, err
	}
	if count < a.banThreshold {
		return false, nil
	}
	return a.store.MarkBanned(ctx, studentID)
}

// HighAlert evaluates the rolling window at the given instant. The flag is
// never stored: each evaluation counts events newer than now minus the
// window, so it clears by itself once the triggering events age out.
func (a *Accumulator) HighAlert(ctx context.Context, targetID string, now time.Time) (bool, error) {
	count, err := a.store.CountNegativeEventsSince(ctx, targetID, now.Add(-a.alertWindow))
	if err != nil {
		return false, err
	}
	return count >= a.alertThreshold, nil
}
