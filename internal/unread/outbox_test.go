package unread

import "testing"

func TestOutboxCommitReplacesInPlace(t *testing.T) {
	o := NewOutbox()
	staged := o.Stage("conv-1", "hello")
	if staged.State != SendPending {
		t.Fatalf("staged state = %s, want pending", staged.State)
	}

	if err := o.Commit(staged.TempID, "msg-1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	entry, ok := o.Get(staged.TempID)
	if !ok {
		t.Fatal("entry vanished after commit")
	}
	if entry.State != SendCommitted || entry.CanonicalID != "msg-1" {
		t.Errorf("entry after commit = %+v", entry)
	}
}

func TestOutboxFailedEntriesAreNotRetried(t *testing.T) {
	o := NewOutbox()
	staged := o.Stage("conv-1", "hello")

	if err := o.Fail(staged.TempID); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	entry, _ := o.Get(staged.TempID)
	if entry.State != SendFailed {
		t.Fatalf("state = %s, want failed", entry.State)
	}

	// resubmission is an explicit actor action producing a fresh pending entry
	restaged, err := o.Resubmit(staged.TempID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if restaged.TempID == staged.TempID {
		t.Error("resubmit must mint a new temporary ID")
	}
	if restaged.State != SendPending || restaged.Body != "hello" {
		t.Errorf("restaged = %+v", restaged)
	}
	if _, ok := o.Get(staged.TempID); ok {
		t.Error("failed entry must be removed after resubmit")
	}
}

func TestOutboxResubmitRequiresFailedState(t *testing.T) {
	o := NewOutbox()
	staged := o.Stage("conv-1", "hello")

	if _, err := o.Resubmit(staged.TempID); err == nil {
		t.Error("resubmitting a pending entry must fail")
	}
	if _, err := o.Resubmit("tmp_missing"); err == nil {
		t.Error("resubmitting an unknown entry must fail")
	}
}
