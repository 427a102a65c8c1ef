package ring

import (
	"context"
	"testing"
	"time"
)

func TestFlowSet_NotifyWakesWait(t *testing.T) {
	fs := NewFlowSet(4)
	fs.Add(7)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fs.Notify(7)

	got, err := fs.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got != 7 {
		t.Errorf("Wait() = %d, want 7", got)
	}
}

func TestFlowSet_NotifyNonMemberIsNoop(t *testing.T) {
	fs := NewFlowSet(4)
	// 7 was never added.
	fs.Notify(7)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := fs.Wait(ctx); err == nil {
		t.Error("expected Wait() to time out for a non-member notify")
	}
}

func TestFlowSet_RemoveStopsMembership(t *testing.T) {
	fs := NewFlowSet(4)
	fs.Add(1)
	fs.Remove(1)

	if fs.Has(1) {
		t.Error("expected flow 1 removed from set")
	}
}

func TestFlowSet_WaitTimesOutWithoutNotify(t *testing.T) {
	fs := NewFlowSet(4)
	fs.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := fs.Wait(ctx); err == nil {
		t.Error("expected Wait() to time out")
	}
}
