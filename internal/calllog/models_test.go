package calllog

import (
	"errors"
	"testing"
	"time"
)

func TestEntryFinish_FloorsDuration(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	e := Entry{ID: "c1", Caller: "alice", Receiver: "bob", StartTime: start, Status: StatusOngoing}

	if err := e.Finish(StatusCompleted, start.Add(42*time.Second+900*time.Millisecond)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if e.DurationSeconds != 42 {
		t.Fatalf("expected 42s, got %d", e.DurationSeconds)
	}
	if e.EndTime == nil || e.Status != StatusCompleted {
		t.Fatalf("expected completed with end time, got %+v", e)
	}
}

func TestEntryFinish_ClampsNegativeDuration(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	e := Entry{ID: "c1", StartTime: start, Status: StatusOngoing}
	if err := e.Finish(StatusCompleted, start.Add(-3*time.Second)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if e.DurationSeconds != 0 {
		t.Fatalf("expected 0, got %d", e.DurationSeconds)
	}
}

func TestEntryFinish_RejectsInvalidTransitions(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	e := Entry{ID: "c1", StartTime: now, Status: StatusOngoing}

	if err := e.Finish(StatusOngoing, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition to ongoing, got %v", err)
	}
	if err := e.Finish(StatusRejected, now); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := e.Finish(StatusCompleted, now.Add(time.Second)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal entry to stay terminal, got %v", err)
	}
	if e.Status != StatusRejected {
		t.Fatalf("status changed after failed transition: %s", e.Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusMissed, StatusRejected} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if StatusOngoing.Terminal() {
		t.Fatalf("ongoing must not be terminal")
	}
}
