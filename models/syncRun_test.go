package models

import (
	"errors"
	"testing"
	"time"
)

func TestStartRunFromPending(t *testing.T) {
	run := SyncRun{Status: SyncRunStatusPending}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	started, err := StartRun(run, at)
	if err != nil {
		t.Fatalf("StartRun error: %v", err)
	}
	if started.Status != SyncRunStatusRunning {
		t.Fatalf("Status = %s", started.Status)
	}
	if started.StartedAt == nil || !started.StartedAt.Equal(at) {
		t.Fatalf("StartedAt = %v", started.StartedAt)
	}
}

func TestStartRunRejectsNonPending(t *testing.T) {
	for _, status := range []string{SyncRunStatusRunning, SyncRunStatusCompleted, SyncRunStatusFailed} {
		_, err := StartRun(SyncRun{Status: status}, time.Now())
		if !errors.Is(err, ErrInvalidRunTransition) {
			t.Fatalf("StartRun from %s: expected ErrInvalidRunTransition, got %v", status, err)
		}
	}
}

func TestCompleteRunComputesDuration(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := SyncRun{Status: SyncRunStatusRunning, StartedAt: &startedAt}
	at := startedAt.Add(90 * time.Second)

	completed, err := CompleteRun(run, at, "")
	if err != nil {
		t.Fatalf("CompleteRun error: %v", err)
	}
	if completed.Status != SyncRunStatusCompleted {
		t.Fatalf("Status = %s", completed.Status)
	}
	if completed.DurationMs != 90000 {
		t.Fatalf("DurationMs = %d", completed.DurationMs)
	}
}

func TestCompleteRunRejectsPending(t *testing.T) {
	_, err := CompleteRun(SyncRun{Status: SyncRunStatusPending}, time.Now(), "")
	if !errors.Is(err, ErrInvalidRunTransition) {
		t.Fatalf("expected ErrInvalidRunTransition, got %v", err)
	}
}

func TestFailRunFromPendingOrRunning(t *testing.T) {
	for _, status := range []string{SyncRunStatusPending, SyncRunStatusRunning} {
		failed, err := FailRun(SyncRun{Status: status}, time.Now(), SyncErrorCodeAPI, "upstream down")
		if err != nil {
			t.Fatalf("FailRun from %s error: %v", status, err)
		}
		if failed.Status != SyncRunStatusFailed {
			t.Fatalf("Status = %s", failed.Status)
		}
		if failed.ErrorCode != SyncErrorCodeAPI {
			t.Fatalf("ErrorCode = %s", failed.ErrorCode)
		}
	}
}

func TestFailRunRejectsFinalized(t *testing.T) {
	for _, status := range []string{SyncRunStatusCompleted, SyncRunStatusFailed} {
		_, err := FailRun(SyncRun{Status: status}, time.Now(), SyncErrorCodeAPI, "")
		if !errors.Is(err, ErrInvalidRunTransition) {
			t.Fatalf("FailRun from %s: expected ErrInvalidRunTransition, got %v", status, err)
		}
	}
}

func TestRunFinalized(t *testing.T) {
	cases := map[string]bool{
		SyncRunStatusPending:   false,
		SyncRunStatusRunning:   false,
		SyncRunStatusCompleted: true,
		SyncRunStatusFailed:    true,
	}
	for status, expected := range cases {
		if got := RunFinalized(SyncRun{Status: status}); got != expected {
			t.Fatalf("RunFinalized(%s) = %v, expected %v", status, got, expected)
		}
	}
}
