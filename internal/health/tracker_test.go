package health

import (
	"testing"
	"time"
)

func newTestTracker(staleAfter time.Duration) (*Tracker, *time.Time) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	tr := New(staleAfter, nil)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTracker_SuccessSetsOnline(t *testing.T) {
	tr, now := newTestTracker(5 * time.Minute)
	tr.OnAgentStarted()
	tr.OnSuccess()

	rec := tr.Query()
	if rec.Status != StatusOnline {
		t.Errorf("status = %q, want online", rec.Status)
	}
	if !rec.LastSuccessAt.Equal(*now) {
		t.Errorf("LastSuccessAt = %v, want %v", rec.LastSuccessAt, *now)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", rec.ConsecutiveFailures)
	}
}

func TestTracker_FiveFailuresGoStale(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Minute)
	tr.OnAgentStarted()
	tr.OnSuccess()

	for i := 0; i < 4; i++ {
		tr.OnFailure()
	}
	if got := tr.Query().Status; got != StatusOnline {
		t.Fatalf("status after 4 failures = %q, want online", got)
	}

	tr.OnFailure()
	rec := tr.Query()
	if rec.Status != StatusStale {
		t.Errorf("status after 5 failures = %q, want stale", rec.Status)
	}
	if rec.ConsecutiveFailures != 5 {
		t.Errorf("ConsecutiveFailures = %d, want 5", rec.ConsecutiveFailures)
	}
}

func TestTracker_SuccessResetsStreak(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Minute)
	tr.OnAgentStarted()
	for i := 0; i < 7; i++ {
		tr.OnFailure()
	}
	tr.OnSuccess()

	rec := tr.Query()
	if rec.Status != StatusOnline {
		t.Errorf("status after recovery = %q, want online", rec.Status)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", rec.ConsecutiveFailures)
	}
}

func TestTracker_StaleWindowAppliedAtRead(t *testing.T) {
	tr, now := newTestTracker(5 * time.Minute)
	tr.OnAgentStarted()
	tr.OnSuccess()

	*now = now.Add(4 * time.Minute)
	if got := tr.Query().Status; got != StatusOnline {
		t.Fatalf("status within window = %q, want online", got)
	}

	*now = now.Add(2 * time.Minute)
	if got := tr.Query().Status; got != StatusStale {
		t.Errorf("status past window = %q, want stale", got)
	}
}

func TestTracker_StoppedIsOffline(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Minute)
	tr.OnAgentStarted()
	tr.OnSuccess()
	tr.OnAgentStopped()

	if got := tr.Query().Status; got != StatusOffline {
		t.Errorf("status after stop = %q, want offline", got)
	}

	// Failures while stopped must not resurrect a non-offline status.
	tr.OnFailure()
	tr.OnFailure()
	if got := tr.Query().Status; got != StatusOffline {
		t.Errorf("status after failures while stopped = %q, want offline", got)
	}
}

func TestTracker_StartedBeforeFirstSuccessIsStale(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Minute)
	tr.OnAgentStarted()
	if got := tr.Query().Status; got != StatusStale {
		t.Errorf("status before first success = %q, want stale", got)
	}
}

func TestTracker_PersistCalledOnTransitions(t *testing.T) {
	var saved []Record
	tr := New(5*time.Minute, func(r Record) { saved = append(saved, r) })

	tr.OnAgentStarted()
	tr.OnSuccess()
	tr.OnFailure()
	tr.OnAgentStopped()

	if len(saved) != 4 {
		t.Fatalf("persist called %d times, want 4", len(saved))
	}
	if saved[1].Status != StatusOnline {
		t.Errorf("persisted status after success = %q, want online", saved[1].Status)
	}
	if saved[3].Status != StatusOffline {
		t.Errorf("persisted status after stop = %q, want offline", saved[3].Status)
	}
}

func TestTracker_RestoreKeepsLastSuccessDropsStatus(t *testing.T) {
	tr := New(5*time.Minute, nil)
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	tr.Restore(Record{Status: StatusOnline, LastSuccessAt: at, ConsecutiveFailures: 3})

	rec := tr.Query()
	if rec.Status != StatusOffline {
		t.Errorf("status after restore = %q, want offline (nothing confirmed this run)", rec.Status)
	}
	if !rec.LastSuccessAt.Equal(at) {
		t.Errorf("last success = %v, want %v carried over", rec.LastSuccessAt, at)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("failure streak = %d, want reset to 0", rec.ConsecutiveFailures)
	}
}
