package health

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the derived delivery-health state.
type Status string

const (
	// StatusOnline — deliveries are succeeding.
	StatusOnline Status = "online"
	// StatusStale — the agent is running but deliveries have been failing
	// for a while, or nothing has been delivered within the stale window.
	StatusStale Status = "stale"
	// StatusOffline — the agent itself is not running.
	StatusOffline Status = "offline"
)

// staleFailureStreak is the consecutive-failure count that flips Online→Stale.
const staleFailureStreak = 5

// Record is an immutable view of the tracker state.
type Record struct {
	Status              Status    `json:"status"`
	LastSuccessAt       time.Time `json:"last_success_at"` // zero = never
	ConsecutiveFailures uint      `json:"consecutive_failures"`
}

// Tracker derives health status from delivery outcomes plus time.
// All methods are safe for concurrent use. Delivery failures are absorbed
// here — they never propagate to the agent's caller as errors.
type Tracker struct {
	mu  sync.Mutex
	rec Record

	staleAfter time.Duration
	now        func() time.Time // injectable for deterministic tests
	persist    func(Record)     // best-effort durable write, may be nil
}

// New creates a Tracker. staleAfter is the reporting window after which a
// quiet agent is considered stale even without an explicit failure streak.
// persist, when non-nil, is called with the new record on every transition;
// it must not block for long.
func New(staleAfter time.Duration, persist func(Record)) *Tracker {
	return &Tracker{
		rec:        Record{Status: StatusOffline},
		staleAfter: staleAfter,
		now:        time.Now,
		persist:    persist,
	}
}

// Restore seeds the tracker from a record persisted by a previous process
// incarnation. Status always restarts as Offline — a fresh process has not
// confirmed anything yet — but the last-success timestamp carries over so a
// resumed agent can report how old its last confirmed delivery really is.
func (t *Tracker) Restore(rec Record) {
	t.mu.Lock()
	t.rec = Record{
		Status:        StatusOffline,
		LastSuccessAt: rec.LastSuccessAt,
	}
	t.mu.Unlock()
}

// OnSuccess records a successful delivery: the failure streak resets and
// status returns to Online.
func (t *Tracker) OnSuccess() {
	t.mu.Lock()
	t.rec = Record{
		Status:              StatusOnline,
		LastSuccessAt:       t.now(),
		ConsecutiveFailures: 0,
	}
	rec := t.rec
	t.mu.Unlock()

	t.save(rec)
}

// OnFailure records a failed delivery attempt. After staleFailureStreak
// consecutive failures the status degrades to Stale.
func (t *Tracker) OnFailure() {
	t.mu.Lock()
	t.rec.ConsecutiveFailures++
	if t.rec.Status != StatusOffline && t.rec.ConsecutiveFailures >= staleFailureStreak {
		t.rec.Status = StatusStale
	}
	rec := t.rec
	t.mu.Unlock()

	if rec.Status == StatusStale && rec.ConsecutiveFailures == staleFailureStreak {
		slog.Warn("health: delivery marked stale",
			"consecutive_failures", rec.ConsecutiveFailures)
	}
	t.save(rec)
}

// OnAgentStarted marks the tracker live when tracking begins. Until the
// first delivery succeeds the status reads Stale, not Online — nothing has
// been confirmed delivered yet this run.
func (t *Tracker) OnAgentStarted() {
	t.mu.Lock()
	if t.rec.Status == StatusOffline {
		t.rec.Status = StatusStale
	}
	t.rec.ConsecutiveFailures = 0
	rec := t.rec
	t.mu.Unlock()

	t.save(rec)
}

// OnAgentStopped forces status Offline regardless of prior counters.
func (t *Tracker) OnAgentStopped() {
	t.mu.Lock()
	t.rec.Status = StatusOffline
	rec := t.rec
	t.mu.Unlock()

	t.save(rec)
}

// Query returns the current record. The read is side-effect free; the
// stale window is applied at read time so consumers can simply poll.
func (t *Tracker) Query() Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.rec
	if rec.Status == StatusOnline && t.staleAfter > 0 &&
		!rec.LastSuccessAt.IsZero() && t.now().Sub(rec.LastSuccessAt) > t.staleAfter {
		rec.Status = StatusStale
	}
	return rec
}

func (t *Tracker) save(rec Record) {
	if t.persist != nil {
		t.persist(rec)
	}
}
