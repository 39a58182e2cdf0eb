package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/sensor"
)

// Entry wraps a sample with the time it entered the queue.
type Entry struct {
	Sample     sensor.Sample
	EnqueuedAt time.Time
}

// Queue is a mutex-guarded bounded FIFO of undelivered samples.
//
// Enqueue never blocks: when the queue is full the oldest entry is evicted
// so the newest data always wins. Entries keep insertion order except for
// explicit requeue-on-failure, which puts them back at the front.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	dropped uint64
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Queue holding at most capacity entries.
func New(capacity int) *Queue {
	return &Queue{
		entries: make([]Entry, 0, capacity),
		cap:     capacity,
		now:     time.Now,
	}
}

// Enqueue appends a sample. If the queue is full, the oldest entry is
// discarded first.
func (q *Queue) Enqueue(s sensor.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.cap {
		evicted := len(q.entries) - q.cap + 1
		q.entries = q.entries[evicted:]
		q.dropped += uint64(evicted)
		slog.Warn("queue: full, evicted oldest entry",
			"evicted", evicted, "capacity", q.cap, "total_dropped", q.dropped)
	}
	q.entries = append(q.entries, Entry{Sample: s, EnqueuedAt: q.now()})
}

// Drain removes and returns up to limit entries in insertion order.
// limit <= 0 drains everything.
func (q *Queue) Drain(limit int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(q.entries) {
		limit = len(q.entries)
	}
	out := make([]Entry, limit)
	copy(out, q.entries[:limit])
	q.entries = append(q.entries[:0], q.entries[limit:]...)
	return out
}

// RequeueFront puts entries back at the head of the queue, preserving their
// original relative order, after a failed send. If that would exceed
// capacity, the oldest of the requeued entries are dropped — the bounded-loss
// policy favors newer data on every path.
func (q *Queue) RequeueFront(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	room := q.cap - len(q.entries)
	if room < len(entries) {
		drop := len(entries) - room
		q.dropped += uint64(drop)
		entries = entries[drop:]
		slog.Warn("queue: requeue overflow, dropped oldest requeued entries",
			"dropped", drop, "capacity", q.cap)
	}
	if len(entries) == 0 {
		return
	}
	merged := make([]Entry, 0, len(entries)+len(q.entries))
	merged = append(merged, entries...)
	merged = append(merged, q.entries...)
	q.entries = merged
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	return q.cap
}

// Dropped returns the total number of entries lost to eviction since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
