package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/connectivity"
	"github.com/waypost/waypost/internal/health"
	"github.com/waypost/waypost/internal/metrics"
	"github.com/waypost/waypost/internal/queue"
	"github.com/waypost/waypost/internal/sensor"
)

const submitBufSize = 16

// Presence is the slice of the presence guarantor the worker needs.
type Presence interface {
	SetText(text string)
}

// Worker is the single serialized sender: it never runs two collector
// requests concurrently, so samples arrive in order and a struggling
// collector is not piled on. Submit is non-blocking for producers; Flush
// asks the run loop to drain the offline queue.
type Worker struct {
	deviceID string
	endpoint string

	client      *http.Client
	queue       *queue.Queue
	monitor     *connectivity.Monitor
	tracker     *health.Tracker
	presence    Presence
	met         *metrics.Set
	sendPause   time.Duration
	sendTimeout time.Duration

	samples chan sensor.Sample
	flushCh chan struct{}
	bo      *backoff

	droppedSeen uint64 // last queue eviction total reported to metrics
}

// Options carries the per-session wiring for a Worker.
type Options struct {
	DeviceID  string
	Endpoint  string
	Collector config.CollectorConfig
	Queue     *queue.Queue
	Monitor   *connectivity.Monitor
	Tracker   *health.Tracker
	Presence  Presence
	Metrics   *metrics.Set

	// Client overrides the HTTP client, for tests. Nil builds one from
	// the collector config.
	Client *http.Client
}

// NewWorker wires a Worker for one tracking session.
func NewWorker(opts Options) *Worker {
	client := opts.Client
	if client == nil {
		client = newHTTPClient(opts.Collector)
	}
	pause := opts.Collector.SendPause
	if pause < 0 {
		pause = 0
	}
	timeout := opts.Collector.SendTimeout
	if timeout <= 0 {
		timeout = config.DefaultSendTimeout
	}
	return &Worker{
		deviceID:    opts.DeviceID,
		endpoint:    strings.TrimRight(opts.Endpoint, "/"),
		client:      client,
		queue:       opts.Queue,
		monitor:     opts.Monitor,
		tracker:     opts.Tracker,
		presence:    opts.Presence,
		met:         opts.Metrics,
		sendPause:   pause,
		sendTimeout: timeout,
		samples:     make(chan sensor.Sample, submitBufSize),
		flushCh:     make(chan struct{}, 1),
		bo:          newBackoff(),
	}
}

// Submit hands a fresh sample to the worker. Never blocks: if the run loop
// is busy (mid-send or backing off) and the buffer is full, the buffered
// backlog spills to the queue first so this sample lands behind the older
// ones it would otherwise overtake. Queue metrics catch up on the run
// loop's next pass.
func (w *Worker) Submit(s sensor.Sample) {
	select {
	case w.samples <- s:
		return
	default:
	}
	for {
		select {
		case older := <-w.samples:
			w.queue.Enqueue(older)
		default:
			w.queue.Enqueue(s)
			return
		}
	}
}

// Flush asks the run loop to drain the queue. Coalesced: at most one flush
// request is pending at a time.
func (w *Worker) Flush() {
	select {
	case w.flushCh <- struct{}{}:
	default:
	}
}

// Run processes submissions and flush requests until ctx is cancelled.
// A failed drain is retried with truncated exponential backoff; during the
// wait, fresh samples keep accumulating in the queue.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case s := <-w.samples:
			w.handleSample(ctx, s)

		case <-w.flushCh:
			if err := w.drain(ctx); err != nil {
				wait := w.bo.next()
				slog.Warn("delivery: drain failed, backing off",
					"err", err, "retry_in", wait, "queued", w.queue.Len())
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				w.Flush()
				continue
			}
			w.bo.reset()
		}
	}
}

// handleSample sends a fresh sample directly when the network looks up and
// nothing older is waiting; otherwise it queues the sample so capture order
// is preserved end to end.
func (w *Worker) handleSample(ctx context.Context, s sensor.Sample) {
	if !w.monitor.Available() || w.queue.Len() > 0 {
		w.queue.Enqueue(s)
		w.syncQueueMetrics()
		if w.monitor.Available() {
			w.Flush()
		}
		return
	}

	if err := w.send(ctx, s); err != nil {
		w.queue.Enqueue(s)
		w.onSendFailure(err)
		w.syncQueueMetrics()
		return
	}
	w.onSendSuccess(s)
}

// drain sends queued entries one at a time, oldest first, stopping on the
// first failure so a down collector is not hammered. Unsent entries return
// to the queue: at the front when the failure looks like the collector's
// fault, at the back when connectivity itself went away.
func (w *Worker) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !w.monitor.Available() {
			return nil // wait for the monitor to call Flush again
		}

		entries := w.queue.Drain(1)
		if len(entries) == 0 {
			w.syncQueueMetrics()
			return nil
		}

		if err := w.send(ctx, entries[0].Sample); err != nil {
			w.onSendFailure(err)
			// The failed entry goes back to the front on both branches:
			// capture order must survive requeueing, or the collector sees
			// younger fixes before the one that failed.
			w.queue.RequeueFront(entries)
			w.syncQueueMetrics()
			if isConnectivityError(err) {
				return nil // the probe owns recovery now
			}
			return err // the backoff schedule owns the retry
		}
		w.onSendSuccess(entries[0].Sample)
		w.syncQueueMetrics()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.sendPause):
		}
	}
}

// locationReport is the collector ingestion payload.
type locationReport struct {
	DeviceID  string  `json:"deviceId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// send POSTs one sample. Delivery is at-least-once: a lost acknowledgment is
// indistinguishable from a lost request, so the collector may see duplicates.
func (w *Worker) send(ctx context.Context, s sensor.Sample) error {
	body, err := json.Marshal(locationReport{
		DeviceID:  w.deviceID,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
	})
	if err != nil {
		return fmt.Errorf("delivery: marshal report: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost,
		w.endpoint+"/location", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delivery: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

func (w *Worker) onSendSuccess(s sensor.Sample) {
	w.tracker.OnSuccess()
	w.met.IncDelivered()
	w.monitor.SetAvailable(true)
	if w.presence != nil {
		w.presence.SetText(fmt.Sprintf("tracking — last fix ±%.0f m", s.Accuracy))
	}
	slog.Debug("delivery: sample delivered",
		"captured_at", s.CapturedAt, "accuracy", s.Accuracy)
}

func (w *Worker) onSendFailure(err error) {
	w.tracker.OnFailure()
	w.met.IncFailure()
	if isConnectivityError(err) {
		// Route subsequent samples to the queue instead of attempting
		// sends that will fail the same way.
		w.monitor.SetAvailable(false)
	}
	slog.Warn("delivery: send failed", "err", err, "queued", w.queue.Len())
}

// syncQueueMetrics reports queue length and any new evictions.
func (w *Worker) syncQueueMetrics() {
	w.met.SetQueueLength(w.queue.Len())
	if total := w.queue.Dropped(); total > w.droppedSeen {
		w.met.AddQueueDropped(total - w.droppedSeen)
		w.droppedSeen = total
	}
}
