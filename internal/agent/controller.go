package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/connectivity"
	"github.com/waypost/waypost/internal/delivery"
	"github.com/waypost/waypost/internal/health"
	"github.com/waypost/waypost/internal/metrics"
	"github.com/waypost/waypost/internal/presence"
	"github.com/waypost/waypost/internal/queue"
	"github.com/waypost/waypost/internal/sensor"
	"github.com/waypost/waypost/internal/state"
)

// State is the lifecycle position of the controller.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	// Resuming is the substate entered when tracking restarts from durable
	// state after a process restart or reboot, without an explicit start.
	Resuming
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Resuming:
		return "resuming"
	}
	return "unknown"
}

// ErrMissingSession is returned by Start when no identity or collector
// endpoint is known, from the call or from configuration defaults.
var ErrMissingSession = errors.New("agent: identity and endpoint are required")

// Options wires a Controller.
type Options struct {
	Config  config.AgentConfig
	Store   state.Store
	Tracker *health.Tracker
	Metrics *metrics.Set

	// NewSource builds the position backend. Nil uses sensor.New.
	NewSource func(config.SensorConfig) (sensor.Source, error)

	// PresenceHost receives the liveness signal. Nil uses presence.NopHost.
	PresenceHost presence.Host

	// HTTPClient overrides the collector client, for tests.
	HTTPClient *http.Client
}

// Controller owns the tracking lifecycle: it is the only writer of the
// durable session, the only holder of sensor and network resources, and the
// single source of truth for whether the agent is tracking.
type Controller struct {
	cfg          config.AgentConfig
	store        state.Store
	tracker      *health.Tracker
	met          *metrics.Set
	newSource    func(config.SensorConfig) (sensor.Source, error)
	presenceHost presence.Host
	httpClient   *http.Client

	mu     sync.Mutex
	st     State
	cancel context.CancelFunc
	wg     sync.WaitGroup
	source sensor.Source
	guard  *wakeGuard

	fixMu   sync.Mutex
	lastFix sensor.Sample
	hasFix  bool
}

// New creates a stopped Controller.
func New(opts Options) *Controller {
	newSource := opts.NewSource
	if newSource == nil {
		newSource = sensor.New
	}
	host := opts.PresenceHost
	if host == nil {
		host = presence.NopHost{}
	}
	return &Controller{
		cfg:          opts.Config,
		store:        opts.Store,
		tracker:      opts.Tracker,
		met:          opts.Metrics,
		newSource:    newSource,
		presenceHost: host,
		httpClient:   opts.HTTPClient,
		guard:        &wakeGuard{},
	}
}

// Start begins tracking for identity against the collector endpoint.
// Empty arguments fall back to the configured device_id and collector
// endpoint. The session is persisted before any resource is acquired, so a
// crash mid-start still resumes correctly. Calling Start while already
// Running is a logged no-op.
func (c *Controller) Start(identity, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.st {
	case Running:
		slog.Info("agent: start requested while running — ignoring", "identity", identity)
		return nil
	case Starting, Stopping, Resuming:
		return fmt.Errorf("agent: cannot start while %s", c.st)
	}

	if identity == "" {
		identity = c.cfg.DeviceID
	}
	if endpoint == "" {
		endpoint = c.cfg.Collector.Endpoint
	}
	if identity == "" || endpoint == "" {
		return ErrMissingSession
	}

	// Durability precedes side effects. A store failure degrades
	// resumability but does not block tracking.
	sess := state.Session{Active: true, Identity: identity, Endpoint: endpoint}
	if err := c.store.SaveSession(sess); err != nil {
		slog.Error("agent: session persist failed — restart will not resume", "err", err)
	}

	return c.startLocked(identity, endpoint)
}

// startLocked acquires resources and moves to Running. Shared between Start
// and the resume paths. On failure every partially-acquired resource is
// released and the controller returns to Stopped.
func (c *Controller) startLocked(identity, endpoint string) error {
	if c.st != Resuming {
		c.st = Starting
	}

	c.guard.Acquire()

	src, err := c.newSource(c.cfg.Sensor)
	if err != nil {
		c.guard.Release()
		c.st = Stopped
		slog.Error("agent: start failed — no sensor backend", "err", err)
		return err
	}

	stream, err := src.Subscribe(sensor.SubscribeOptions{
		MinInterval:  c.cfg.Sensor.MinInterval,
		MinDistanceM: c.cfg.Sensor.MinDistanceM,
	})
	if err != nil {
		c.guard.Release()
		c.st = Stopped
		slog.Error("agent: start failed — sensor subscribe", "err", err)
		return fmt.Errorf("agent: subscribe: %w", err)
	}

	q := queue.New(c.cfg.Queue.Capacity)
	mon := connectivity.New(connectivity.TCPProbe(endpoint), c.cfg.Connectivity.ProbeInterval)
	guarantor := presence.New(c.presenceHost, c.cfg.Presence.Period)
	worker := delivery.NewWorker(delivery.Options{
		DeviceID:  identity,
		Endpoint:  endpoint,
		Collector: c.cfg.Collector,
		Queue:     q,
		Monitor:   mon,
		Tracker:   c.tracker,
		Presence:  guarantor,
		Metrics:   c.met,
		Client:    c.httpClient,
	})
	mon.OnAvailable(worker.Flush)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.source = src

	c.wg.Add(4)
	go func() { defer c.wg.Done(); mon.Run(ctx) }()
	go func() { defer c.wg.Done(); worker.Run(ctx) }()
	go func() { defer c.wg.Done(); guarantor.Run(ctx) }()
	go func() { defer c.wg.Done(); c.forward(ctx, stream, worker) }()

	c.tracker.OnAgentStarted()
	c.st = Running
	slog.Info("agent: tracking started", "identity", identity, "endpoint", endpoint)
	return nil
}

// ApplyConfig swaps the configuration used by future sessions: sensor
// backend, collector defaults, queue capacity, timers. A session that is
// already Running keeps the settings it started with; the next start or
// resume picks up the new revision.
func (c *Controller) ApplyConfig(cfg config.AgentConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	slog.Info("agent: config revision applied — takes effect next session")
}

// Stop ends tracking on operator request: resources are released and the
// durable session is cleared so no restart path resumes it. Stopping an
// already-stopped agent is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == Stopped {
		slog.Info("agent: stop requested while stopped — ignoring")
		return nil
	}

	c.st = Stopping
	c.teardownLocked()

	if err := c.store.SaveSession(state.Session{Active: false}); err != nil {
		slog.Error("agent: session clear failed — restart may wrongly resume", "err", err)
	}
	c.tracker.OnAgentStopped()

	c.st = Stopped
	slog.Info("agent: tracking stopped")
	return nil
}

// Shutdown releases resources for process exit without clearing the durable
// session: a later OnProcessRestart or OnSystemBoot resumes tracking.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == Stopped {
		return
	}
	slog.Info("agent: shutting down — session kept for resume")
	c.teardownLocked()
	c.st = Stopped
}

// teardownLocked releases every run-scoped resource. Safe to call on a
// partially-started run; the wake hold release is idempotent.
func (c *Controller) teardownLocked() {
	if c.source != nil {
		c.source.Unsubscribe()
		c.source = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
	c.guard.Release()
}

// OnProcessRestart is invoked when the process comes back without an
// explicit start command — e.g. after an out-of-memory kill.
func (c *Controller) OnProcessRestart() error {
	return c.resume("process restart")
}

// OnSystemBoot is invoked after a full device restart. The resume rule is
// identical: only a session the operator explicitly left active is resumed,
// never a silently re-enabled one.
func (c *Controller) OnSystemBoot() error {
	return c.resume("system boot")
}

func (c *Controller) resume(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st != Stopped {
		return nil
	}

	sess, err := c.store.LoadSession()
	if err != nil {
		slog.Error("agent: cannot read durable session — staying stopped",
			"reason", reason, "err", err)
		return fmt.Errorf("agent: load session: %w", err)
	}
	if !sess.Active || sess.Identity == "" || sess.Endpoint == "" {
		slog.Info("agent: no active session to resume", "reason", reason)
		return nil
	}

	c.st = Resuming
	slog.Info("agent: resuming tracking",
		"reason", reason, "identity", sess.Identity, "endpoint", sess.Endpoint)
	return c.startLocked(sess.Identity, sess.Endpoint)
}

// forward routes sensor samples through the accuracy gate to the worker.
func (c *Controller) forward(ctx context.Context, stream <-chan sensor.Sample, w *delivery.Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-stream:
			if !ok {
				slog.Warn("agent: sensor stream ended")
				return
			}
			switch sensor.Classify(s) {
			case sensor.Drop:
				c.met.IncFiltered()
			case sensor.Track:
				c.recordFix(s)
			case sensor.Deliver:
				c.recordFix(s)
				w.Submit(s)
			}
		}
	}
}

func (c *Controller) recordFix(s sensor.Sample) {
	c.fixMu.Lock()
	c.lastFix = s
	c.hasFix = true
	c.fixMu.Unlock()
	c.met.SetLastAccuracy(s.Accuracy)
}

// IsTracking reports whether the agent is currently Running.
func (c *Controller) IsTracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == Running
}

// StateName returns the current lifecycle state for status surfaces.
func (c *Controller) StateName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.String()
}

// HealthInfo returns the full health record.
func (c *Controller) HealthInfo() health.Record {
	return c.tracker.Query()
}

// HealthStatus returns just the derived status.
func (c *Controller) HealthStatus() health.Status {
	return c.tracker.Query().Status
}

// LastFix returns the most recent usable fix, including ones in the
// tracked-but-not-delivered accuracy band.
func (c *Controller) LastFix() (sensor.Sample, bool) {
	c.fixMu.Lock()
	defer c.fixMu.Unlock()
	return c.lastFix, c.hasFix
}
