package connectivity

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

const probeTimeout = 5 * time.Second

// ProbeFunc reports whether the collector currently looks reachable.
type ProbeFunc func(ctx context.Context) bool

// Monitor tracks a best-effort reachability hint for the collector.
//
// The hint is advisory, not authoritative: a send can still fail while the
// hint says available, and vice versa. The delivery worker therefore treats
// every network call as fallible and feeds its own observations back via
// SetAvailable.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu          sync.Mutex
	available   bool
	onAvailable func()
}

// New creates a Monitor that starts with the hint optimistically set to
// available, so the first sample attempts a direct send.
func New(probe ProbeFunc, interval time.Duration) *Monitor {
	return &Monitor{
		probe:     probe,
		interval:  interval,
		available: true,
	}
}

// OnAvailable registers the callback invoked on every unavailable→available
// transition. Typically the delivery worker's flush trigger.
func (m *Monitor) OnAvailable(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAvailable = fn
}

// Available returns the current hint.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// SetAvailable updates the hint from an observed outcome. A transition to
// available fires the registered callback outside the lock.
func (m *Monitor) SetAvailable(v bool) {
	m.mu.Lock()
	transitioned := v && !m.available
	changed := v != m.available
	m.available = v
	fn := m.onAvailable
	m.mu.Unlock()

	if changed {
		slog.Info("connectivity: hint changed", "available", v)
	}
	if transitioned && fn != nil {
		fn()
	}
}

// Run probes reachability on a ticker while the hint says unavailable, so a
// restored network is noticed without waiting for a sample to fail its way
// through. Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.probe == nil {
		<-ctx.Done()
		return
	}

	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.Available() {
				continue // nothing to recover from
			}
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			up := m.probe(probeCtx)
			cancel()
			if up {
				m.SetAvailable(true)
			}
		}
	}
}

// TCPProbe returns a ProbeFunc that dials the host of the given collector
// endpoint URL. The default port follows the URL scheme.
func TCPProbe(endpoint string) ProbeFunc {
	return func(ctx context.Context) bool {
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			return false
		}

		host := u.Host
		if _, _, err := net.SplitHostPort(host); err != nil {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(host, port)
		}

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}
