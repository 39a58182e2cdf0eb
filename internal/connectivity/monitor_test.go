package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_StartsAvailable(t *testing.T) {
	m := New(nil, time.Second)
	if !m.Available() {
		t.Error("new monitor should start with the hint available")
	}
}

func TestMonitor_CallbackFiresOnTransition(t *testing.T) {
	m := New(nil, time.Second)
	var fired atomic.Int32
	m.OnAvailable(func() { fired.Add(1) })

	m.SetAvailable(true) // already available — no transition
	if got := fired.Load(); got != 0 {
		t.Fatalf("callback fired %d times without a transition", got)
	}

	m.SetAvailable(false)
	m.SetAvailable(false) // idempotent
	m.SetAvailable(true)
	if got := fired.Load(); got != 1 {
		t.Errorf("callback fired %d times, want 1", got)
	}

	m.SetAvailable(false)
	m.SetAvailable(true)
	if got := fired.Load(); got != 2 {
		t.Errorf("callback fired %d times after second transition, want 2", got)
	}
}

func TestMonitor_ProbeRecoversHint(t *testing.T) {
	var up atomic.Bool
	probe := func(context.Context) bool { return up.Load() }

	m := New(probe, 10*time.Millisecond)
	m.SetAvailable(false)

	flushed := make(chan struct{}, 1)
	m.OnAvailable(func() {
		select {
		case flushed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// While the network is down the probe must not flip the hint.
	time.Sleep(50 * time.Millisecond)
	if m.Available() {
		t.Fatal("hint recovered while probe reports down")
	}

	up.Store(true)
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("flush callback not invoked after probe recovery")
	}
	if !m.Available() {
		t.Error("hint still unavailable after probe recovery")
	}
}

func TestTCPProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	ctx := context.Background()

	probe := TCPProbe("http://" + lis.Addr().String())
	if !probe(ctx) {
		t.Error("probe against live listener reports down")
	}

	dead := TCPProbe("http://127.0.0.1:1") // port 1 — nothing listens there
	deadCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if dead(deadCtx) {
		t.Error("probe against dead port reports up")
	}

	bad := TCPProbe("::not-a-url")
	if bad(ctx) {
		t.Error("probe with unparseable endpoint reports up")
	}
}
