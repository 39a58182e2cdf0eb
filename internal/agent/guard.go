package agent

import (
	"log/slog"
	"sync"
)

// wakeGuard models the wake-hold that keeps the host scheduling the agent
// while tracking runs. Acquire while held and Release while free are both
// no-ops, so every teardown path can release unconditionally — including
// abnormal ones.
type wakeGuard struct {
	mu   sync.Mutex
	held bool
}

func (g *wakeGuard) Acquire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return
	}
	g.held = true
	slog.Debug("agent: wake hold acquired")
}

func (g *wakeGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return
	}
	g.held = false
	slog.Debug("agent: wake hold released")
}

func (g *wakeGuard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
