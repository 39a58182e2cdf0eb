package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrUnavailable means the host environment will not accept a presence
// signal at all — e.g. the heartbeat directory is not writable. The
// guarantor logs it and carries on; delivery does not depend on the signal
// being visible.
var ErrUnavailable = errors.New("presence: host unavailable")

// Host is the environment-specific presence mechanism.
type Host interface {
	// Post asserts the liveness signal with the given status text.
	Post(text string) error

	// Visible reports whether the signal is still externally observable.
	Visible() (bool, error)

	// Clear withdraws the signal. Idempotent.
	Clear() error
}

// Guarantor keeps the liveness signal posted while the agent runs,
// re-asserting it on a fixed period and reposting it if something external
// cleared it. A host that reports ErrUnavailable is tolerated: the condition
// is logged and the loop continues, because the delivery function must not
// die with the signal.
type Guarantor struct {
	host   Host
	period time.Duration

	mu   sync.Mutex
	text string
}

// New creates a Guarantor posting through host every period.
func New(host Host, period time.Duration) *Guarantor {
	return &Guarantor{
		host:   host,
		period: period,
		text:   "tracking active",
	}
}

// SetText updates the status text carried by the signal. The new text is
// asserted on the next period tick.
func (g *Guarantor) SetText(text string) {
	g.mu.Lock()
	g.text = text
	g.mu.Unlock()
}

// Run posts the signal immediately, then re-asserts it every period until
// ctx is cancelled, at which point the signal is cleared.
func (g *Guarantor) Run(ctx context.Context) {
	g.assert()

	t := time.NewTicker(g.period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := g.host.Clear(); err != nil && !errors.Is(err, ErrUnavailable) {
				slog.Warn("presence: clear failed", "err", err)
			}
			return
		case <-t.C:
			g.assert()
		}
	}
}

// assert posts the current text, logging repair when the signal had been
// externally cleared.
func (g *Guarantor) assert() {
	g.mu.Lock()
	text := g.text
	g.mu.Unlock()

	visible, err := g.host.Visible()
	if err != nil && !errors.Is(err, ErrUnavailable) {
		slog.Warn("presence: visibility check failed", "err", err)
	}
	if err == nil && !visible {
		slog.Info("presence: signal was externally cleared, reposting")
	}

	if err := g.host.Post(text); err != nil {
		if errors.Is(err, ErrUnavailable) {
			slog.Warn("presence: host unavailable, continuing without signal")
			return
		}
		slog.Warn("presence: post failed", "err", err)
	}
}

// FileHost posts the presence signal as a heartbeat file. A supervisor
// watching the file's freshness can restart the agent when it goes quiet.
type FileHost struct {
	path  string
	runID string
	now   func() time.Time
}

// NewFileHost creates a FileHost writing to path. runID identifies this
// process incarnation in the heartbeat body.
func NewFileHost(path, runID string) *FileHost {
	return &FileHost{path: path, runID: runID, now: time.Now}
}

func (h *FileHost) Post(text string) error {
	body := fmt.Sprintf("status: %s\nupdated_at: %s\nrun_id: %s\n",
		text, h.now().UTC().Format(time.RFC3339), h.runID)

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(h.path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (h *FileHost) Visible() (bool, error) {
	_, err := os.Stat(h.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (h *FileHost) Clear() error {
	err := os.Remove(h.path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// NopHost is used when presence is disabled by configuration.
type NopHost struct{}

func (NopHost) Post(string) error      { return nil }
func (NopHost) Visible() (bool, error) { return true, nil }
func (NopHost) Clear() error           { return nil }
