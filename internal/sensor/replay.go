package sensor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/config"
)

// replaySource emits fixes from a JSON-lines file at a fixed cadence.
// Used for development and tests; the file format matches the MQTT payload.
type replaySource struct {
	cfg config.SensorConfig

	mu   sync.Mutex
	stop chan struct{}
}

func newReplaySource(cfg config.SensorConfig) *replaySource {
	return &replaySource{cfg: cfg}
}

func (r *replaySource) Subscribe(opts SubscribeOptions) (<-chan Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return nil, fmt.Errorf("sensor replay: already subscribed")
	}

	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: replay open %s: %v", ErrNoProvider, r.cfg.Path, err)
	}

	interval := opts.MinInterval
	if interval <= 0 {
		interval = time.Second
	}

	r.stop = make(chan struct{})
	out := make(chan Sample, 16)

	go func(stop chan struct{}) {
		defer close(out)
		defer f.Close()

		th := newThrottle(opts)
		scanner := bufio.NewScanner(f)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for scanner.Scan() {
			var fix mqttFix
			if err := json.Unmarshal(scanner.Bytes(), &fix); err != nil {
				continue
			}
			s := Sample{
				Latitude:   fix.Latitude,
				Longitude:  fix.Longitude,
				Accuracy:   fix.Accuracy,
				CapturedAt: fix.CapturedAt,
			}
			if s.CapturedAt.IsZero() {
				s.CapturedAt = time.Now().UTC()
			}
			if !th.admit(s) {
				continue
			}

			select {
			case out <- s:
			case <-stop:
				return
			}

			select {
			case <-ticker.C:
			case <-stop:
				return
			}
		}
		slog.Info("sensor: replay file exhausted", "path", r.cfg.Path)
	}(r.stop)

	slog.Info("sensor: replay stream started", "path", r.cfg.Path, "interval", interval)
	return out, nil
}

func (r *replaySource) Unsubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop == nil {
		return
	}
	close(r.stop)
	r.stop = nil
}
