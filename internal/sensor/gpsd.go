package sensor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/config"
)

const gpsdDialTimeout = 5 * time.Second

// gpsdWatch enables streaming JSON reports from the daemon.
const gpsdWatch = `?WATCH={"enable":true,"json":true}` + "\n"

// gpsdSource reads TPV reports from a gpsd-compatible daemon over TCP.
type gpsdSource struct {
	cfg config.SensorConfig

	mu   sync.Mutex
	conn net.Conn
	stop chan struct{}
}

func newGPSDSource(cfg config.SensorConfig) *gpsdSource {
	return &gpsdSource{cfg: cfg}
}

// tpvReport is the subset of a gpsd TPV object the agent consumes.
type tpvReport struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"` // 0/1 = no fix, 2 = 2D, 3 = 3D
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Eph   float64 `json:"eph"` // horizontal position error, meters
	Epx   float64 `json:"epx"`
	Epy   float64 `json:"epy"`
	Time  string  `json:"time"` // RFC 3339
}

func (g *gpsdSource) Subscribe(opts SubscribeOptions) (<-chan Sample, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		return nil, fmt.Errorf("sensor gpsd: already subscribed")
	}

	conn, err := net.DialTimeout("tcp", g.cfg.Endpoint, gpsdDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: gpsd dial %s: %v", ErrNoProvider, g.cfg.Endpoint, err)
	}
	if _, err := conn.Write([]byte(gpsdWatch)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: gpsd watch: %v", ErrNoProvider, err)
	}

	g.conn = conn
	g.stop = make(chan struct{})

	out := make(chan Sample, 16)
	go g.readLoop(conn, g.stop, newThrottle(opts), out)

	slog.Info("sensor: gpsd stream started", "endpoint", g.cfg.Endpoint)
	return out, nil
}

// readLoop decodes JSON lines until the connection fails or stop is closed.
func (g *gpsdSource) readLoop(conn net.Conn, stop chan struct{}, th *throttle, out chan<- Sample) {
	defer close(out)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for scanner.Scan() {
		select {
		case <-stop:
			return
		default:
		}

		var rep tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &rep); err != nil {
			continue // gpsd also emits VERSION, DEVICES, SKY — skip anything unparseable
		}
		if rep.Class != "TPV" || rep.Mode < 2 {
			continue
		}

		s := Sample{
			Latitude:   rep.Lat,
			Longitude:  rep.Lon,
			Accuracy:   horizontalError(rep),
			CapturedAt: parseFixTime(rep.Time),
		}
		if !th.admit(s) {
			continue
		}

		select {
		case out <- s:
		case <-stop:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-stop: // expected on Unsubscribe — conn was closed under the scanner
		default:
			slog.Warn("sensor: gpsd stream ended", "err", err)
		}
	}
}

func (g *gpsdSource) Unsubscribe() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return
	}
	close(g.stop)
	g.conn.Close()
	g.conn = nil
	g.stop = nil
	slog.Info("sensor: gpsd stream stopped", "endpoint", g.cfg.Endpoint)
}

// horizontalError picks the best available accuracy estimate from a TPV.
// gpsd reports eph when it can; some receivers only provide per-axis epx/epy.
func horizontalError(rep tpvReport) float64 {
	if rep.Eph > 0 {
		return rep.Eph
	}
	if rep.Epx > 0 || rep.Epy > 0 {
		if rep.Epx > rep.Epy {
			return rep.Epx
		}
		return rep.Epy
	}
	return 0
}

// parseFixTime converts the TPV timestamp, falling back to the wall clock
// for receivers that omit it.
func parseFixTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
