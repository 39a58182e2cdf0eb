package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/waypost/waypost/internal/config"
)

// Accuracy thresholds in meters. Fixes worse than MaxUsableAccuracy are
// discarded outright; only fixes at or below SendAccuracy are handed to
// delivery. Fixes between the two are tracked locally but not shipped.
const (
	MaxUsableAccuracy = 50.0
	SendAccuracy      = 30.0
)

// ErrNoProvider is returned when no position backend is available —
// the configured type is unknown, or the backend cannot be reached at
// subscribe time. The lifecycle controller treats it as a fatal start error.
var ErrNoProvider = errors.New("sensor: no position provider available")

// Sample is one position fix. Immutable once created.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"` // meters; <= 0 means not reported
	CapturedAt time.Time `json:"captured_at"`
}

// Decision classifies a sample against the two-tier accuracy gate.
type Decision int

const (
	// Drop — accuracy worse than MaxUsableAccuracy; discarded entirely.
	Drop Decision = iota
	// Track — within the usable ceiling but above the send threshold,
	// or accuracy not reported. Kept as the last known fix, not delivered.
	Track
	// Deliver — at or below SendAccuracy; forwarded to the collector.
	Deliver
)

func (d Decision) String() string {
	switch d {
	case Drop:
		return "drop"
	case Track:
		return "track"
	case Deliver:
		return "deliver"
	}
	return "unknown"
}

// Classify applies the accuracy gate to a sample.
func Classify(s Sample) Decision {
	switch {
	case s.Accuracy > MaxUsableAccuracy:
		return Drop
	case s.Accuracy <= 0:
		return Track
	case s.Accuracy <= SendAccuracy:
		return Deliver
	default:
		return Track
	}
}

// Source emits position samples for the duration of one subscription.
// The stream is non-restartable: Unsubscribe stops it, and a fresh
// Subscribe starts a new stream. Implementations may close the returned
// channel when the stream ends; consumers must also honor their own
// cancellation signal rather than rely on the close.
type Source interface {
	// Subscribe starts the stream. Fails fast with ErrNoProvider (wrapped)
	// when the backend cannot be reached.
	Subscribe(opts SubscribeOptions) (<-chan Sample, error)

	// Unsubscribe stops the active stream. Safe to call more than once.
	Unsubscribe()
}

// SubscribeOptions throttle the emitted stream.
type SubscribeOptions struct {
	// MinInterval is the minimum time between emitted samples.
	MinInterval time.Duration

	// MinDistanceM suppresses samples closer than this many meters to the
	// previously emitted one. Zero disables the distance filter.
	MinDistanceM float64
}

// New returns the Source for the given sensor configuration.
func New(cfg config.SensorConfig) (Source, error) {
	switch cfg.Type {
	case "gpsd":
		return newGPSDSource(cfg), nil
	case "mqtt":
		return newMQTTSource(cfg), nil
	case "replay":
		return newReplaySource(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrNoProvider, cfg.Type)
	}
}

// throttle applies SubscribeOptions to a raw fix stream. Backends call
// admit() for every fix they decode; only admitted fixes are emitted.
type throttle struct {
	opts    SubscribeOptions
	lastAt  time.Time
	lastFix Sample
	emitted bool
}

func newThrottle(opts SubscribeOptions) *throttle {
	return &throttle{opts: opts}
}

// admit reports whether the sample passes the interval and distance filters,
// recording it as the new reference point when it does.
func (t *throttle) admit(s Sample) bool {
	if t.emitted {
		if t.opts.MinInterval > 0 && s.CapturedAt.Sub(t.lastAt) < t.opts.MinInterval {
			return false
		}
		if t.opts.MinDistanceM > 0 &&
			distanceM(t.lastFix.Latitude, t.lastFix.Longitude, s.Latitude, s.Longitude) < t.opts.MinDistanceM {
			return false
		}
	}
	t.lastAt = s.CapturedAt
	t.lastFix = s
	t.emitted = true
	return true
}

// distanceM returns the haversine great-circle distance in meters.
func distanceM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
