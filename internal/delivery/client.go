package delivery

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/waypost/waypost/internal/config"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
)

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds the collector client with auth from the config.
func newHTTPClient(cfg config.CollectorConfig) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if cfg.Auth.Mode == "apikey" || cfg.Auth.Mode == "bearer" {
		rt = &authRoundTripper{base: rt, auth: cfg.Auth}
	}
	return &http.Client{Transport: rt}
}

// statusError is a delivery rejected by the collector with a non-2xx status.
// The collector was reachable, so it does not flip the connectivity hint.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("delivery: collector returned status %d", e.code)
}

// isConnectivityError reports whether err looks like the network being away
// rather than the collector rejecting the payload. Transport errors and
// timeouts qualify; an HTTP status never does.
func isConnectivityError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return false
	}
	// Anything else that reaches here came out of client.Do: DNS failure,
	// refused connection, reset, timeout — all symptoms of the network
	// being away rather than the collector disliking the payload.
	return err != nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
