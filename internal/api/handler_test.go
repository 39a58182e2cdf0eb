package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/waypost/waypost/internal/agent"
	"github.com/waypost/waypost/internal/api"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/health"
	"github.com/waypost/waypost/internal/sensor"
)

// --- test helpers -----------------------------------------------------------

// fakeAgent records control calls and serves canned state.
type fakeAgent struct {
	mu       sync.Mutex
	tracking bool
	startErr error
	health   health.Record
	fix      sensor.Sample
	hasFix   bool

	startIdentity string
	startEndpoint string
	stops         int
}

func (f *fakeAgent) Start(identity, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.startIdentity, f.startEndpoint = identity, endpoint
	f.tracking = true
	return nil
}

func (f *fakeAgent) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.tracking = false
	return nil
}

func (f *fakeAgent) IsTracking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracking
}

func (f *fakeAgent) StateName() string {
	if f.IsTracking() {
		return "running"
	}
	return "stopped"
}

func (f *fakeAgent) HealthInfo() health.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeAgent) setHealth(r health.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = r
}

func (f *fakeAgent) LastFix() (sensor.Sample, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fix, f.hasFix
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func post(t *testing.T, h http.Handler, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/tracking -------------------------------------------------------

func TestTracking_Get(t *testing.T) {
	h := api.New(&fakeAgent{tracking: true}, config.AuthConfig{})
	rr := get(t, h, "/api/v1/tracking")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.TrackingResponse
	decode(t, rr, &resp)
	if !resp.Tracking || resp.State != "running" {
		t.Errorf("response: %+v", resp)
	}
}

func TestTracking_StartForwardsSessionInfo(t *testing.T) {
	fa := &fakeAgent{}
	h := api.New(fa, config.AuthConfig{})

	rr := post(t, h, "/api/v1/tracking/start",
		`{"identity":"d1","endpoint":"https://collector.example"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	if fa.startIdentity != "d1" || fa.startEndpoint != "https://collector.example" {
		t.Errorf("agent received identity=%q endpoint=%q", fa.startIdentity, fa.startEndpoint)
	}

	var resp api.TrackingResponse
	decode(t, rr, &resp)
	if !resp.Tracking {
		t.Error("response does not report tracking after start")
	}
}

func TestTracking_StartErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing session info", agent.ErrMissingSession, http.StatusBadRequest},
		{"no provider", sensor.ErrNoProvider, http.StatusServiceUnavailable},
		{"busy", errors.New("agent: state transition in progress"), http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := api.New(&fakeAgent{startErr: tc.err}, config.AuthConfig{})
			rr := post(t, h, "/api/v1/tracking/start", `{}`, nil)
			if rr.Code != tc.want {
				t.Errorf("status: got %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestTracking_StopCallsAgent(t *testing.T) {
	fa := &fakeAgent{tracking: true}
	h := api.New(fa, config.AuthConfig{})

	rr := post(t, h, "/api/v1/tracking/stop", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if fa.stops != 1 {
		t.Errorf("Stop called %d times, want 1", fa.stops)
	}
}

func TestTracking_MethodNotAllowed(t *testing.T) {
	h := api.New(&fakeAgent{}, config.AuthConfig{})
	if rr := post(t, h, "/api/v1/tracking", "", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /tracking: got %d, want 405", rr.Code)
	}
	if rr := get(t, h, "/api/v1/tracking/start"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /tracking/start: got %d, want 405", rr.Code)
	}
}

// --- auth -------------------------------------------------------------------

func TestAuth_APIKeyOnMutatingRoutes(t *testing.T) {
	t.Setenv("WAYPOST_TEST_API_KEY", "s3cret")
	auth := config.AuthConfig{Mode: "apikey", Header: "X-API-Key", KeyEnv: "WAYPOST_TEST_API_KEY"}
	fa := &fakeAgent{}
	h := api.New(fa, auth)

	rr := post(t, h, "/api/v1/tracking/start", `{"identity":"d1","endpoint":"e"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated start: got %d, want 401", rr.Code)
	}
	if fa.startIdentity != "" {
		t.Error("agent Start reached without a key")
	}

	rr = post(t, h, "/api/v1/tracking/start", `{"identity":"d1","endpoint":"e"}`,
		map[string]string{"X-API-Key": "s3cret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated start: got %d, want 200", rr.Code)
	}

	// Read routes stay open.
	if rr := get(t, h, "/api/v1/health"); rr.Code != http.StatusOK {
		t.Errorf("GET /health with auth enabled: got %d, want 200", rr.Code)
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_Get(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fa := &fakeAgent{health: health.Record{
		Status:              health.StatusStale,
		LastSuccessAt:       at,
		ConsecutiveFailures: 7,
	}}
	h := api.New(fa, config.AuthConfig{})

	var resp api.HealthResponse
	decode(t, get(t, h, "/api/v1/health"), &resp)
	if resp.Status != "stale" {
		t.Errorf("status: got %q, want stale", resp.Status)
	}
	if resp.LastSuccessAt != "2026-03-01T12:00:00Z" {
		t.Errorf("last_success_at: got %q", resp.LastSuccessAt)
	}
	if resp.ConsecutiveFailures != 7 {
		t.Errorf("consecutive_failures: got %d, want 7", resp.ConsecutiveFailures)
	}
}

func TestHealth_NeverDeliveredOmitsTimestamp(t *testing.T) {
	fa := &fakeAgent{health: health.Record{Status: health.StatusOffline}}
	h := api.New(fa, config.AuthConfig{})

	var resp map[string]interface{}
	decode(t, get(t, h, "/api/v1/health"), &resp)
	if _, ok := resp["last_success_at"]; ok {
		t.Error("last_success_at present for a never-delivered record")
	}
}

// --- /api/v1/position -------------------------------------------------------

func TestPosition_Get(t *testing.T) {
	fa := &fakeAgent{
		fix: sensor.Sample{
			Latitude:   52.37,
			Longitude:  4.89,
			Accuracy:   12,
			CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		hasFix: true,
	}
	h := api.New(fa, config.AuthConfig{})

	var resp api.PositionResponse
	decode(t, get(t, h, "/api/v1/position"), &resp)
	if resp.Latitude != 52.37 || resp.Accuracy != 12 {
		t.Errorf("response: %+v", resp)
	}
	if resp.CapturedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("captured_at: got %q", resp.CapturedAt)
	}
}

func TestPosition_NoFixYet(t *testing.T) {
	h := api.New(&fakeAgent{}, config.AuthConfig{})
	if rr := get(t, h, "/api/v1/position"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}
