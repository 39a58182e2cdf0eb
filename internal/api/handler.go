package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/waypost/waypost/internal/agent"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/health"
	"github.com/waypost/waypost/internal/sensor"
)

// Agent is the controller surface the API needs. *agent.Controller satisfies it.
type Agent interface {
	Start(identity, endpoint string) error
	Stop() error
	IsTracking() bool
	StateName() string
	HealthInfo() health.Record
	LastFix() (sensor.Sample, bool)
}

// Handler is the HTTP handler for all /api/v1/* endpoints of the control API.
type Handler struct {
	agent Agent
	auth  config.AuthConfig
	hub   *Hub
	mux   *http.ServeMux
}

// New creates a Handler wired to the given agent and registers all routes.
// Mutating routes require the configured API key; read routes are open.
func New(a Agent, auth config.AuthConfig) *Handler {
	h := &Handler{agent: a, auth: auth, mux: http.NewServeMux()}
	h.hub = newHub(func() HealthResponse { return toHealthResponse(a.HealthInfo()) })

	h.mux.HandleFunc("/api/v1/tracking", h.tracking)
	h.mux.HandleFunc("/api/v1/tracking/start", h.start)
	h.mux.HandleFunc("/api/v1/tracking/stop", h.stop)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.Handle("/api/v1/health/ws", h.hub)
	h.mux.HandleFunc("/api/v1/position", h.position)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Hub exposes the WebSocket hub so the caller can run its push loop and
// feed it health-transition notifications.
func (h *Handler) Hub() *Hub { return h.hub }

// --- route handlers ---------------------------------------------------------

// tracking returns GET /api/v1/tracking — whether a session is active.
func (h *Handler) tracking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.trackingResponse())
}

// start handles POST /api/v1/tracking/start — begin a tracking session.
func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorize(r) {
		jsonErr(w, http.StatusUnauthorized, "missing or invalid API key")
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.agent.Start(req.Identity, req.Endpoint); err != nil {
		switch {
		case errors.Is(err, agent.ErrMissingSession):
			jsonErr(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, sensor.ErrNoProvider):
			jsonErr(w, http.StatusServiceUnavailable, err.Error())
		default:
			jsonErr(w, http.StatusConflict, err.Error())
		}
		return
	}
	jsonResp(w, http.StatusOK, h.trackingResponse())
}

// stop handles POST /api/v1/tracking/stop — end the tracking session.
func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorize(r) {
		jsonErr(w, http.StatusUnauthorized, "missing or invalid API key")
		return
	}

	if err := h.agent.Stop(); err != nil {
		jsonErr(w, http.StatusConflict, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, h.trackingResponse())
}

// health returns GET /api/v1/health — delivery health derived from outcomes.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, toHealthResponse(h.agent.HealthInfo()))
}

// position returns GET /api/v1/position — the most recent usable fix.
func (h *Handler) position(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	fix, ok := h.agent.LastFix()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no position yet")
		return
	}
	jsonResp(w, http.StatusOK, PositionResponse{
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Accuracy:   fix.Accuracy,
		CapturedAt: fix.CapturedAt.UTC().Format(time.RFC3339),
	})
}

// --- helpers ----------------------------------------------------------------

// authorize checks the configured API key on mutating routes. With auth mode
// "none" (or an empty key) every caller is allowed — the control API binds to
// loopback by default.
func (h *Handler) authorize(r *http.Request) bool {
	if h.auth.Mode != "apikey" {
		return true
	}
	key := h.auth.Key()
	if key == "" {
		return true
	}
	header := h.auth.Header
	if header == "" {
		header = "X-API-Key"
	}
	return r.Header.Get(header) == key
}

func (h *Handler) trackingResponse() TrackingResponse {
	return TrackingResponse{
		Tracking: h.agent.IsTracking(),
		State:    h.agent.StateName(),
	}
}

func toHealthResponse(rec health.Record) HealthResponse {
	resp := HealthResponse{
		Status:              string(rec.Status),
		ConsecutiveFailures: rec.ConsecutiveFailures,
	}
	if !rec.LastSuccessAt.IsZero() {
		resp.LastSuccessAt = rec.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
