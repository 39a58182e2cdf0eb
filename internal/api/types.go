package api

// TrackingResponse is the payload for GET /api/v1/tracking and for the
// start/stop mutations.
type TrackingResponse struct {
	Tracking bool   `json:"tracking"`
	State    string `json:"state"`
}

// StartRequest is the body of POST /api/v1/tracking/start.
type StartRequest struct {
	Identity string `json:"identity"`
	Endpoint string `json:"endpoint"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status              string `json:"status"`
	LastSuccessAt       string `json:"last_success_at,omitempty"` // RFC3339; absent = never
	ConsecutiveFailures uint   `json:"consecutive_failures"`
}

// PositionResponse is the payload for GET /api/v1/position: the most recent
// fix that passed the accuracy gate.
type PositionResponse struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy"`
	CapturedAt string  `json:"captured_at"` // RFC3339
}

type errorResponse struct {
	Error string `json:"error"`
}
