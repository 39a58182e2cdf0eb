// Package api implements the local control API of the waypost agent.
//
// New(agent, auth) returns a Handler that serves:
//
//	GET  /api/v1/tracking        — whether a session is active + lifecycle state
//	POST /api/v1/tracking/start  — begin tracking ({identity, endpoint})
//	POST /api/v1/tracking/stop   — end tracking and clear the durable session
//	GET  /api/v1/health          — delivery health (online | stale | offline)
//	GET  /api/v1/health/ws       — WebSocket push of the same health record
//	GET  /api/v1/position        — most recent fix that passed the accuracy gate
//
// All endpoints respond with Content-Type: application/json and return 405
// for unexpected methods. Mutating routes check the configured API key;
// read routes are open because the listener binds to loopback by default.
//
// JSON types are defined in types.go. No external HTTP framework is used;
// the WebSocket push uses gorilla/websocket.
package api
