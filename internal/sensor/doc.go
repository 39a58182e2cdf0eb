// Package sensor abstracts the position backends the agent can sample from.
//
// A Source produces a stream of Sample values for the duration of one
// subscription. Three backends are provided:
//   - gpsd — TCP JSON stream from a gpsd-compatible daemon (TPV reports)
//   - mqtt — position fixes published to an MQTT topic as JSON
//   - replay — fixes read from a JSON-lines file, for development and tests
//
// Every sample passes a two-tier accuracy gate (Classify):
//   - worse than 50 m → dropped before reaching any consumer
//   - 30–50 m, or accuracy unreported → tracked as the last known fix
//     but not delivered
//   - 30 m or better → delivered to the collector
//
// SubscribeOptions throttle emission by minimum interval and minimum
// movement distance (haversine).
package sensor
