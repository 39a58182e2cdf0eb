// Package metrics exposes the agent's delivery and queue instruments in
// Prometheus format. Queue eviction is the only path where position data is
// silently lost, so the dropped counter is the observable to alert on.
package metrics
