// Package delivery ships position samples to the collector over HTTP.
//
// Worker is a single serialized sender: one POST in flight at a time, so
// samples reach the collector in capture order and a struggling collector is
// never piled on. Fresh samples are sent directly while the connectivity
// hint is up and nothing older waits in the queue; otherwise they queue and
// a flush drains the backlog one entry at a time with a short pause between
// sends, stopping on the first failure.
//
// Failed drains retry with truncated exponential backoff (1s→60s, ±25%
// jitter). Failures that look like the network being away flip the
// connectivity hint down and hand recovery to the reachability probe.
//
// Delivery is at-least-once — an acknowledgment lost after the collector
// persisted the sample is retried, so collectors must tolerate duplicates.
package delivery
