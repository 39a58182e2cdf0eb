// Package connectivity maintains a best-effort hint of collector
// reachability. The delivery worker flips the hint down when sends fail
// like network errors; a background probe flips it back up and triggers a
// queue flush when the network returns.
package connectivity
