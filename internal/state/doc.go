// Package state persists the tracking session and last health snapshot
// across process restarts, application closure, and device reboots.
//
// The file layout is one YAML document with two namespaces:
//
//	session:
//	  is_tracking: true
//	  identity: "d1"
//	  endpoint: "http://collector:8080"
//	health:
//	  status: "online"
//	  last_success_epoch_ms: 1767265200000
//
// FileStore writes atomically (temp file + rename) so the resume decision
// made at startup never reads a torn state.
package state
