// Package agent is the lifecycle controller: the state machine
// Stopped → Starting → Running → Stopping → Stopped, with a Resuming
// substate for restarts driven by durable state rather than an operator.
//
// The controller is the exclusive owner of the durable session record.
// The ordering rule on every transition is durability first: the session is
// written before sensor or network resources move, so the resume decision
// after a crash always reflects the operator's last explicit intent.
//
// Stop and Shutdown differ on exactly one point: Stop is the operator
// withdrawing consent (session cleared, nothing resumes), Shutdown is the
// process going away (session kept, restart paths resume).
package agent
