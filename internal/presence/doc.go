// Package presence keeps a liveness claim posted while tracking runs.
//
// The claim exists for the host supervisor's benefit: a fresh heartbeat is
// what earns the agent its keep-alive treatment. Visibility to a human is
// best effort — if the host refuses the signal entirely the guarantor logs
// and keeps the agent delivering.
package presence
