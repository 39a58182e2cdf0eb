// Package health derives the agent's delivery health from send outcomes.
//
// The tracker is a pure state machine over {success, failure, started,
// stopped} events plus time: Online on success, Stale after five consecutive
// failures or a quiet reporting window, Offline only while the agent is not
// running. Consumers poll Query(); there is no decay timer.
package health
