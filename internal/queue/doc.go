// Package queue holds samples awaiting delivery in a bounded FIFO.
//
// The queue never blocks its producer and never grows past capacity: on
// overflow the oldest entry is evicted, so the most recent positions always
// survive a long network partition. Drain removes entries optimistically for
// a delivery attempt; RequeueFront restores them in order after a failed send.
package queue
