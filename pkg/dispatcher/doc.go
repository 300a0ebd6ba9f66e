// Package dispatcher delivers queued analytics events over HTTP.
//
// Events are appended to a pluggable FIFO Store (memory, file, or Redis)
// and removed only after a confirmed send, so payloads survive process
// restarts. A flush cycle pops up to a batch worth of events, merges the
// leading homogeneous run into one payload, and sends it with bounded
// exponential-backoff retry. On retry exhaustion the events stay queued
// for the next cycle. A reachability tracker counts contiguous delivery
// failures and skips flush cycles entirely while the network is down.
package dispatcher
