// Package datafile holds the project configuration model: experiments,
// feature flags, rollouts, groups, audiences, holdouts, and traffic
// allocations, decoded from the JSON datafile.
//
// A ProjectConfig snapshot is immutable once built. Config refreshes decode
// a whole new snapshot and publish it through a Holder with an atomic
// pointer swap, so in-flight decisions always see a consistent view.
//
// The Poller re-downloads the datafile on a fixed interval, honoring
// If-Modified-Since/304 semantics and correcting the schedule for request
// latency so periods do not drift.
package datafile
