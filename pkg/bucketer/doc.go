// Package bucketer implements deterministic hash-based traffic allocation.
//
// A user's bucketing id concatenated with an entity id is hashed with
// 32-bit MurmurHash3 (seed 1) and scaled into [0, 10000). The resulting
// bucket value is resolved against cumulative traffic-allocation ranges:
// the first range whose endOfRange is strictly greater than the value wins,
// and values beyond the last bound match nothing.
//
// Experiments inside a random-policy group go through a group-level
// bucketing step first, guaranteeing a user lands in at most one member of
// a mutual-exclusion group.
package bucketer
