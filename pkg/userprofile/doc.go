// Package userprofile provides sticky-bucketing persistence: once a user is
// bucketed into an experiment variation, the assignment is stored and reused
// on later decisions even if traffic allocations change.
//
// The Service interface is intentionally narrow so applications can plug in
// their own storage; InMemoryService and RedisService cover the common
// cases. All profile I/O is best-effort; the decision pipeline logs and
// ignores failures rather than letting them break a decide call.
package userprofile
