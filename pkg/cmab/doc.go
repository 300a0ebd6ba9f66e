// Package cmab talks to the contextual multi-armed bandit prediction
// service that picks variations for CMAB experiments from user attributes.
//
// Client performs the HTTP POST with bounded exponential-backoff retry;
// malformed responses fail immediately since retrying cannot fix them.
// Service wraps the client with a TTL-bounded LRU cache keyed by user, rule,
// and a hash of the relevant attributes, so repeated decisions within a
// session avoid redundant remote calls.
package cmab
