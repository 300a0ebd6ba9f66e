package dispatcher

import "sync"

// Reachability tracks contiguous delivery failures and a connectivity
// probe. Network access is blocked only when the failure streak reaches the
// threshold AND the probe reports offline, so a flapping endpoint with a
// healthy network keeps being retried.
type Reachability struct {
	mu                 sync.Mutex
	numContiguousFails int
	maxContiguousFails int
	isConnected        func() bool
}

// ReachabilityOption configures a Reachability tracker.
type ReachabilityOption func(*Reachability)

// WithMaxContiguousFails sets the failure streak threshold.
func WithMaxContiguousFails(n int) ReachabilityOption {
	return func(r *Reachability) {
		if n > 0 {
			r.maxContiguousFails = n
		}
	}
}

// WithConnectivityProbe sets the network connectivity check. Without a
// probe the network is assumed up and blocking never engages.
func WithConnectivityProbe(isConnected func() bool) ReachabilityOption {
	return func(r *Reachability) {
		if isConnected != nil {
			r.isConnected = isConnected
		}
	}
}

// NewReachability creates a tracker that blocks after one failure while
// offline.
func NewReachability(opts ...ReachabilityOption) *Reachability {
	r := &Reachability{
		maxContiguousFails: 1,
		isConnected:        func() bool { return true },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordFailure notes one failed delivery cycle.
func (r *Reachability) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numContiguousFails++
}

// RecordSuccess resets the failure streak.
func (r *Reachability) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numContiguousFails = 0
}

// ShouldBlockNetworkAccess reports whether delivery attempts should be
// skipped entirely, consuming no retry budget.
func (r *Reachability) ShouldBlockNetworkAccess() bool {
	r.mu.Lock()
	fails := r.numContiguousFails
	threshold := r.maxContiguousFails
	r.mu.Unlock()

	if fails < threshold {
		return false
	}
	return !r.isConnected()
}
