// Package retry provides the bounded exponential-backoff policy shared by
// every network call site in the SDK (CMAB prediction requests, event batch
// dispatch, datafile downloads).
//
// The policy is a pure value type: Delay and ShouldRetry have no shared
// mutable state, so a single Strategy can be used concurrently by all
// callers.
//
//	strategy := retry.NewStrategy()
//	for attempt := 0; strategy.ShouldRetry(attempt); attempt++ {
//		time.Sleep(strategy.Delay(attempt))
//		if err := send(); err == nil {
//			break
//		}
//	}
package retry
