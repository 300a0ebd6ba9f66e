package retry

import (
	"math"
	"time"
)

// Default policy values shared by the CMAB client and the event dispatcher.
// Two extra attempts after the initial try, 200ms initial delay, capped at 1s.
const (
	DefaultMaxRetries      = 2
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = time.Second
)

// Strategy is a stateless exponential-backoff retry policy. The zero value is
// not useful; use NewStrategy or fill all fields. Strategy values are
// immutable and safe to share across goroutines.
type Strategy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NewStrategy returns a Strategy with the shared defaults.
func NewStrategy() Strategy {
	return Strategy{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// Delay returns the backoff delay before the given attempt.
// Attempt 0 is the initial try and has no delay; attempt n>=1 waits
// min(MaxInterval, InitialInterval * 2^(n-1)). Negative attempts clamp to 0.
func (s Strategy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := time.Duration(float64(s.InitialInterval) * math.Pow(2, float64(attempt-1)))
	if delay > s.MaxInterval {
		delay = s.MaxInterval
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed after the given
// 0-based attempt count.
func (s Strategy) ShouldRetry(currentAttempt int) bool {
	return currentAttempt <= s.MaxRetries
}
