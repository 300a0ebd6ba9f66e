package cmab

import "errors"

// Predefined errors for CMAB prediction fetching.
var (
	// ErrFetchFailed indicates a network or HTTP failure talking to the
	// prediction service. Retry-eligible.
	ErrFetchFailed = errors.New("cmab fetch failed")

	// ErrInvalidResponse indicates the prediction service returned a body
	// without usable predictions. Never retried: the condition is not
	// transient.
	ErrInvalidResponse = errors.New("invalid response from cmab server")

	// ErrRetriesExhausted indicates every allowed attempt failed.
	ErrRetriesExhausted = errors.New("exhausted all retries for cmab request")
)
