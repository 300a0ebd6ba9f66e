package flagkit

import "errors"

// SDK-misuse errors surfaced to the caller. Decisioning itself never
// errors: an unmatched or unknown flag yields a disabled decision with a
// recorded reason.
var (
	// ErrClientNotReady is returned when an operation needs a project config
	// and none has been loaded yet.
	ErrClientNotReady = errors.New("client has no project config yet")

	// ErrExperimentNotFound is returned by Activate for an unknown
	// experiment key.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrFlagNotFound is returned by IsFeatureEnabled for an unknown flag
	// key.
	ErrFlagNotFound = errors.New("feature flag not found")
)
