package event

import "errors"

// Predefined errors for event building.
var (
	// ErrUnknownEvent indicates a tracked event key that the project config
	// does not declare.
	ErrUnknownEvent = errors.New("event key not found in config")

	// ErrEncodeFailed indicates the batch payload could not be serialized.
	ErrEncodeFailed = errors.New("failed to encode event payload")
)
