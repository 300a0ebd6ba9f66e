package dispatcher

import "errors"

// Predefined errors for event dispatch.
var (
	// ErrQueueFull indicates the outbound queue reached its capacity; the
	// event is dropped rather than saved.
	ErrQueueFull = errors.New("event queue is full")

	// ErrDispatchFailed indicates a send attempt failed after all retries.
	ErrDispatchFailed = errors.New("event dispatch failed")

	// ErrEventRejected indicates the endpoint answered with a 4xx status:
	// the payload will never be accepted, so it is dropped instead of
	// retried.
	ErrEventRejected = errors.New("event rejected by endpoint")
)
