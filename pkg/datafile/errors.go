package datafile

import "errors"

// Predefined errors for datafile handling.
var (
	// ErrInvalidDatafile indicates the datafile bytes could not be decoded.
	ErrInvalidDatafile = errors.New("invalid datafile")

	// ErrDatafileDownloadFailed indicates the datafile request failed after
	// exhausting retries.
	ErrDatafileDownloadFailed = errors.New("datafile download failed")

	// ErrNoCachedDatafile indicates the server returned 304 Not Modified
	// but no locally cached copy exists to serve.
	ErrNoCachedDatafile = errors.New("datafile not modified but no cached copy available")
)
