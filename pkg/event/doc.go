// Package event builds and batches the analytics payloads recording
// decision impressions and conversion tracking calls.
//
// Builder turns decisions and tracked events into the batch wire format
// expected by the ingestion endpoint, stamping the project's region both
// into the payload and into the destination URL. Merge coalesces a leading
// run of queued events sharing the same destination and project metadata
// into a single physical payload.
package event
