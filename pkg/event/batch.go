package event

import "encoding/json"

// Merge coalesces the leading run of queued events that share a destination
// URL, project id, and revision into one payload, concatenating their
// visitor lists. It returns the merged event and how many queued items it
// consumed; the caller removes exactly that many from the queue after a
// confirmed send.
//
// A differing destination or project metadata breaks the run; the remainder
// is left for the next flush cycle, preserving FIFO order. A malformed lead
// item cannot be sent or merged, so it is consumed as (1, nil) and dropped.
func Merge(events []EventForDispatch) (int, *EventForDispatch) {
	if len(events) == 0 {
		return 0, nil
	}
	// Single event: send as-is, skip the decode round trip.
	if len(events) == 1 {
		return 1, &events[0]
	}

	var (
		merged    []BatchEvent
		visitors  []Visitor
		url       string
		projectID string
		revision  string
	)

	for _, event := range events {
		var batch BatchEvent
		if err := json.Unmarshal(event.Body, &batch); err != nil {
			break
		}
		if len(merged) == 0 {
			url = event.URL
			projectID = batch.ProjectID
			revision = batch.Revision
		} else if event.URL != url || batch.ProjectID != projectID || batch.Revision != revision {
			break
		}
		merged = append(merged, batch)
		visitors = append(visitors, batch.Visitors...)
	}

	if len(merged) == 0 {
		// The lead item is malformed; retrying cannot fix it.
		return 1, nil
	}

	base := merged[0]
	base.Visitors = visitors
	base.EnrichDecisions = true

	body, err := json.Marshal(base)
	if err != nil {
		return 1, nil
	}

	return len(merged), &EventForDispatch{URL: url, Body: body}
}
