package event

// Wire types for the analytics ingestion batch format. Field order and
// names are fixed by the server contract; all timestamps are Unix
// milliseconds.

// ImpressionKey is the event key stamped on every impression.
const ImpressionKey = "campaign_activated"

// Reserved tag keys promoted to typed top-level fields.
const (
	RevenueTagKey = "revenue"
	ValueTagKey   = "value"
)

// BatchEvent is the top-level ingestion payload. One payload carries one or
// more visitors; merging queued events concatenates their visitor lists.
type BatchEvent struct {
	Revision        string    `json:"revision"`
	AccountID       string    `json:"account_id"`
	ClientVersion   string    `json:"client_version"`
	Visitors        []Visitor `json:"visitors"`
	ProjectID       string    `json:"project_id"`
	ClientName      string    `json:"client_name"`
	AnonymizeIP     bool      `json:"anonymize_ip"`
	EnrichDecisions bool      `json:"enrich_decisions"`
	Region          string    `json:"region"`
}

// Visitor groups one user's attributes and event snapshots.
type Visitor struct {
	Attributes []Attribute `json:"attributes"`
	Snapshots  []Snapshot  `json:"snapshots"`
	VisitorID  string      `json:"visitor_id"`
}

// Attribute is one user attribute echoed into the payload.
type Attribute struct {
	Value    any    `json:"value"`
	Key      string `json:"key"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
}

// Snapshot pairs the decisions that led to an event with the event itself.
type Snapshot struct {
	Decisions []Decision      `json:"decisions,omitempty"`
	Events    []DispatchEvent `json:"events"`
}

// Decision records which experiment and variation an impression belongs to.
type Decision struct {
	VariationID  string           `json:"variation_id"`
	CampaignID   string           `json:"campaign_id"`
	ExperimentID string           `json:"experiment_id"`
	Metadata     DecisionMetadata `json:"metadata"`
}

// DecisionMetadata describes the rule that produced a decision.
type DecisionMetadata struct {
	RuleType     string `json:"rule_type"`
	RuleKey      string `json:"rule_key"`
	FlagKey      string `json:"flag_key"`
	VariationKey string `json:"variation_key"`
	Enabled      bool   `json:"enabled"`
	CmabUUID     string `json:"cmab_uuid,omitempty"`
}

// DispatchEvent is a single impression or conversion. EntityID is the layer
// id for impressions and the event id for conversions. Revenue and Value
// are set only when the corresponding tag carries a numeric type.
type DispatchEvent struct {
	EntityID  string         `json:"entity_id"`
	Key       string         `json:"key"`
	Timestamp int64          `json:"timestamp"`
	UUID      string         `json:"uuid"`
	Tags      map[string]any `json:"tags,omitempty"`
	Revenue   *int64         `json:"revenue,omitempty"`
	Value     *float64       `json:"value,omitempty"`
}

// EventForDispatch is a serialized payload bound to its destination,
// exactly as it sits in the outbound queue. JSON tags keep it portable
// across persistent queue stores.
type EventForDispatch struct {
	URL  string `json:"url"`
	Body []byte `json:"body"`
}
