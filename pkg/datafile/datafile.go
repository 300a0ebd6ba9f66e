package datafile

import "encoding/json"

// Region identifies the data residency region of a project. It selects the
// analytics ingestion endpoint and is stamped into every outbound event.
type Region string

const (
	RegionUS Region = "US"
	RegionEU Region = "EU"
)

// Events ingestion endpoints per region.
const (
	eventsEndpointUS = "https://logx.optimizely.com/v1/events"
	eventsEndpointEU = "https://eu.logx.optimizely.com/v1/events"
)

// ParseRegion normalizes a datafile region string. Unrecognized values
// default to US.
func ParseRegion(s string) Region {
	if Region(s) == RegionEU {
		return RegionEU
	}
	return RegionUS
}

// EventsEndpoint returns the analytics ingestion URL for the region.
func (r Region) EventsEndpoint() string {
	if r == RegionEU {
		return eventsEndpointEU
	}
	return eventsEndpointUS
}

// TrafficAllocation is one range of the cumulative traffic split. EndOfRange
// is an exclusive upper bound out of 10000; ranges are listed in
// non-decreasing order and the total may be below 10000, leaving a
// deliberate no-allocation gap.
type TrafficAllocation struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange"`
}

// Variation is a single arm of an experiment or rollout rule.
type Variation struct {
	ID             string     `json:"id"`
	Key            string     `json:"key"`
	FeatureEnabled *bool      `json:"featureEnabled,omitempty"`
	Variables      []Variable `json:"variables,omitempty"`
}

// IsFeatureEnabled reports whether the variation turns its feature on.
func (v Variation) IsFeatureEnabled() bool {
	return v.FeatureEnabled != nil && *v.FeatureEnabled
}

// Variable is a per-variation override of a feature variable value.
type Variable struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Cmab describes a contextual multi-armed bandit experiment: the subset of
// attribute ids forming the bandit context and the percentage (out of 10000)
// of traffic eligible for the bandit.
type Cmab struct {
	AttributeIDs      []string `json:"attributeIds"`
	TrafficAllocation int      `json:"trafficAllocation"`
}

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusRunning    ExperimentStatus = "Running"
	StatusLaunched   ExperimentStatus = "Launched"
	StatusPaused     ExperimentStatus = "Paused"
	StatusNotStarted ExperimentStatus = "Not started"
	StatusArchived   ExperimentStatus = "Archived"
)

// Experiment is an A/B test or a rollout rule (rollout rules reuse the same
// shape with a single tier of audience targeting).
type Experiment struct {
	ID                 string              `json:"id"`
	Key                string              `json:"key"`
	Status             ExperimentStatus    `json:"status"`
	LayerID            string              `json:"layerId"`
	Variations         []Variation         `json:"variations"`
	TrafficAllocation  []TrafficAllocation `json:"trafficAllocation"`
	AudienceIDs        []string            `json:"audienceIds"`
	AudienceConditions json.RawMessage     `json:"audienceConditions,omitempty"`
	ForcedVariations   map[string]string   `json:"forcedVariations,omitempty"`
	Cmab               *Cmab               `json:"cmab,omitempty"`
}

// IsActivated reports whether the experiment accepts traffic.
func (e *Experiment) IsActivated() bool {
	return e.Status == StatusRunning
}

// Variation returns the variation with the given id, or nil.
func (e *Experiment) Variation(id string) *Variation {
	for i := range e.Variations {
		if e.Variations[i].ID == id {
			return &e.Variations[i]
		}
	}
	return nil
}

// VariationByKey returns the variation with the given key, or nil.
func (e *Experiment) VariationByKey(key string) *Variation {
	for i := range e.Variations {
		if e.Variations[i].Key == key {
			return &e.Variations[i]
		}
	}
	return nil
}

// GroupPolicy controls how experiments inside a group interact.
type GroupPolicy string

const (
	// PolicyRandom makes the group mutually exclusive: a user buckets into
	// at most one member experiment.
	PolicyRandom GroupPolicy = "random"
	// PolicyOverlapping lets every member experiment evaluate the user
	// independently.
	PolicyOverlapping GroupPolicy = "overlapping"
)

// Group is a container of experiments sharing a traffic split. For random
// groups the traffic allocation entity ids are experiment ids.
type Group struct {
	ID                string              `json:"id"`
	Policy            GroupPolicy         `json:"policy"`
	TrafficAllocation []TrafficAllocation `json:"trafficAllocation"`
	Experiments       []Experiment        `json:"experiments"`
}

// HoldoutStatus is the lifecycle state of a holdout.
type HoldoutStatus string

const (
	HoldoutStatusDraft     HoldoutStatus = "Draft"
	HoldoutStatusRunning   HoldoutStatus = "Running"
	HoldoutStatusConcluded HoldoutStatus = "Concluded"
	HoldoutStatusArchived  HoldoutStatus = "Archived"
)

// Holdout excludes a fraction of users from all experimentation on the flags
// it covers. An empty included/excluded set means the holdout is global.
type Holdout struct {
	ID                 string              `json:"id"`
	Key                string              `json:"key"`
	Status             HoldoutStatus       `json:"status"`
	Variations         []Variation         `json:"variations"`
	TrafficAllocation  []TrafficAllocation `json:"trafficAllocation"`
	AudienceIDs        []string            `json:"audienceIds"`
	AudienceConditions json.RawMessage     `json:"audienceConditions,omitempty"`
	IncludedFlags      []string            `json:"includedFlags,omitempty"`
	ExcludedFlags      []string            `json:"excludedFlags,omitempty"`
}

// IsActivated reports whether the holdout is running.
func (h *Holdout) IsActivated() bool {
	return h.Status == HoldoutStatusRunning
}

// Variation returns the holdout variation with the given id, or nil.
func (h *Holdout) Variation(id string) *Variation {
	for i := range h.Variations {
		if h.Variations[i].ID == id {
			return &h.Variations[i]
		}
	}
	return nil
}

// Rollout is an ordered list of targeting tiers; the last tier is the
// "everyone else" fallback.
type Rollout struct {
	ID          string       `json:"id"`
	Experiments []Experiment `json:"experiments"`
}

// FeatureFlag binds a flag key to its experiments and rollout.
type FeatureFlag struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	RolloutID     string   `json:"rolloutId"`
	ExperimentIDs []string `json:"experimentIds"`
}

// Attribute is a named user attribute declared in the project.
type Attribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Event is a named conversion event declared in the project.
type Event struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	ExperimentIDs []string `json:"experimentIds"`
}

// Audience is an opaque audience definition; condition evaluation is
// delegated to an injected evaluator.
type Audience struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`
}

// Project is the raw decoded datafile.
type Project struct {
	Version      string        `json:"version"`
	Revision     string        `json:"revision"`
	ProjectID    string        `json:"projectId"`
	AccountID    string        `json:"accountId"`
	AnonymizeIP  bool          `json:"anonymizeIP"`
	BotFiltering *bool         `json:"botFiltering,omitempty"`
	Region       string        `json:"region,omitempty"`
	Experiments  []Experiment  `json:"experiments"`
	Groups       []Group       `json:"groups"`
	Rollouts     []Rollout     `json:"rollouts"`
	FeatureFlags []FeatureFlag `json:"featureFlags"`
	Attributes   []Attribute   `json:"attributes"`
	Events       []Event       `json:"events"`
	Audiences    []Audience    `json:"audiences"`
	Holdouts     []Holdout     `json:"holdouts,omitempty"`
}
