package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/flagkit/pkg/datafile"
)

// Client identification stamped into every payload.
const (
	ClientName    = "go-sdk"
	ClientVersion = "1.0.0"
)

const botFilteringAttributeKey = "$opt_bot_filtering"

// Builder constructs dispatch-ready impression and conversion payloads from
// a project config snapshot.
type Builder struct {
	log     *slog.Logger
	now     func() time.Time
	newUUID func() string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the builder's logger.
func WithLogger(log *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if log != nil {
			b.log = log
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithUUIDSource overrides the event uuid source.
func WithUUIDSource(newUUID func() string) BuilderOption {
	return func(b *Builder) {
		if newUUID != nil {
			b.newUUID = newUUID
		}
	}
}

// NewBuilder creates an event builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		log:     slog.Default(),
		now:     time.Now,
		newUUID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateImpressionEvent builds the activation payload for a decision. The
// metadata names the rule that produced the variation; experiment and
// variation may describe a holdout or rollout rule equally.
func (b *Builder) CreateImpressionEvent(config *datafile.ProjectConfig, experiment *datafile.Experiment, variation *datafile.Variation, userID string, attributes map[string]any, metadata DecisionMetadata) (EventForDispatch, error) {
	decision := Decision{
		VariationID:  variation.ID,
		CampaignID:   experiment.LayerID,
		ExperimentID: experiment.ID,
		Metadata:     metadata,
	}

	dispatchEvent := DispatchEvent{
		EntityID:  experiment.LayerID,
		Key:       ImpressionKey,
		Timestamp: b.now().UnixMilli(),
		UUID:      b.newUUID(),
	}

	return b.createBatchEvent(config, userID, attributes, []Decision{decision}, []DispatchEvent{dispatchEvent})
}

// CreateConversionEvent builds the payload for a tracked event. Tags of
// unsupported types are dropped; numeric revenue/value tags are additionally
// promoted to typed top-level fields.
func (b *Builder) CreateConversionEvent(config *datafile.ProjectConfig, eventKey, userID string, attributes, tags map[string]any) (EventForDispatch, error) {
	declared := config.EventByKey(eventKey)
	if declared == nil {
		return EventForDispatch{}, fmt.Errorf("%w: %q", ErrUnknownEvent, eventKey)
	}

	filteredTags := b.filterTags(tags)

	dispatchEvent := DispatchEvent{
		EntityID:  declared.ID,
		Key:       declared.Key,
		Timestamp: b.now().UnixMilli(),
		UUID:      b.newUUID(),
		Tags:      filteredTags,
		Revenue:   b.extractRevenue(filteredTags),
		Value:     b.extractValue(filteredTags),
	}

	return b.createBatchEvent(config, userID, attributes, nil, []DispatchEvent{dispatchEvent})
}

func (b *Builder) createBatchEvent(config *datafile.ProjectConfig, userID string, attributes map[string]any, decisions []Decision, events []DispatchEvent) (EventForDispatch, error) {
	visitor := Visitor{
		Attributes: b.eventAttributes(config, attributes),
		Snapshots:  []Snapshot{{Decisions: decisions, Events: events}},
		VisitorID:  userID,
	}

	batch := BatchEvent{
		Revision:        config.Project.Revision,
		AccountID:       config.Project.AccountID,
		ClientVersion:   ClientVersion,
		Visitors:        []Visitor{visitor},
		ProjectID:       config.Project.ProjectID,
		ClientName:      ClientName,
		AnonymizeIP:     config.Project.AnonymizeIP,
		EnrichDecisions: true,
		Region:          string(config.Region),
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return EventForDispatch{}, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	return EventForDispatch{
		URL:  config.Region.EventsEndpoint(),
		Body: body,
	}, nil
}

// eventAttributes converts user attributes to wire attributes. Attributes
// unknown to the project are dropped, except reserved "$opt_" keys which
// pass through with the key as their entity id.
func (b *Builder) eventAttributes(config *datafile.ProjectConfig, attributes map[string]any) []Attribute {
	eventAttributes := make([]Attribute, 0, len(attributes))

	for key, value := range attributes {
		entityID := ""
		if attr := config.AttributeByKey(key); attr != nil {
			entityID = attr.ID
		} else if strings.HasPrefix(key, "$opt_") {
			entityID = key
		} else {
			b.log.Debug("dropping unrecognized attribute", "key", key)
			continue
		}
		if !isValidTagValue(value) {
			b.log.Debug("dropping attribute with unsupported type", "key", key)
			continue
		}
		eventAttributes = append(eventAttributes, Attribute{
			Value:    value,
			Key:      key,
			Type:     "custom",
			EntityID: entityID,
		})
	}

	if config.Project.BotFiltering != nil {
		eventAttributes = append(eventAttributes, Attribute{
			Value:    *config.Project.BotFiltering,
			Key:      botFilteringAttributeKey,
			Type:     "custom",
			EntityID: botFilteringAttributeKey,
		})
	}

	return eventAttributes
}

// filterTags drops tags whose type the server rejects. A single bad tag
// would otherwise cause the whole event to be discarded server-side.
func (b *Builder) filterTags(tags map[string]any) map[string]any {
	filtered := make(map[string]any, len(tags))
	for key, value := range tags {
		if !isValidTagValue(value) {
			b.log.Debug("dropping event tag with unsupported type", "key", key)
			continue
		}
		filtered[key] = value
	}
	return filtered
}

// extractRevenue promotes a numeric "revenue" tag to the typed field.
// Integers pass through; floating-point revenue truncates toward zero;
// string or bool revenue stays in the tags map only.
func (b *Builder) extractRevenue(tags map[string]any) *int64 {
	raw, ok := tags[RevenueTagKey]
	if !ok {
		return nil
	}

	var revenue int64
	switch v := raw.(type) {
	case int:
		revenue = int64(v)
	case int8:
		revenue = int64(v)
	case int16:
		revenue = int64(v)
	case int32:
		revenue = int64(v)
	case int64:
		revenue = v
	case uint:
		revenue = int64(v)
	case uint8:
		revenue = int64(v)
	case uint16:
		revenue = int64(v)
	case uint32:
		revenue = int64(v)
	case float32:
		revenue = int64(v)
	case float64:
		revenue = int64(v)
	default:
		b.log.Info("failed to extract revenue from event tags", "value", raw)
		return nil
	}

	b.log.Info("extracted revenue from event tags", "revenue", revenue)
	return &revenue
}

// extractValue promotes a numeric "value" tag to the typed field. Doubles
// pass through; integers promote to double; other types stay in tags only.
func (b *Builder) extractValue(tags map[string]any) *float64 {
	raw, ok := tags[ValueTagKey]
	if !ok {
		return nil
	}

	var value float64
	switch v := raw.(type) {
	case float32:
		value = float64(v)
	case float64:
		value = v
	case int:
		value = float64(v)
	case int8:
		value = float64(v)
	case int16:
		value = float64(v)
	case int32:
		value = float64(v)
	case int64:
		value = float64(v)
	case uint:
		value = float64(v)
	case uint8:
		value = float64(v)
	case uint16:
		value = float64(v)
	case uint32:
		value = float64(v)
	default:
		b.log.Info("failed to extract value from event tags", "value", raw)
		return nil
	}

	b.log.Info("extracted value from event tags", "value", value)
	return &value
}

func isValidTagValue(value any) bool {
	switch value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32,
		float32, float64:
		return true
	default:
		return false
	}
}
