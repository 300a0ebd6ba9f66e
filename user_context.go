package flagkit

import (
	"context"
	"maps"
	"sync"

	"github.com/dmitrymomot/flagkit/pkg/decision"
)

// DecideOption adjusts a single decide call.
type DecideOption func(*decision.Options)

// WithIgnoreUserProfileService skips sticky-bucketing reads and writes.
func WithIgnoreUserProfileService() DecideOption {
	return func(o *decision.Options) { o.IgnoreUserProfileService = true }
}

// WithIgnoreCmabCache fetches a fresh bandit decision without touching the
// CMAB cache.
func WithIgnoreCmabCache() DecideOption {
	return func(o *decision.Options) { o.IgnoreCmabCache = true }
}

// WithResetCmabCache clears the whole CMAB cache before deciding.
func WithResetCmabCache() DecideOption {
	return func(o *decision.Options) { o.ResetCmabCache = true }
}

// WithInvalidateUserCmabCache evicts this user's CMAB cache entries for the
// rules evaluated in the call.
func WithInvalidateUserCmabCache() DecideOption {
	return func(o *decision.Options) { o.InvalidateUserCmabCache = true }
}

// WithDisableDecisionEvent suppresses the impression event; the decision is
// still computed.
func WithDisableDecisionEvent() DecideOption {
	return func(o *decision.Options) { o.DisableDecisionEvent = true }
}

// WithIncludeReasons returns evaluation notes with the decision.
func WithIncludeReasons() DecideOption {
	return func(o *decision.Options) { o.IncludeReasons = true }
}

// UserContext binds a user id and mutable attributes to a client. All
// methods are safe for concurrent use.
type UserContext struct {
	client *Client
	userID string

	mu         sync.RWMutex
	attributes map[string]any
	forced     map[decision.ForcedDecisionKey]string
}

func newUserContext(client *Client, userID string, attributes map[string]any) *UserContext {
	u := &UserContext{
		client:     client,
		userID:     userID,
		attributes: make(map[string]any, len(attributes)),
		forced:     make(map[decision.ForcedDecisionKey]string),
	}
	maps.Copy(u.attributes, attributes)
	return u
}

// UserID returns the bound user id.
func (u *UserContext) UserID() string {
	return u.userID
}

// SetAttribute sets or replaces one user attribute.
func (u *UserContext) SetAttribute(key string, value any) {
	u.mu.Lock()
	u.attributes[key] = value
	u.mu.Unlock()
}

// Attributes returns a copy of the current attributes.
func (u *UserContext) Attributes() map[string]any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[string]any, len(u.attributes))
	maps.Copy(out, u.attributes)
	return out
}

// SetForcedDecision pins a flag (or one of its rules, when ruleKey is
// non-empty) to a variation for this user context. The pin takes precedence
// over the whole decision pipeline; invalid variation keys are ignored at
// decide time with a recorded reason.
func (u *UserContext) SetForcedDecision(flagKey, ruleKey, variationKey string) {
	u.mu.Lock()
	u.forced[decision.ForcedDecisionKey{FlagKey: flagKey, RuleKey: ruleKey}] = variationKey
	u.mu.Unlock()
}

// GetForcedDecision returns the pinned variation key for a flag/rule scope,
// or empty.
func (u *UserContext) GetForcedDecision(flagKey, ruleKey string) string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.forced[decision.ForcedDecisionKey{FlagKey: flagKey, RuleKey: ruleKey}]
}

// RemoveForcedDecision clears one pin. Returns true when a pin existed.
func (u *UserContext) RemoveForcedDecision(flagKey, ruleKey string) bool {
	key := decision.ForcedDecisionKey{FlagKey: flagKey, RuleKey: ruleKey}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.forced[key]; !ok {
		return false
	}
	delete(u.forced, key)
	return true
}

// RemoveAllForcedDecisions clears every pin on this user context.
func (u *UserContext) RemoveAllForcedDecisions() {
	u.mu.Lock()
	u.forced = make(map[decision.ForcedDecisionKey]string)
	u.mu.Unlock()
}

// Decide resolves one feature flag for this user.
func (u *UserContext) Decide(ctx context.Context, flagKey string, opts ...DecideOption) Decision {
	return u.client.decide(ctx, flagKey, u.userID, u.Attributes(), u.decisionOptions(opts))
}

// DecideAll resolves every flag in the project, keyed by flag key.
func (u *UserContext) DecideAll(ctx context.Context, opts ...DecideOption) map[string]Decision {
	return u.client.decideAll(ctx, u.userID, u.Attributes(), u.decisionOptions(opts))
}

// TrackEvent records a conversion event for this user.
func (u *UserContext) TrackEvent(ctx context.Context, eventKey string, tags map[string]any) error {
	return u.client.Track(ctx, eventKey, u.userID, u.Attributes(), tags)
}

func (u *UserContext) decisionOptions(opts []DecideOption) decision.Options {
	var options decision.Options
	for _, opt := range opts {
		opt(&options)
	}

	u.mu.RLock()
	if len(u.forced) > 0 {
		options.ForcedDecisions = make(map[decision.ForcedDecisionKey]string, len(u.forced))
		maps.Copy(options.ForcedDecisions, u.forced)
	}
	u.mu.RUnlock()

	return options
}
