package decision

// BucketingIDAttribute overrides the hash input for bucketing when present
// in user attributes as a string.
const BucketingIDAttribute = "$opt_bucketing_id"

// ForcedDecisionKey scopes a forced decision to a flag and optionally one
// of its rules. An empty RuleKey applies to the flag as a whole and is
// checked before any rule-scoped override.
type ForcedDecisionKey struct {
	FlagKey string
	RuleKey string
}

// Options adjust a single decide call.
type Options struct {
	// IgnoreUserProfileService skips both the sticky-bucketing read and the
	// profile write for this call.
	IgnoreUserProfileService bool
	// IgnoreCmabCache fetches a fresh bandit decision without reading or
	// updating the CMAB cache.
	IgnoreCmabCache bool
	// ResetCmabCache clears the whole CMAB cache before deciding.
	ResetCmabCache bool
	// InvalidateUserCmabCache evicts this user's CMAB cache entries for the
	// rules evaluated in this call.
	InvalidateUserCmabCache bool
	// DisableDecisionEvent suppresses the impression event; the decision is
	// still computed.
	DisableDecisionEvent bool
	// IncludeReasons returns evaluation notes with the decision.
	IncludeReasons bool
	// ForcedDecisions maps flag/rule scopes to variation keys, taking
	// precedence over all other stages. Invalid entries are ignored with a
	// recorded reason.
	ForcedDecisions map[ForcedDecisionKey]string
}
