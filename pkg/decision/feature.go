package decision

import (
	"context"
	"strings"

	"github.com/dmitrymomot/flagkit/pkg/datafile"
	"github.com/dmitrymomot/flagkit/pkg/userprofile"
)

// Decision sources reported in impression metadata.
const (
	SourceFeatureTest = "feature-test"
	SourceRollout     = "rollout"
	SourceHoldout     = "holdout"
)

// FeatureDecision is the outcome of resolving a feature flag for a user.
type FeatureDecision struct {
	Source string
	// Experiment is the winning experiment or rollout rule; nil when the
	// source is a holdout or no rule matched.
	Experiment *datafile.Experiment
	// Holdout is set only for holdout decisions.
	Holdout   *datafile.Holdout
	Variation *datafile.Variation
	CmabUUID  string
}

// Enabled reports whether the flag is on for this decision. A holdout
// decision always disables the flag: holdouts keep users out of
// experimentation entirely.
func (d FeatureDecision) Enabled() bool {
	if d.Holdout != nil {
		return false
	}
	return d.Variation != nil && d.Variation.IsFeatureEnabled()
}

// RuleKey names the rule that produced the decision, or empty.
func (d FeatureDecision) RuleKey() string {
	switch {
	case d.Holdout != nil:
		return d.Holdout.Key
	case d.Experiment != nil:
		return d.Experiment.Key
	default:
		return ""
	}
}

// VariationKey returns the winning variation's key, or empty.
func (d FeatureDecision) VariationKey() string {
	if d.Variation == nil {
		return ""
	}
	return d.Variation.Key
}

// GetVariationForFeature resolves a feature flag through holdouts first,
// then the flag's experiments in order, then the rollout tiers. It always
// returns a decision; an empty one means the flag is off with no rule
// matched.
func (s *Service) GetVariationForFeature(ctx context.Context, config *datafile.ProjectConfig, flag *datafile.FeatureFlag, userID string, attributes map[string]any, opts Options, reasons *Reasons) FeatureDecision {
	if decision, ok := s.getDecisionForHoldouts(config, flag, userID, attributes, reasons); ok {
		return decision
	}

	// Flag-scoped forced decision applies before any rule evaluation.
	if variation := s.findValidatedForcedDecision(config, flag, "", opts, reasons); variation != nil {
		return FeatureDecision{Source: SourceFeatureTest, Variation: variation}
	}

	tracker := userprofile.NewTracker(s.profilesUnlessIgnored(opts), userID, s.log)
	defer tracker.Save()

	if decision, ok := s.getDecisionForFeatureExperiments(ctx, config, flag, userID, attributes, opts, tracker, reasons); ok {
		return decision
	}
	if decision, ok := s.getDecisionForRollout(config, flag, userID, attributes, opts, reasons); ok {
		return decision
	}

	reasons.AddInfo("no rule of flag %q matched user %q", flag.Key, userID)
	return FeatureDecision{}
}

// getDecisionForHoldouts checks the holdouts covering this flag in priority
// order. The first running holdout whose audience matches and whose
// allocation buckets the user supersedes all experiment and rollout rules.
func (s *Service) getDecisionForHoldouts(config *datafile.ProjectConfig, flag *datafile.FeatureFlag, userID string, attributes map[string]any, reasons *Reasons) (FeatureDecision, bool) {
	bucketingID := s.bucketingID(userID, attributes)

	for _, holdout := range config.HoldoutsForFlag(flag.ID) {
		if !holdout.IsActivated() {
			continue
		}
		if !s.meetsAudienceConditions(config, holdout.AudienceConditions, holdout.AudienceIDs, attributes, holdout.Key, reasons) {
			reasons.AddInfo("user %q does not meet conditions for holdout %q", userID, holdout.Key)
			continue
		}

		variation := s.bucketer.BucketHoldout(holdout, bucketingID)
		if variation == nil {
			reasons.AddInfo("user %q not bucketed into holdout %q", userID, holdout.Key)
			continue
		}

		s.log.Info("user held out of experimentation",
			"userId", userID, "flagKey", flag.Key, "holdoutKey", holdout.Key)
		reasons.AddInfo("user %q is held out of flag %q by holdout %q", userID, flag.Key, holdout.Key)
		return FeatureDecision{
			Source:    SourceHoldout,
			Holdout:   holdout,
			Variation: variation,
		}, true
	}
	return FeatureDecision{}, false
}

func (s *Service) getDecisionForFeatureExperiments(ctx context.Context, config *datafile.ProjectConfig, flag *datafile.FeatureFlag, userID string, attributes map[string]any, opts Options, tracker *userprofile.Tracker, reasons *Reasons) (FeatureDecision, bool) {
	if len(flag.ExperimentIDs) == 0 {
		reasons.AddInfo("flag %q has no experiments", flag.Key)
		return FeatureDecision{}, false
	}

	for _, experimentID := range flag.ExperimentIDs {
		experiment := config.ExperimentByID(experimentID)
		if experiment == nil {
			continue
		}

		if variation := s.findValidatedForcedDecision(config, flag, experiment.Key, opts, reasons); variation != nil {
			return FeatureDecision{
				Source:     SourceFeatureTest,
				Experiment: experiment,
				Variation:  variation,
			}, true
		}

		decision := s.getVariation(ctx, config, experiment, userID, attributes, opts, tracker, reasons)
		if decision.Variation != nil {
			return FeatureDecision{
				Source:     SourceFeatureTest,
				Experiment: experiment,
				Variation:  decision.Variation,
				CmabUUID:   decision.CmabUUID,
			}, true
		}
	}
	return FeatureDecision{}, false
}

// getDecisionForRollout walks the rollout tiers in order. For every tier
// except the last, an audience match that fails to bucket falls straight to
// the "everyone else" rule rather than the next tier; an audience miss
// tries the next tier.
func (s *Service) getDecisionForRollout(config *datafile.ProjectConfig, flag *datafile.FeatureFlag, userID string, attributes map[string]any, opts Options, reasons *Reasons) (FeatureDecision, bool) {
	bucketingID := s.bucketingID(userID, attributes)

	rolloutID := strings.TrimSpace(flag.RolloutID)
	if rolloutID == "" {
		reasons.AddInfo("flag %q has no rollout", flag.Key)
		return FeatureDecision{}, false
	}

	rollout := config.RolloutByID(rolloutID)
	if rollout == nil {
		s.log.Error("rollout not found", "rolloutId", rolloutID, "flagKey", flag.Key)
		reasons.AddInfo("rollout %q of flag %q not found", rolloutID, flag.Key)
		return FeatureDecision{}, false
	}
	if len(rollout.Experiments) == 0 {
		reasons.AddInfo("rollout %q has no rules", rolloutID)
		return FeatureDecision{}, false
	}

	rules := rollout.Experiments
	for index := range rules[:len(rules)-1] {
		rule := &rules[index]

		if variation := s.findValidatedForcedDecision(config, flag, rule.Key, opts, reasons); variation != nil {
			return FeatureDecision{Source: SourceRollout, Experiment: rule, Variation: variation}, true
		}

		if !s.meetsAudienceConditions(config, rule.AudienceConditions, rule.AudienceIDs, attributes, rule.Key, reasons) {
			reasons.AddInfo("user %q does not meet conditions for targeting rule %d", userID, index+1)
			continue
		}
		reasons.AddInfo("user %q meets conditions for targeting rule %d", userID, index+1)

		if variation := s.bucketer.BucketExperiment(config, rule, bucketingID); variation != nil {
			reasons.AddInfo("user %q bucketed into targeting rule %d", userID, index+1)
			return FeatureDecision{Source: SourceRollout, Experiment: rule, Variation: variation}, true
		}
		// Matched the audience but missed the traffic slice: skip the
		// remaining tiers and fall to "everyone else".
		reasons.AddInfo("user %q not bucketed into targeting rule %d", userID, index+1)
		break
	}

	everyoneElse := &rules[len(rules)-1]

	if variation := s.findValidatedForcedDecision(config, flag, everyoneElse.Key, opts, reasons); variation != nil {
		return FeatureDecision{Source: SourceRollout, Experiment: everyoneElse, Variation: variation}, true
	}

	if s.meetsAudienceConditions(config, everyoneElse.AudienceConditions, everyoneElse.AudienceIDs, attributes, everyoneElse.Key, reasons) {
		if variation := s.bucketer.BucketExperiment(config, everyoneElse, bucketingID); variation != nil {
			reasons.AddInfo("user %q bucketed into everyone-else rule", userID)
			return FeatureDecision{Source: SourceRollout, Experiment: everyoneElse, Variation: variation}, true
		}
	}

	return FeatureDecision{}, false
}

// findValidatedForcedDecision resolves a flag- or rule-scoped forced
// decision. The variation key must name a variation of one of the flag's
// rules; invalid entries are skipped with a recorded reason.
func (s *Service) findValidatedForcedDecision(config *datafile.ProjectConfig, flag *datafile.FeatureFlag, ruleKey string, opts Options, reasons *Reasons) *datafile.Variation {
	if len(opts.ForcedDecisions) == 0 {
		return nil
	}
	variationKey, ok := opts.ForcedDecisions[ForcedDecisionKey{FlagKey: flag.Key, RuleKey: ruleKey}]
	if !ok {
		return nil
	}

	if variation := s.flagVariationByKey(config, flag, variationKey); variation != nil {
		s.log.Info("forced decision applied",
			"flagKey", flag.Key, "ruleKey", ruleKey, "variationKey", variationKey)
		reasons.AddInfo("forced decision %q applied to flag %q rule %q", variationKey, flag.Key, ruleKey)
		return variation
	}

	s.log.Error("forced decision has invalid variation",
		"flagKey", flag.Key, "ruleKey", ruleKey, "variationKey", variationKey)
	reasons.AddInfo("forced decision %q for flag %q rule %q is invalid", variationKey, flag.Key, ruleKey)
	return nil
}

// flagVariationByKey searches all variations reachable from a flag: its
// experiments' and its rollout rules'.
func (s *Service) flagVariationByKey(config *datafile.ProjectConfig, flag *datafile.FeatureFlag, variationKey string) *datafile.Variation {
	for _, experimentID := range flag.ExperimentIDs {
		if experiment := config.ExperimentByID(experimentID); experiment != nil {
			if variation := experiment.VariationByKey(variationKey); variation != nil {
				return variation
			}
		}
	}
	if rollout := config.RolloutByID(flag.RolloutID); rollout != nil {
		for i := range rollout.Experiments {
			if variation := rollout.Experiments[i].VariationByKey(variationKey); variation != nil {
				return variation
			}
		}
	}
	return nil
}
