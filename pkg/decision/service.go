package decision

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/flagkit/pkg/cmab"
	"github.com/dmitrymomot/flagkit/pkg/datafile"
	"github.com/dmitrymomot/flagkit/pkg/userprofile"
)

// cmabDummyEntityID is the single allocation entity for CMAB traffic
// gating: the bandit picks the variation, bucketing only decides whether
// the user is in the bandit's traffic at all.
const cmabDummyEntityID = "$"

// ExperimentBucketer is the deterministic hashing dependency.
type ExperimentBucketer interface {
	BucketExperiment(config *datafile.ProjectConfig, experiment *datafile.Experiment, bucketingID string) *datafile.Variation
	BucketHoldout(holdout *datafile.Holdout, bucketingID string) *datafile.Variation
	BucketToEntityID(bucketingID, entityID string, allocations []datafile.TrafficAllocation) (string, bool)
}

// CmabService fetches bandit decisions for CMAB experiments.
type CmabService interface {
	GetDecision(ctx context.Context, config *datafile.ProjectConfig, userID string, attributes map[string]any, ruleID string, opts cmab.Options) (cmab.Decision, error)
}

// AudienceEvaluator evaluates audience conditions against user attributes.
// Conditions are an opaque boolean-expression tree resolved against the
// config's audience definitions.
type AudienceEvaluator interface {
	Evaluate(config *datafile.ProjectConfig, conditions json.RawMessage, audienceIDs []string, attributes map[string]any) (bool, error)
}

// AudienceEvaluatorFunc adapts a function to AudienceEvaluator.
type AudienceEvaluatorFunc func(config *datafile.ProjectConfig, conditions json.RawMessage, audienceIDs []string, attributes map[string]any) (bool, error)

func (f AudienceEvaluatorFunc) Evaluate(config *datafile.ProjectConfig, conditions json.RawMessage, audienceIDs []string, attributes map[string]any) (bool, error) {
	return f(config, conditions, audienceIDs, attributes)
}

// ExperimentDecision is the outcome of resolving one experiment rule.
type ExperimentDecision struct {
	Variation *datafile.Variation
	// CmabUUID links a bandit-chosen variation back to its prediction
	// request; empty for hash-bucketed decisions.
	CmabUUID string
}

type forcedVariationKey struct {
	experimentKey string
	userID        string
}

// Service resolves users into variations through the decide pipeline.
type Service struct {
	bucketer ExperimentBucketer
	cmab     CmabService
	profiles userprofile.Service
	audience AudienceEvaluator
	log      *slog.Logger

	forcedMu         sync.RWMutex
	forcedVariations map[forcedVariationKey]string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCmabService wires the bandit decision dependency. Without it, CMAB
// experiments are skipped with a recorded reason.
func WithCmabService(c CmabService) ServiceOption {
	return func(s *Service) {
		s.cmab = c
	}
}

// WithUserProfileService enables sticky bucketing.
func WithUserProfileService(ups userprofile.Service) ServiceOption {
	return func(s *Service) {
		s.profiles = ups
	}
}

// WithAudienceEvaluator replaces the default evaluator. The default admits
// every user, matching the behavior of a project with no audiences.
func WithAudienceEvaluator(e AudienceEvaluator) ServiceOption {
	return func(s *Service) {
		if e != nil {
			s.audience = e
		}
	}
}

// WithLogger sets the service's logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a decision service over the given bucketer.
func NewService(bucketer ExperimentBucketer, opts ...ServiceOption) *Service {
	s := &Service{
		bucketer: bucketer,
		audience: AudienceEvaluatorFunc(func(*datafile.ProjectConfig, json.RawMessage, []string, map[string]any) (bool, error) {
			return true, nil
		}),
		log:              slog.Default(),
		forcedVariations: make(map[forcedVariationKey]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetForcedVariation pins a user to a variation of an experiment, bypassing
// the whole pipeline for that experiment. An empty variation key clears the
// pin. Returns false for an unknown variation key.
func (s *Service) SetForcedVariation(config *datafile.ProjectConfig, experimentKey, userID, variationKey string) bool {
	key := forcedVariationKey{experimentKey: experimentKey, userID: userID}

	if variationKey == "" {
		s.forcedMu.Lock()
		delete(s.forcedVariations, key)
		s.forcedMu.Unlock()
		return true
	}

	experiment := config.ExperimentByKey(experimentKey)
	if experiment == nil || experiment.VariationByKey(variationKey) == nil {
		return false
	}

	s.forcedMu.Lock()
	s.forcedVariations[key] = variationKey
	s.forcedMu.Unlock()
	return true
}

// GetForcedVariation returns the pinned variation for a user and
// experiment, or nil.
func (s *Service) GetForcedVariation(config *datafile.ProjectConfig, experimentKey, userID string) *datafile.Variation {
	s.forcedMu.RLock()
	variationKey, ok := s.forcedVariations[forcedVariationKey{experimentKey: experimentKey, userID: userID}]
	s.forcedMu.RUnlock()
	if !ok {
		return nil
	}

	experiment := config.ExperimentByKey(experimentKey)
	if experiment == nil {
		return nil
	}
	return experiment.VariationByKey(variationKey)
}

// GetVariation resolves a user against a single experiment. A nil Variation
// in the result means the user got no assignment; the reasons collector
// explains why.
func (s *Service) GetVariation(ctx context.Context, config *datafile.ProjectConfig, experiment *datafile.Experiment, userID string, attributes map[string]any, opts Options, reasons *Reasons) ExperimentDecision {
	tracker := userprofile.NewTracker(s.profilesUnlessIgnored(opts), userID, s.log)
	decision := s.getVariation(ctx, config, experiment, userID, attributes, opts, tracker, reasons)
	tracker.Save()
	return decision
}

func (s *Service) profilesUnlessIgnored(opts Options) userprofile.Service {
	if opts.IgnoreUserProfileService {
		return nil
	}
	return s.profiles
}

// getVariation runs the per-experiment pipeline against a shared profile
// tracker so a multi-rule flag decision does one profile load and one save.
func (s *Service) getVariation(ctx context.Context, config *datafile.ProjectConfig, experiment *datafile.Experiment, userID string, attributes map[string]any, opts Options, tracker *userprofile.Tracker, reasons *Reasons) ExperimentDecision {
	bucketingID := s.bucketingID(userID, attributes)

	if !experiment.IsActivated() {
		s.log.Info("experiment not running", "experimentKey", experiment.Key)
		reasons.AddInfo("experiment %q is not running", experiment.Key)
		return ExperimentDecision{}
	}

	// Forced variation pinned through the API wins over everything.
	if variation := s.GetForcedVariation(config, experiment.Key, userID); variation != nil {
		reasons.AddInfo("user %q is forced into variation %q", userID, variation.Key)
		return ExperimentDecision{Variation: variation}
	}

	// Datafile whitelist. An entry pointing at an unknown variation is
	// ignored and the pipeline continues.
	if variationKey, ok := experiment.ForcedVariations[userID]; ok {
		if variation := experiment.VariationByKey(variationKey); variation != nil {
			s.log.Info("user whitelisted into variation", "userId", userID, "variationKey", variationKey)
			reasons.AddInfo("user %q is whitelisted into variation %q", userID, variationKey)
			return ExperimentDecision{Variation: variation}
		}
		s.log.Error("whitelisted variation not found", "userId", userID, "variationKey", variationKey)
		reasons.AddInfo("whitelisted variation %q for user %q is invalid", variationKey, userID)
	}

	// Sticky bucketing: a stored assignment still valid in this config is
	// reused without re-bucketing.
	if !opts.IgnoreUserProfileService {
		if variationID := tracker.VariationID(experiment.ID); variationID != "" {
			if variation := experiment.Variation(variationID); variation != nil {
				s.log.Info("returning sticky variation from user profile",
					"userId", userID, "experimentKey", experiment.Key, "variationKey", variation.Key)
				reasons.AddInfo("user %q has sticky variation %q for experiment %q", userID, variation.Key, experiment.Key)
				return ExperimentDecision{Variation: variation}
			}
		}
	}

	if !s.meetsAudienceConditions(config, experiment.AudienceConditions, experiment.AudienceIDs, attributes, experiment.Key, reasons) {
		s.log.Info("user not in experiment audience", "userId", userID, "experimentKey", experiment.Key)
		reasons.AddInfo("user %q does not meet conditions for experiment %q", userID, experiment.Key)
		return ExperimentDecision{}
	}

	if experiment.Cmab != nil {
		return s.getVariationFromCmab(ctx, config, experiment, userID, bucketingID, attributes, opts, reasons)
	}

	variation := s.bucketer.BucketExperiment(config, experiment, bucketingID)
	if variation == nil {
		reasons.AddInfo("user %q is in no variation of experiment %q", userID, experiment.Key)
		return ExperimentDecision{}
	}

	reasons.AddInfo("user %q is bucketed into variation %q of experiment %q", userID, variation.Key, experiment.Key)
	if !opts.IgnoreUserProfileService {
		tracker.Update(experiment.ID, variation.ID)
	}
	return ExperimentDecision{Variation: variation}
}

// getVariationFromCmab gates the user into the bandit's traffic slice, then
// asks the prediction service for the variation. Any failure skips this
// rule; the flag falls through to the next one.
func (s *Service) getVariationFromCmab(ctx context.Context, config *datafile.ProjectConfig, experiment *datafile.Experiment, userID, bucketingID string, attributes map[string]any, opts Options, reasons *Reasons) ExperimentDecision {
	allocations := []datafile.TrafficAllocation{{
		EntityID:   cmabDummyEntityID,
		EndOfRange: experiment.Cmab.TrafficAllocation,
	}}
	if _, ok := s.bucketer.BucketToEntityID(bucketingID, experiment.ID, allocations); !ok {
		reasons.AddInfo("user %q is not in the cmab traffic of experiment %q", userID, experiment.Key)
		return ExperimentDecision{}
	}

	if s.cmab == nil {
		s.log.Error("cmab experiment skipped, no cmab service configured", "experimentKey", experiment.Key)
		reasons.AddInfo("cmab experiment %q skipped, no cmab service configured", experiment.Key)
		return ExperimentDecision{}
	}

	cmabDecision, err := s.cmab.GetDecision(ctx, config, userID, attributes, experiment.ID, cmab.Options{
		IgnoreCache:         opts.IgnoreCmabCache,
		ResetCache:          opts.ResetCmabCache,
		InvalidateUserCache: opts.InvalidateUserCmabCache,
	})
	if err != nil {
		s.log.Error("cmab decision failed, skipping experiment", "experimentKey", experiment.Key, "error", err)
		reasons.AddInfo("cmab decision failed for experiment %q: %v", experiment.Key, err)
		return ExperimentDecision{}
	}

	variation := experiment.Variation(cmabDecision.VariationID)
	if variation == nil {
		s.log.Error("cmab returned unknown variation", "experimentKey", experiment.Key, "variationId", cmabDecision.VariationID)
		reasons.AddInfo("cmab returned unknown variation %q for experiment %q", cmabDecision.VariationID, experiment.Key)
		return ExperimentDecision{}
	}

	reasons.AddInfo("user %q is assigned variation %q of cmab experiment %q", userID, variation.Key, experiment.Key)
	return ExperimentDecision{Variation: variation, CmabUUID: cmabDecision.CmabUUID}
}

// meetsAudienceConditions admits the user when the rule has no audience at
// all; evaluation errors fail closed.
func (s *Service) meetsAudienceConditions(config *datafile.ProjectConfig, conditions json.RawMessage, audienceIDs []string, attributes map[string]any, loggingKey string, reasons *Reasons) bool {
	if len(conditions) == 0 && len(audienceIDs) == 0 {
		return true
	}

	ok, err := s.audience.Evaluate(config, conditions, audienceIDs, attributes)
	if err != nil {
		s.log.Info("audience evaluation failed", "key", loggingKey, "error", err)
		reasons.AddInfo("audience evaluation failed for %q: %v", loggingKey, err)
		return false
	}
	return ok
}

func (s *Service) bucketingID(userID string, attributes map[string]any) string {
	if override, ok := attributes[BucketingIDAttribute].(string); ok && override != "" {
		return override
	}
	return userID
}
