package decision_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/datafile"
	"github.com/dmitrymomot/flagkit/pkg/decision"
)

func boolPtr(b bool) *bool { return &b }

// flagConfig builds a flag with one gapped and one always-bucketing
// experiment plus a three-tier rollout (gold tier, silver tier with a
// traffic gap, everyone-else).
func flagConfig(holdouts ...datafile.Holdout) *datafile.ProjectConfig {
	return datafile.NewProjectConfig(datafile.Project{
		Experiments: []datafile.Experiment{
			{
				ID:                "exp-first",
				Key:               "first_experiment",
				Status:            datafile.StatusRunning,
				LayerID:           "layer-1",
				Variations:        []datafile.Variation{{ID: "var-f", Key: "first_on", FeatureEnabled: boolPtr(true)}},
				TrafficAllocation: emptyAllocation("var-f"),
			},
			{
				ID:                "exp-second",
				Key:               "second_experiment",
				Status:            datafile.StatusRunning,
				LayerID:           "layer-2",
				Variations:        []datafile.Variation{{ID: "var-s", Key: "second_on", FeatureEnabled: boolPtr(true)}},
				TrafficAllocation: fullAllocation("var-s"),
			},
		},
		Rollouts: []datafile.Rollout{{
			ID: "rollout-1",
			Experiments: []datafile.Experiment{
				{
					ID:                "rule-gold",
					Key:               "gold_tier",
					Status:            datafile.StatusRunning,
					AudienceIDs:       []string{"aud-gold"},
					Variations:        []datafile.Variation{{ID: "var-gold", Key: "gold_on", FeatureEnabled: boolPtr(true)}},
					TrafficAllocation: fullAllocation("var-gold"),
				},
				{
					ID:                "rule-silver",
					Key:               "silver_tier",
					Status:            datafile.StatusRunning,
					AudienceIDs:       []string{"aud-silver"},
					Variations:        []datafile.Variation{{ID: "var-silver", Key: "silver_on", FeatureEnabled: boolPtr(true)}},
					TrafficAllocation: emptyAllocation("var-silver"),
				},
				{
					ID:                "rule-everyone",
					Key:               "everyone_else",
					Status:            datafile.StatusRunning,
					Variations:        []datafile.Variation{{ID: "var-else", Key: "else_off", FeatureEnabled: boolPtr(false)}},
					TrafficAllocation: fullAllocation("var-else"),
				},
			},
		}},
		FeatureFlags: []datafile.FeatureFlag{{
			ID:            "flag-1",
			Key:           "my_flag",
			RolloutID:     "rollout-1",
			ExperimentIDs: []string{"exp-first", "exp-second"},
		}},
		Holdouts: holdouts,
	})
}

func TestGetVariationForFeature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("first bucketing experiment wins", func(t *testing.T) {
		t.Parallel()
		config := flagConfig()
		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, decision.Options{}, nil)

		assert.Equal(t, decision.SourceFeatureTest, d.Source)
		require.NotNil(t, d.Experiment)
		assert.Equal(t, "second_experiment", d.Experiment.Key)
		assert.Equal(t, "second_on", d.VariationKey())
		assert.True(t, d.Enabled())
	})

	t.Run("rollout tier by audience", func(t *testing.T) {
		t.Parallel()
		config := flagConfig()
		flag := config.FeatureFlagByKey("my_flag")

		// Remove the experiments so the rollout decides.
		project := config.Project
		project.FeatureFlags[0].ExperimentIDs = nil
		config = datafile.NewProjectConfig(project)
		flag = config.FeatureFlagByKey("my_flag")

		d := newService().GetVariationForFeature(ctx, config, flag, "user-1", map[string]any{"segment": "gold"}, decision.Options{}, nil)
		assert.Equal(t, decision.SourceRollout, d.Source)
		assert.Equal(t, "gold_tier", d.RuleKey())
		assert.True(t, d.Enabled())
	})

	t.Run("audience miss falls to next tier", func(t *testing.T) {
		t.Parallel()
		project := flagConfig().Project
		project.FeatureFlags[0].ExperimentIDs = nil
		config := datafile.NewProjectConfig(project)
		flag := config.FeatureFlagByKey("my_flag")

		d := newService().GetVariationForFeature(ctx, config, flag, "user-1", nil, decision.Options{}, nil)
		assert.Equal(t, decision.SourceRollout, d.Source)
		assert.Equal(t, "everyone_else", d.RuleKey())
		assert.False(t, d.Enabled(), "everyone-else variation has the feature off")
	})

	t.Run("tier traffic gap falls to everyone else not next tier", func(t *testing.T) {
		t.Parallel()
		project := flagConfig().Project
		project.FeatureFlags[0].ExperimentIDs = nil
		config := datafile.NewProjectConfig(project)
		flag := config.FeatureFlagByKey("my_flag")

		// Silver audience matches but the silver tier allocates no traffic;
		// the walk must jump to everyone-else, not re-try other tiers.
		d := newService().GetVariationForFeature(ctx, config, flag, "user-1", map[string]any{"segment": "silver"}, decision.Options{}, nil)
		assert.Equal(t, "everyone_else", d.RuleKey())
	})

	t.Run("unknown rollout id yields empty decision", func(t *testing.T) {
		t.Parallel()
		project := flagConfig().Project
		project.FeatureFlags[0].ExperimentIDs = nil
		project.FeatureFlags[0].RolloutID = "missing"
		config := datafile.NewProjectConfig(project)

		reasons := decision.NewReasons()
		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, decision.Options{}, reasons)
		assert.Nil(t, d.Variation)
		assert.False(t, d.Enabled())
		assert.NotEmpty(t, reasons.Items())
	})
}

func TestHoldoutDecisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	runningHoldout := datafile.Holdout{
		ID:                "ho-1",
		Key:               "global_holdout",
		Status:            datafile.HoldoutStatusRunning,
		Variations:        []datafile.Variation{{ID: "ho-var", Key: "holdout_control", FeatureEnabled: boolPtr(true)}},
		TrafficAllocation: fullAllocation("ho-var"),
	}

	t.Run("holdout supersedes experiments and rollout", func(t *testing.T) {
		t.Parallel()
		config := flagConfig(runningHoldout)
		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, decision.Options{}, nil)

		assert.Equal(t, decision.SourceHoldout, d.Source)
		assert.Equal(t, "global_holdout", d.RuleKey())
		assert.Equal(t, "holdout_control", d.VariationKey())
		assert.False(t, d.Enabled(), "holdout decisions always disable the flag")
	})

	t.Run("draft holdout skipped", func(t *testing.T) {
		t.Parallel()
		draft := runningHoldout
		draft.Status = datafile.HoldoutStatusDraft
		config := flagConfig(draft)

		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, decision.Options{}, nil)
		assert.Equal(t, decision.SourceFeatureTest, d.Source)
	})

	t.Run("holdout with traffic gap skipped", func(t *testing.T) {
		t.Parallel()
		gapped := runningHoldout
		gapped.TrafficAllocation = emptyAllocation("ho-var")
		config := flagConfig(gapped)

		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, decision.Options{}, nil)
		assert.Equal(t, decision.SourceFeatureTest, d.Source)
	})

	t.Run("excluded flag skips holdout", func(t *testing.T) {
		t.Parallel()
		excluded := runningHoldout
		excluded.ExcludedFlags = []string{"flag-1"}
		config := flagConfig(excluded)

		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, decision.Options{}, nil)
		assert.Equal(t, decision.SourceFeatureTest, d.Source)
	})

	t.Run("included holdout applies", func(t *testing.T) {
		t.Parallel()
		included := runningHoldout
		included.IncludedFlags = []string{"flag-1"}
		config := flagConfig(included)

		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, decision.Options{}, nil)
		assert.Equal(t, decision.SourceHoldout, d.Source)
	})

	t.Run("audience-gated holdout", func(t *testing.T) {
		t.Parallel()
		gated := runningHoldout
		gated.AudienceIDs = []string{"aud-gold"}
		config := flagConfig(gated)
		flag := config.FeatureFlagByKey("my_flag")
		svc := newService()

		d := svc.GetVariationForFeature(ctx, config, flag, "user-1", map[string]any{"segment": "gold"}, decision.Options{}, nil)
		assert.Equal(t, decision.SourceHoldout, d.Source)

		d = svc.GetVariationForFeature(ctx, config, flag, "user-1", map[string]any{"segment": "bronze"}, decision.Options{}, nil)
		assert.Equal(t, decision.SourceFeatureTest, d.Source)
	})
}

func TestForcedDecisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("flag-scoped override", func(t *testing.T) {
		t.Parallel()
		config := flagConfig()
		opts := decision.Options{ForcedDecisions: map[decision.ForcedDecisionKey]string{
			{FlagKey: "my_flag"}: "first_on",
		}}

		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, opts, nil)
		assert.Equal(t, "first_on", d.VariationKey(), "override beats the traffic gap")
	})

	t.Run("rule-scoped override", func(t *testing.T) {
		t.Parallel()
		config := flagConfig()
		opts := decision.Options{ForcedDecisions: map[decision.ForcedDecisionKey]string{
			{FlagKey: "my_flag", RuleKey: "first_experiment"}: "first_on",
		}}

		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, opts, nil)
		require.NotNil(t, d.Experiment)
		assert.Equal(t, "first_experiment", d.Experiment.Key)
		assert.Equal(t, "first_on", d.VariationKey())
	})

	t.Run("invalid override ignored", func(t *testing.T) {
		t.Parallel()
		config := flagConfig()
		opts := decision.Options{ForcedDecisions: map[decision.ForcedDecisionKey]string{
			{FlagKey: "my_flag"}: "no_such_variation",
		}}

		reasons := decision.NewReasons()
		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, opts, reasons)
		assert.Equal(t, "second_on", d.VariationKey(), "normal pipeline decides")
		assert.NotEmpty(t, reasons.Items())
	})

	t.Run("rollout rule override", func(t *testing.T) {
		t.Parallel()
		project := flagConfig().Project
		project.FeatureFlags[0].ExperimentIDs = nil
		config := datafile.NewProjectConfig(project)
		opts := decision.Options{ForcedDecisions: map[decision.ForcedDecisionKey]string{
			{FlagKey: "my_flag", RuleKey: "silver_tier"}: "silver_on",
		}}

		d := newService().GetVariationForFeature(ctx, config, config.FeatureFlagByKey("my_flag"), "user-1", nil, opts, nil)
		assert.Equal(t, "silver_tier", d.RuleKey())
		assert.Equal(t, "silver_on", d.VariationKey())
	})
}
