package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/datafile"
	"github.com/dmitrymomot/flagkit/pkg/event"
)

func testConfig(region string) *datafile.ProjectConfig {
	return datafile.NewProjectConfig(datafile.Project{
		Revision:    "42",
		ProjectID:   "project-1",
		AccountID:   "account-1",
		AnonymizeIP: true,
		Region:      region,
		Experiments: []datafile.Experiment{{
			ID:      "exp-1",
			Key:     "experiment_a",
			Status:  datafile.StatusRunning,
			LayerID: "layer-1",
			Variations: []datafile.Variation{
				{ID: "var-1", Key: "variation_a"},
			},
		}},
		Attributes: []datafile.Attribute{
			{ID: "attr-1", Key: "browser"},
		},
		Events: []datafile.Event{
			{ID: "event-1", Key: "purchase"},
		},
	})
}

func fixedBuilder() *event.Builder {
	return event.NewBuilder(
		event.WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		event.WithUUIDSource(func() string { return "uuid-fixed" }),
	)
}

func decodeBody(t *testing.T, e event.EventForDispatch) event.BatchEvent {
	t.Helper()
	var batch event.BatchEvent
	require.NoError(t, json.Unmarshal(e.Body, &batch))
	return batch
}

func TestCreateImpressionEvent(t *testing.T) {
	t.Parallel()

	config := testConfig("US")
	experiment := config.ExperimentByKey("experiment_a")
	variation := experiment.Variation("var-1")

	metadata := event.DecisionMetadata{
		RuleType:     "feature-test",
		RuleKey:      "experiment_a",
		FlagKey:      "my_flag",
		VariationKey: "variation_a",
		Enabled:      true,
		CmabUUID:     "cmab-uuid-1",
	}

	e, err := fixedBuilder().CreateImpressionEvent(config, experiment, variation, "user-1", map[string]any{"browser": "firefox"}, metadata)
	require.NoError(t, err)
	assert.Equal(t, "https://logx.optimizely.com/v1/events", e.URL)

	batch := decodeBody(t, e)
	assert.Equal(t, "42", batch.Revision)
	assert.Equal(t, "account-1", batch.AccountID)
	assert.Equal(t, "project-1", batch.ProjectID)
	assert.Equal(t, event.ClientName, batch.ClientName)
	assert.True(t, batch.AnonymizeIP)
	assert.True(t, batch.EnrichDecisions)
	assert.Equal(t, "US", batch.Region)

	require.Len(t, batch.Visitors, 1)
	visitor := batch.Visitors[0]
	assert.Equal(t, "user-1", visitor.VisitorID)
	require.Len(t, visitor.Attributes, 1)
	assert.Equal(t, "attr-1", visitor.Attributes[0].EntityID)

	require.Len(t, visitor.Snapshots, 1)
	snapshot := visitor.Snapshots[0]
	require.Len(t, snapshot.Decisions, 1)
	assert.Equal(t, "var-1", snapshot.Decisions[0].VariationID)
	assert.Equal(t, "layer-1", snapshot.Decisions[0].CampaignID)
	assert.Equal(t, "exp-1", snapshot.Decisions[0].ExperimentID)
	assert.Equal(t, metadata, snapshot.Decisions[0].Metadata)

	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, "campaign_activated", snapshot.Events[0].Key)
	assert.Equal(t, "layer-1", snapshot.Events[0].EntityID)
	assert.Equal(t, int64(1700000000000), snapshot.Events[0].Timestamp)
	assert.Nil(t, snapshot.Events[0].Revenue)
	assert.Nil(t, snapshot.Events[0].Value)
}

func TestCreateImpressionEventRegionRouting(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		region  string
		wantURL string
		wantTag string
	}{
		{"US", "https://logx.optimizely.com/v1/events", "US"},
		{"EU", "https://eu.logx.optimizely.com/v1/events", "EU"},
		{"ZZ", "https://logx.optimizely.com/v1/events", "US"},
		{"", "https://logx.optimizely.com/v1/events", "US"},
	} {
		config := testConfig(tt.region)
		experiment := config.ExperimentByKey("experiment_a")

		e, err := fixedBuilder().CreateImpressionEvent(config, experiment, experiment.Variation("var-1"), "user-1", nil, event.DecisionMetadata{})
		require.NoError(t, err)
		assert.Equal(t, tt.wantURL, e.URL)
		assert.Equal(t, tt.wantTag, decodeBody(t, e).Region)
	}
}

func TestCreateConversionEvent(t *testing.T) {
	t.Parallel()

	t.Run("unknown event key", func(t *testing.T) {
		t.Parallel()
		_, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "nope", "user-1", nil, nil)
		require.ErrorIs(t, err, event.ErrUnknownEvent)
	})

	t.Run("numeric revenue and value round-trip", func(t *testing.T) {
		t.Parallel()
		tags := map[string]any{"revenue": 123, "value": 32.5, "category": "shoes"}

		e, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "purchase", "user-1", nil, tags)
		require.NoError(t, err)

		batch := decodeBody(t, e)
		require.Len(t, batch.Visitors, 1)
		require.Len(t, batch.Visitors[0].Snapshots, 1)
		snapshot := batch.Visitors[0].Snapshots[0]
		assert.Empty(t, snapshot.Decisions)

		require.Len(t, snapshot.Events, 1)
		ev := snapshot.Events[0]
		assert.Equal(t, "purchase", ev.Key)
		assert.Equal(t, "event-1", ev.EntityID)
		require.NotNil(t, ev.Revenue)
		assert.Equal(t, int64(123), *ev.Revenue)
		require.NotNil(t, ev.Value)
		assert.Equal(t, 32.5, *ev.Value)
		assert.Equal(t, "shoes", ev.Tags["category"])

		// Re-serializing the parsed event must preserve both fields exactly.
		again, err := json.Marshal(batch)
		require.NoError(t, err)
		var reparsed event.BatchEvent
		require.NoError(t, json.Unmarshal(again, &reparsed))
		assert.Equal(t, batch, reparsed)
	})

	t.Run("string revenue stays a tag", func(t *testing.T) {
		t.Parallel()
		e, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "purchase", "user-1", nil, map[string]any{"revenue": "foo"})
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(e.Body, &raw))
		visitors := raw["visitors"].([]any)
		snapshot := visitors[0].(map[string]any)["snapshots"].([]any)[0].(map[string]any)
		ev := snapshot["events"].([]any)[0].(map[string]any)

		_, hasRevenue := ev["revenue"]
		assert.False(t, hasRevenue, "non-numeric revenue must not be promoted")
		assert.Equal(t, "foo", ev["tags"].(map[string]any)["revenue"])
	})

	t.Run("float revenue truncates toward zero", func(t *testing.T) {
		t.Parallel()
		e, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "purchase", "user-1", nil, map[string]any{"revenue": 3.9})
		require.NoError(t, err)

		ev := decodeBody(t, e).Visitors[0].Snapshots[0].Events[0]
		require.NotNil(t, ev.Revenue)
		assert.Equal(t, int64(3), *ev.Revenue)
	})

	t.Run("integer value promotes to double", func(t *testing.T) {
		t.Parallel()
		e, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "purchase", "user-1", nil, map[string]any{"value": 32})
		require.NoError(t, err)

		ev := decodeBody(t, e).Visitors[0].Snapshots[0].Events[0]
		require.NotNil(t, ev.Value)
		assert.Equal(t, 32.0, *ev.Value)
	})

	t.Run("bool revenue not promoted", func(t *testing.T) {
		t.Parallel()
		e, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "purchase", "user-1", nil, map[string]any{"revenue": true})
		require.NoError(t, err)

		ev := decodeBody(t, e).Visitors[0].Snapshots[0].Events[0]
		assert.Nil(t, ev.Revenue)
		assert.Equal(t, true, ev.Tags["revenue"])
	})

	t.Run("unsupported tag types dropped", func(t *testing.T) {
		t.Parallel()
		tags := map[string]any{"ok": "yes", "bad": []string{"a"}, "worse": map[string]any{"x": 1}}
		e, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "purchase", "user-1", nil, tags)
		require.NoError(t, err)

		ev := decodeBody(t, e).Visitors[0].Snapshots[0].Events[0]
		assert.Equal(t, "yes", ev.Tags["ok"])
		assert.NotContains(t, ev.Tags, "bad")
		assert.NotContains(t, ev.Tags, "worse")
	})
}

func TestEventAttributes(t *testing.T) {
	t.Parallel()

	t.Run("unknown attributes dropped, reserved pass through", func(t *testing.T) {
		t.Parallel()
		attrs := map[string]any{
			"browser":          "firefox",
			"unknown":          "dropped",
			"$opt_bucketing_id": "override",
		}

		e, err := fixedBuilder().CreateConversionEvent(testConfig("US"), "purchase", "user-1", attrs, nil)
		require.NoError(t, err)

		got := decodeBody(t, e).Visitors[0].Attributes
		byKey := make(map[string]event.Attribute, len(got))
		for _, a := range got {
			byKey[a.Key] = a
		}
		require.Len(t, byKey, 2)
		assert.Equal(t, "attr-1", byKey["browser"].EntityID)
		assert.Equal(t, "$opt_bucketing_id", byKey["$opt_bucketing_id"].EntityID)
	})

	t.Run("bot filtering attribute appended", func(t *testing.T) {
		t.Parallel()
		botFiltering := true
		project := testConfig("US").Project
		project.BotFiltering = &botFiltering
		config := datafile.NewProjectConfig(project)

		e, err := fixedBuilder().CreateConversionEvent(config, "purchase", "user-1", nil, nil)
		require.NoError(t, err)

		got := decodeBody(t, e).Visitors[0].Attributes
		require.Len(t, got, 1)
		assert.Equal(t, "$opt_bot_filtering", got[0].Key)
		assert.Equal(t, true, got[0].Value)
	})
}
