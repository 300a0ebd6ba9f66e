package bucketer_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/bucketer"
	"github.com/dmitrymomot/flagkit/pkg/datafile"
)

// Published cross-SDK conformance fixtures: every Optimizely SDK must
// produce exactly these bucket values.
func TestGenerateBucketValue_Conformance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bucketingID string
		entityID    string
		want        int
	}{
		{"ppid1", "1886780721", 5254},
		{"ppid2", "1886780721", 4299},
		{"ppid2", "1886780722", 2434},
		{"ppid3", "1886780721", 5439},
		{"a very very very very very very very very very very very very very very very long ppd string", "1886780721", 6128},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.bucketingID, tt.entityID), func(t *testing.T) {
			t.Parallel()
			hashID := bucketer.MakeHashID(tt.bucketingID, tt.entityID)
			assert.Equal(t, tt.want, bucketer.GenerateBucketValue(hashID))
		})
	}
}

func TestBucketToEntityID_RangeWalk(t *testing.T) {
	t.Parallel()

	b := bucketer.New(nil)

	t.Run("full range matches every bucket value", func(t *testing.T) {
		t.Parallel()
		allocations := []datafile.TrafficAllocation{{EntityID: "X", EndOfRange: 10000}}

		for _, id := range []string{"ppid1", "ppid2", "ppid3", "a", "zzzz"} {
			entityID, ok := b.BucketToEntityID(id, "1886780721", allocations)
			require.True(t, ok)
			assert.Equal(t, "X", entityID)
		}
	})

	t.Run("zero range matches nothing", func(t *testing.T) {
		t.Parallel()
		allocations := []datafile.TrafficAllocation{{EntityID: "X", EndOfRange: 0}}

		for _, id := range []string{"ppid1", "ppid2", "ppid3", "a", "zzzz"} {
			_, ok := b.BucketToEntityID(id, "1886780721", allocations)
			assert.False(t, ok)
		}
	})

	t.Run("boundary is exclusive", func(t *testing.T) {
		t.Parallel()
		// ppid1/1886780721 hashes to exactly 5254; a range ending there must
		// not match, one ending just past it must.
		_, ok := b.BucketToEntityID("ppid1", "1886780721", []datafile.TrafficAllocation{{EntityID: "X", EndOfRange: 5254}})
		assert.False(t, ok)

		entityID, ok := b.BucketToEntityID("ppid1", "1886780721", []datafile.TrafficAllocation{{EntityID: "X", EndOfRange: 5255}})
		require.True(t, ok)
		assert.Equal(t, "X", entityID)
	})

	t.Run("cumulative ranges pick the right slot", func(t *testing.T) {
		t.Parallel()
		allocations := []datafile.TrafficAllocation{
			{EntityID: "low", EndOfRange: 3000},
			{EntityID: "mid", EndOfRange: 6000},
			{EntityID: "high", EndOfRange: 10000},
		}

		// ppid2/1886780721 -> 4299 lands in the mid slot.
		entityID, ok := b.BucketToEntityID("ppid2", "1886780721", allocations)
		require.True(t, ok)
		assert.Equal(t, "mid", entityID)

		// ppid2/1886780722 -> 2434 lands in the low slot.
		entityID, ok = b.BucketToEntityID("ppid2", "1886780722", allocations)
		require.True(t, ok)
		assert.Equal(t, "low", entityID)
	})

	t.Run("empty allocation matches nothing", func(t *testing.T) {
		t.Parallel()
		_, ok := b.BucketToEntityID("ppid1", "1886780721", nil)
		assert.False(t, ok)
	})
}

func newGroupConfig(policy datafile.GroupPolicy) *datafile.ProjectConfig {
	expA := datafile.Experiment{
		ID: "1886780721", Key: "exp_a", Status: datafile.StatusRunning,
		Variations:        []datafile.Variation{{ID: "var_a1", Key: "a1"}},
		TrafficAllocation: []datafile.TrafficAllocation{{EntityID: "var_a1", EndOfRange: 10000}},
	}
	expB := datafile.Experiment{
		ID: "1886780722", Key: "exp_b", Status: datafile.StatusRunning,
		Variations:        []datafile.Variation{{ID: "var_b1", Key: "b1"}},
		TrafficAllocation: []datafile.TrafficAllocation{{EntityID: "var_b1", EndOfRange: 10000}},
	}
	return datafile.NewProjectConfig(datafile.Project{
		Groups: []datafile.Group{{
			ID:     "group_1",
			Policy: policy,
			TrafficAllocation: []datafile.TrafficAllocation{
				{EntityID: "1886780721", EndOfRange: 5000},
				{EntityID: "1886780722", EndOfRange: 10000},
			},
			Experiments: []datafile.Experiment{expA, expB},
		}},
	})
}

func TestBucketExperiment_MutualExclusion(t *testing.T) {
	t.Parallel()

	b := bucketer.New(nil)
	config := newGroupConfig(datafile.PolicyRandom)

	expA := config.ExperimentByKey("exp_a")
	expB := config.ExperimentByKey("exp_b")
	require.NotNil(t, expA)
	require.NotNil(t, expB)

	// For any bucketing id, at most one of the two sibling experiments may
	// produce a variation.
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("user-%d", i)
		varA := b.BucketExperiment(config, expA, id)
		varB := b.BucketExperiment(config, expB, id)
		assert.False(t, varA != nil && varB != nil,
			"user %s bucketed into both members of a random group", id)
	}
}

func TestBucketExperiment_OverlappingGroup(t *testing.T) {
	t.Parallel()

	b := bucketer.New(nil)
	config := newGroupConfig(datafile.PolicyOverlapping)

	expA := config.ExperimentByKey("exp_a")
	expB := config.ExperimentByKey("exp_b")

	// Overlapping groups do not exclude: both experiments bucket the user
	// independently and both have 100% allocations.
	varA := b.BucketExperiment(config, expA, "user-1")
	varB := b.BucketExperiment(config, expB, "user-1")
	assert.NotNil(t, varA)
	assert.NotNil(t, varB)
}

func TestBucketHoldout(t *testing.T) {
	t.Parallel()

	b := bucketer.New(nil)

	holdout := &datafile.Holdout{
		ID: "holdout_1", Key: "global_holdout", Status: datafile.HoldoutStatusRunning,
		Variations:        []datafile.Variation{{ID: "ho_var", Key: "holdout_variation"}},
		TrafficAllocation: []datafile.TrafficAllocation{{EntityID: "ho_var", EndOfRange: 10000}},
	}

	variation := b.BucketHoldout(holdout, "user-1")
	require.NotNil(t, variation)
	assert.Equal(t, "holdout_variation", variation.Key)

	t.Run("no allocation gap", func(t *testing.T) {
		t.Parallel()
		empty := &datafile.Holdout{ID: "holdout_2", Key: "empty", Status: datafile.HoldoutStatusRunning}
		assert.Nil(t, b.BucketHoldout(empty, "user-1"))
	})
}

func TestBucketToVariation_UnknownVariation(t *testing.T) {
	t.Parallel()

	b := bucketer.New(nil)
	exp := &datafile.Experiment{
		ID: "exp_1", Key: "exp",
		Variations:        []datafile.Variation{{ID: "known", Key: "known"}},
		TrafficAllocation: []datafile.TrafficAllocation{{EntityID: "unknown", EndOfRange: 10000}},
	}

	assert.Nil(t, b.BucketToVariation(exp, "user-1"), "allocation pointing at a missing variation id yields nil")
}
