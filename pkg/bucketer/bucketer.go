package bucketer

import (
	"log/slog"
	"math"

	"github.com/twmb/murmur3"

	"github.com/dmitrymomot/flagkit/pkg/datafile"
)

const (
	// maxTrafficValue is the size of the bucket space; bucket values fall in
	// [0, maxTrafficValue).
	maxTrafficValue = 10000

	// hashSeed is the murmur3 seed shared by every Optimizely SDK. Changing
	// it would silently re-bucket all users.
	hashSeed = 1

	maxHashValue = float64(1) * (1 << 32)
)

// Bucketer maps a bucketing id to variations through deterministic hashing
// and traffic-allocation range walking. It holds no mutable state.
type Bucketer struct {
	log *slog.Logger
}

// New creates a Bucketer. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Bucketer {
	if log == nil {
		log = slog.Default()
	}
	return &Bucketer{log: log}
}

// MakeHashID concatenates the bucketing id with an entity id to form the
// hash input.
func MakeHashID(bucketingID, entityID string) string {
	return bucketingID + entityID
}

// GenerateBucketValue hashes the id to a stable pseudo-random value in
// [0, 10000). The transform is byte-for-byte compatible with the other
// Optimizely SDKs.
func GenerateBucketValue(hashID string) int {
	hash := murmur3.SeedSum32(hashSeed, []byte(hashID))
	ratio := float64(hash) / maxHashValue
	return int(math.Floor(ratio * maxTrafficValue))
}

// allocateTraffic walks the cumulative ranges in order and returns the first
// entity whose endOfRange exceeds the bucket value. Values at or beyond the
// last range's bound match nothing.
func allocateTraffic(allocations []datafile.TrafficAllocation, bucketValue int) (string, bool) {
	for _, allocation := range allocations {
		if bucketValue < allocation.EndOfRange {
			return allocation.EntityID, true
		}
	}
	return "", false
}

// BucketToEntityID hashes (bucketingID, entityID) and resolves the bucket
// value against the given traffic allocation. Returns false when the value
// lands in an unallocated gap or the allocation is empty.
func (b *Bucketer) BucketToEntityID(bucketingID, entityID string, allocations []datafile.TrafficAllocation) (string, bool) {
	bucketValue := GenerateBucketValue(MakeHashID(bucketingID, entityID))
	b.log.Debug("assigned bucket value", "bucketingId", bucketingID, "entityId", entityID, "bucketValue", bucketValue)

	if len(allocations) == 0 {
		return "", false
	}
	return allocateTraffic(allocations, bucketValue)
}

// BucketToVariation buckets into one of the experiment's own variations.
func (b *Bucketer) BucketToVariation(experiment *datafile.Experiment, bucketingID string) *datafile.Variation {
	variationID, ok := b.BucketToEntityID(bucketingID, experiment.ID, experiment.TrafficAllocation)
	if !ok {
		return nil
	}

	variation := experiment.Variation(variationID)
	if variation == nil {
		b.log.Error("bucketed into unknown variation", "experimentKey", experiment.Key, "variationId", variationID)
		return nil
	}
	return variation
}

// BucketToExperiment resolves which member of a random group the user
// belongs to, using the group's own traffic allocation (entity ids are
// experiment ids). Overlapping groups need no group-level bucketing and
// always return nil.
func (b *Bucketer) BucketToExperiment(config *datafile.ProjectConfig, group *datafile.Group, bucketingID string) *datafile.Experiment {
	if group.Policy != datafile.PolicyRandom {
		return nil
	}

	experimentID, ok := b.BucketToEntityID(bucketingID, group.ID, group.TrafficAllocation)
	if !ok {
		return nil
	}

	experiment := config.ExperimentByID(experimentID)
	if experiment == nil {
		b.log.Error("group bucketed into unknown experiment", "groupId", group.ID, "experimentId", experimentID)
		return nil
	}
	return experiment
}

// BucketExperiment is the top-level entry: it enforces mutual exclusion for
// random groups before bucketing into the experiment's variations. A user
// group-bucketed into a sibling experiment is excluded and gets nil.
func (b *Bucketer) BucketExperiment(config *datafile.ProjectConfig, experiment *datafile.Experiment, bucketingID string) *datafile.Variation {
	if group := config.GroupForExperiment(experiment.ID); group != nil && group.Policy == datafile.PolicyRandom {
		mutexExperiment := b.BucketToExperiment(config, group, bucketingID)
		if mutexExperiment == nil || mutexExperiment.ID != experiment.ID {
			b.log.Debug("user not bucketed into experiment in group",
				"bucketingId", bucketingID, "experimentKey", experiment.Key, "groupId", group.ID)
			return nil
		}
		b.log.Debug("user bucketed into experiment in group",
			"bucketingId", bucketingID, "experimentKey", experiment.Key, "groupId", group.ID)
	}

	return b.BucketToVariation(experiment, bucketingID)
}

// BucketHoldout buckets against a holdout's own traffic allocation. Holdouts
// never belong to groups, so there is no mutual-exclusion step.
func (b *Bucketer) BucketHoldout(holdout *datafile.Holdout, bucketingID string) *datafile.Variation {
	variationID, ok := b.BucketToEntityID(bucketingID, holdout.ID, holdout.TrafficAllocation)
	if !ok {
		return nil
	}

	variation := holdout.Variation(variationID)
	if variation == nil {
		b.log.Error("bucketed into unknown holdout variation", "holdoutKey", holdout.Key, "variationId", variationID)
		return nil
	}
	return variation
}
