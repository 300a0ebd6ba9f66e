package datafile

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync/atomic"
)

// ProjectConfig is an immutable snapshot of a decoded datafile with lookup
// indexes. A snapshot is never mutated after construction; config refreshes
// publish a whole new snapshot through a Holder.
type ProjectConfig struct {
	Project Project
	Region  Region

	experimentsByID  map[string]*Experiment
	experimentsByKey map[string]*Experiment
	groupByExpID     map[string]*Group
	flagsByKey       map[string]*FeatureFlag
	rolloutsByID     map[string]*Rollout
	attributesByID   map[string]*Attribute
	attributesByKey  map[string]*Attribute
	eventsByKey      map[string]*Event
	holdoutsByID     map[string]*Holdout
	holdoutsForFlag  map[string][]*Holdout
}

// Parse decodes datafile bytes into a ProjectConfig snapshot.
func Parse(data []byte) (*ProjectConfig, error) {
	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatafile, err)
	}
	return NewProjectConfig(project), nil
}

// NewProjectConfig builds the lookup indexes for a decoded project.
func NewProjectConfig(project Project) *ProjectConfig {
	c := &ProjectConfig{
		Project:          project,
		Region:           ParseRegion(project.Region),
		experimentsByID:  make(map[string]*Experiment),
		experimentsByKey: make(map[string]*Experiment),
		groupByExpID:     make(map[string]*Group),
		flagsByKey:       make(map[string]*FeatureFlag),
		rolloutsByID:     make(map[string]*Rollout),
		attributesByID:   make(map[string]*Attribute),
		attributesByKey:  make(map[string]*Attribute),
		eventsByKey:      make(map[string]*Event),
		holdoutsByID:     make(map[string]*Holdout),
		holdoutsForFlag:  make(map[string][]*Holdout),
	}

	for i := range c.Project.Experiments {
		exp := &c.Project.Experiments[i]
		c.experimentsByID[exp.ID] = exp
		c.experimentsByKey[exp.Key] = exp
	}
	// Group member experiments are declared inline in the datafile; index
	// them alongside top-level experiments and remember their group.
	for i := range c.Project.Groups {
		group := &c.Project.Groups[i]
		for j := range group.Experiments {
			exp := &group.Experiments[j]
			if _, ok := c.experimentsByID[exp.ID]; !ok {
				c.experimentsByID[exp.ID] = exp
				c.experimentsByKey[exp.Key] = exp
			}
			c.groupByExpID[exp.ID] = group
		}
	}
	for i := range c.Project.FeatureFlags {
		flag := &c.Project.FeatureFlags[i]
		c.flagsByKey[flag.Key] = flag
	}
	for i := range c.Project.Rollouts {
		rollout := &c.Project.Rollouts[i]
		c.rolloutsByID[rollout.ID] = rollout
	}
	for i := range c.Project.Attributes {
		attr := &c.Project.Attributes[i]
		c.attributesByID[attr.ID] = attr
		c.attributesByKey[attr.Key] = attr
	}
	for i := range c.Project.Events {
		ev := &c.Project.Events[i]
		c.eventsByKey[ev.Key] = ev
	}
	for i := range c.Project.Holdouts {
		c.holdoutsByID[c.Project.Holdouts[i].ID] = &c.Project.Holdouts[i]
	}
	c.indexHoldouts()

	return c
}

// indexHoldouts precomputes the applicable holdouts per flag id: global
// holdouts always apply; a holdout with includedFlags applies only to those
// flags; a holdout with excludedFlags applies to every flag not listed.
func (c *ProjectConfig) indexHoldouts() {
	var global, others []*Holdout
	included := make(map[string][]*Holdout)
	excluded := make(map[string][]*Holdout)

	for i := range c.Project.Holdouts {
		h := &c.Project.Holdouts[i]
		switch {
		case len(h.IncludedFlags) == 0 && len(h.ExcludedFlags) == 0:
			global = append(global, h)
		case len(h.IncludedFlags) > 0:
			for _, flagID := range h.IncludedFlags {
				included[flagID] = append(included[flagID], h)
			}
		default:
			others = append(others, h)
			for _, flagID := range h.ExcludedFlags {
				excluded[flagID] = append(excluded[flagID], h)
			}
		}
	}

	for i := range c.Project.FeatureFlags {
		flagID := c.Project.FeatureFlags[i].ID

		var applicable []*Holdout
		applicable = append(applicable, global...)
		if inc := included[flagID]; len(inc) > 0 {
			applicable = append(applicable, inc...)
		} else {
			exc := excluded[flagID]
			for _, h := range others {
				if !slices.Contains(exc, h) {
					applicable = append(applicable, h)
				}
			}
		}
		c.holdoutsForFlag[flagID] = applicable
	}
}

// ExperimentByID returns the experiment with the given id, or nil.
func (c *ProjectConfig) ExperimentByID(id string) *Experiment {
	return c.experimentsByID[id]
}

// ExperimentByKey returns the experiment with the given key, or nil.
func (c *ProjectConfig) ExperimentByKey(key string) *Experiment {
	return c.experimentsByKey[key]
}

// GroupForExperiment returns the group containing the experiment, or nil.
func (c *ProjectConfig) GroupForExperiment(experimentID string) *Group {
	return c.groupByExpID[experimentID]
}

// FeatureFlagByKey returns the flag with the given key, or nil.
func (c *ProjectConfig) FeatureFlagByKey(key string) *FeatureFlag {
	return c.flagsByKey[key]
}

// RolloutByID returns the rollout with the given id, or nil.
func (c *ProjectConfig) RolloutByID(id string) *Rollout {
	return c.rolloutsByID[id]
}

// AttributeByID returns the attribute with the given id, or nil.
func (c *ProjectConfig) AttributeByID(id string) *Attribute {
	return c.attributesByID[id]
}

// AttributeByKey returns the attribute with the given key, or nil.
func (c *ProjectConfig) AttributeByKey(key string) *Attribute {
	return c.attributesByKey[key]
}

// EventByKey returns the conversion event with the given key, or nil.
func (c *ProjectConfig) EventByKey(key string) *Event {
	return c.eventsByKey[key]
}

// HoldoutByID returns the holdout with the given id, or nil.
func (c *ProjectConfig) HoldoutByID(id string) *Holdout {
	return c.holdoutsByID[id]
}

// HoldoutsForFlag returns the holdouts applicable to a flag id, in priority
// order (global first).
func (c *ProjectConfig) HoldoutsForFlag(flagID string) []*Holdout {
	return c.holdoutsForFlag[flagID]
}

// Holder publishes ProjectConfig snapshots with atomic replacement.
// In-flight decisions keep using the snapshot they captured; readers never
// observe a partially updated config.
type Holder struct {
	current atomic.Pointer[ProjectConfig]
}

// NewHolder creates a holder with an optional initial snapshot.
func NewHolder(config *ProjectConfig) *Holder {
	h := &Holder{}
	if config != nil {
		h.current.Store(config)
	}
	return h
}

// Get returns the current snapshot, or nil before the first Store.
func (h *Holder) Get() *ProjectConfig {
	return h.current.Load()
}

// Store atomically replaces the current snapshot.
func (h *Holder) Store(config *ProjectConfig) {
	h.current.Store(config)
}
