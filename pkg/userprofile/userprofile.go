package userprofile

import (
	"log/slog"
	"sync"
)

// Decision is a persisted variation assignment for one experiment.
type Decision struct {
	VariationID string `json:"variation_id"`
}

// Profile is a user's saved bucketing state: experiment id to assigned
// variation.
type Profile struct {
	UserID              string              `json:"user_id"`
	ExperimentBucketMap map[string]Decision `json:"experiment_bucket_map"`
}

// NewProfile creates an empty profile for a user.
func NewProfile(userID string) Profile {
	return Profile{
		UserID:              userID,
		ExperimentBucketMap: make(map[string]Decision),
	}
}

// VariationID returns the stored variation for an experiment, or "".
func (p Profile) VariationID(experimentID string) string {
	return p.ExperimentBucketMap[experimentID].VariationID
}

// Service persists user profiles for sticky bucketing. Implementations may
// be backed by anything from process memory to a remote store; the decision
// service treats every error as non-fatal.
type Service interface {
	// Lookup returns the stored profile for a user. The second return is
	// false when no profile exists.
	Lookup(userID string) (Profile, bool, error)

	// Save stores a profile, replacing any previous one.
	Save(profile Profile) error
}

// InMemoryService is a Service backed by a mutex-guarded map. Suitable for
// tests and processes that do not need sticky bucketing across restarts.
type InMemoryService struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewInMemoryService creates an empty in-memory profile store.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{profiles: make(map[string]Profile)}
}

// Lookup implements Service.
func (s *InMemoryService) Lookup(userID string) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	return profile, ok, nil
}

// Save implements Service.
func (s *InMemoryService) Save(profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.UserID] = profile
	return nil
}

// Tracker scopes profile access to a single decide call: the profile is
// loaded once up front, updates are collected in memory, and a single save
// is issued at the end if anything changed. Lookup and save failures are
// logged and swallowed so a broken profile store never breaks a decision.
type Tracker struct {
	service Service
	log     *slog.Logger
	profile Profile
	updated bool
}

// NewTracker loads the user's profile (or starts a fresh one) from the
// service. A nil service produces a tracker that tracks in memory only.
func NewTracker(service Service, userID string, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{service: service, log: log, profile: NewProfile(userID)}

	if service == nil {
		return t
	}

	profile, ok, err := service.Lookup(userID)
	if err != nil {
		log.Warn("user profile lookup failed", "userId", userID, "error", err)
		return t
	}
	if ok {
		if profile.ExperimentBucketMap == nil {
			profile.ExperimentBucketMap = make(map[string]Decision)
		}
		t.profile = profile
	}
	return t
}

// VariationID returns the tracked variation for an experiment, or "".
func (t *Tracker) VariationID(experimentID string) string {
	return t.profile.VariationID(experimentID)
}

// Update records a fresh bucketing decision to be persisted on Save.
func (t *Tracker) Update(experimentID, variationID string) {
	t.profile.ExperimentBucketMap[experimentID] = Decision{VariationID: variationID}
	t.updated = true
}

// Save persists the profile if any decision was recorded. Errors are logged,
// never returned: profile persistence is best-effort.
func (t *Tracker) Save() {
	if !t.updated || t.service == nil {
		return
	}
	if err := t.service.Save(t.profile); err != nil {
		t.log.Warn("user profile save failed", "userId", t.profile.UserID, "error", err)
		return
	}
	t.log.Debug("saved user profile", "userId", t.profile.UserID)
}
