package cmab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"

	"github.com/dmitrymomot/flagkit/pkg/cache"
	"github.com/dmitrymomot/flagkit/pkg/datafile"
)

// Default cache bounds for CMAB decisions.
const (
	DefaultCacheSize    = 1000
	DefaultCacheTimeout = 30 * time.Minute
)

// Decision is a bandit-selected variation with the request UUID that links
// the impression event back to the prediction.
type Decision struct {
	VariationID string
	CmabUUID    string
}

// Options control per-call cache behavior, mirroring the decide options.
type Options struct {
	// IgnoreCache bypasses both the cache read and the cache write.
	IgnoreCache bool
	// ResetCache clears the whole cache before deciding.
	ResetCache bool
	// InvalidateUserCache evicts this user's entry for the rule before
	// deciding.
	InvalidateUserCache bool
}

// Fetcher is the remote prediction dependency of Service.
type Fetcher interface {
	FetchDecision(ctx context.Context, ruleID, userID string, attributes map[string]any, cmabUUID string) (string, error)
}

type cacheValue struct {
	attributesHash string
	variationID    string
	cmabUUID       string
}

// Service layers a TTL-bounded LRU cache over a prediction Fetcher. Cached
// entries are keyed by (userId, ruleId) and validated against a hash of the
// rule's context attributes, so attribute changes force a refetch.
type Service struct {
	client Fetcher
	cache  *cache.LRU[string, cacheValue]
	log    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCacheBounds sizes the decision cache. A size of zero disables
// caching entirely.
func WithCacheBounds(size int, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = cache.NewLRU[string, cacheValue](size, timeout)
	}
}

// WithServiceLogger sets the service's logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a caching decision service over the given client.
func NewService(client Fetcher, opts ...ServiceOption) *Service {
	s := &Service{
		client: client,
		cache:  cache.NewLRU[string, cacheValue](DefaultCacheSize, DefaultCacheTimeout),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetDecision returns the bandit variation for a user on a CMAB rule,
// serving from cache when the user's relevant attributes are unchanged.
func (s *Service) GetDecision(ctx context.Context, config *datafile.ProjectConfig, userID string, attributes map[string]any, ruleID string, opts Options) (Decision, error) {
	filtered := filterAttributes(config, attributes, ruleID)

	if opts.IgnoreCache {
		s.log.Info("ignoring cmab cache", "ruleId", ruleID, "userId", userID)
		return s.fetch(ctx, ruleID, userID, filtered)
	}

	if opts.ResetCache {
		s.log.Info("resetting cmab cache")
		s.cache.Reset()
	}

	key := CacheKey(userID, ruleID)

	if opts.InvalidateUserCache {
		s.log.Info("invalidating user cmab cache", "ruleId", ruleID, "userId", userID)
		s.cache.Remove(key)
	}

	attributesHash := HashAttributes(filtered)

	if cached, ok := s.cache.Lookup(key); ok && cached.attributesHash == attributesHash {
		s.log.Debug("returning cached cmab decision", "ruleId", ruleID, "userId", userID)
		return Decision{VariationID: cached.variationID, CmabUUID: cached.cmabUUID}, nil
	}
	// Stale or attribute-mismatched entry is useless; drop it before the
	// remote call.
	s.cache.Remove(key)

	decision, err := s.fetch(ctx, ruleID, userID, filtered)
	if err != nil {
		return Decision{}, err
	}

	s.cache.Save(key, cacheValue{
		attributesHash: attributesHash,
		variationID:    decision.VariationID,
		cmabUUID:       decision.CmabUUID,
	})
	return decision, nil
}

func (s *Service) fetch(ctx context.Context, ruleID, userID string, attributes map[string]any) (Decision, error) {
	cmabUUID := uuid.NewString()

	variationID, err := s.client.FetchDecision(ctx, ruleID, userID, attributes, cmabUUID)
	if err != nil {
		s.log.Error("failed to fetch cmab decision", "ruleId", ruleID, "userId", userID, "error", err)
		return Decision{}, err
	}

	s.log.Debug("fetched cmab decision", "ruleId", ruleID, "variationId", variationID)
	return Decision{VariationID: variationID, CmabUUID: cmabUUID}, nil
}

// CacheKey builds the per-user, per-rule cache key. The user id length
// prefix keeps concatenations collision-free.
func CacheKey(userID, ruleID string) string {
	return fmt.Sprintf("%d-%s-%s", len(userID), userID, ruleID)
}

// HashAttributes produces a deterministic fingerprint of the attribute set:
// pairs sorted by key, JSON-serialized, murmur3-hashed.
func HashAttributes(attributes map[string]any) string {
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([][2]any, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, [2]any{key, attributes[key]})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%08x", murmur3.Sum32(data))
}

// filterAttributes keeps only the attributes named by the rule's cmab
// descriptor; other attributes are not part of the bandit context.
func filterAttributes(config *datafile.ProjectConfig, attributes map[string]any, ruleID string) map[string]any {
	filtered := make(map[string]any)

	experiment := config.ExperimentByID(ruleID)
	if experiment == nil || experiment.Cmab == nil {
		return filtered
	}

	for _, attributeID := range experiment.Cmab.AttributeIDs {
		attribute := config.AttributeByID(attributeID)
		if attribute == nil {
			continue
		}
		if value, ok := attributes[attribute.Key]; ok {
			filtered[attribute.Key] = value
		}
	}
	return filtered
}
