package userprofile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultProfileKeyPrefix = "flagkit:user_profile:"
	defaultProfileOpTimeout = 3 * time.Second
)

// RedisService persists profiles in Redis, one JSON value per user, so
// sticky bucketing survives restarts and is shared across processes.
type RedisService struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// RedisServiceOption configures a RedisService.
type RedisServiceOption func(*RedisService)

// WithKeyPrefix overrides the Redis key prefix.
func WithKeyPrefix(prefix string) RedisServiceOption {
	return func(s *RedisService) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithProfileTTL expires stored profiles after the given duration. Zero (the
// default) keeps them forever.
func WithProfileTTL(ttl time.Duration) RedisServiceOption {
	return func(s *RedisService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisService creates a Redis-backed profile store over an established
// client.
func NewRedisService(client redis.Cmdable, opts ...RedisServiceOption) *RedisService {
	s := &RedisService{
		client:  client,
		prefix:  defaultProfileKeyPrefix,
		timeout: defaultProfileOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup implements Service.
func (s *RedisService) Lookup(userID string) (Profile, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.prefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("lookup user profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return Profile{}, false, fmt.Errorf("decode user profile: %w", err)
	}
	if profile.ExperimentBucketMap == nil {
		profile.ExperimentBucketMap = make(map[string]Decision)
	}
	return profile, true, nil
}

// Save implements Service.
func (s *RedisService) Save(profile Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode user profile: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+profile.UserID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save user profile: %w", err)
	}
	return nil
}
