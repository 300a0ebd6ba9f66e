package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/flagkit/pkg/event"
)

const defaultRedisQueueKey = "flagkit:event_queue"

// RedisStore keeps the event queue in a Redis list, sharing one durable
// queue across processes. Events are JSON-encoded list entries; head of the
// list is the oldest event.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithQueueKey overrides the Redis list key.
func WithQueueKey(key string) RedisStoreOption {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

// NewRedisStore creates a Redis-backed queue over an established client.
func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    defaultRedisQueueKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Save(ctx context.Context, item event.EventForDispatch) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queued event: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("push queued event: %w", err)
	}
	return nil
}

func (s *RedisStore) GetFirstItems(ctx context.Context, count int) ([]event.EventForDispatch, error) {
	if count <= 0 {
		return nil, nil
	}
	entries, err := s.client.LRange(ctx, s.key, 0, int64(count-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read queued events: %w", err)
	}

	items := make([]event.EventForDispatch, 0, len(entries))
	for _, entry := range entries {
		var item event.EventForDispatch
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			// A corrupt entry still occupies a queue slot; surface it so the
			// batcher can consume and drop it.
			items = append(items, event.EventForDispatch{})
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RedisStore) RemoveFirstItems(ctx context.Context, count int) error {
	if count <= 0 {
		return nil
	}
	if err := s.client.LPopCount(ctx, s.key, count).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("remove queued events: %w", err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count queued events: %w", err)
	}
	return int(n), nil
}
