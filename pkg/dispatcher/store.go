package dispatcher

import (
	"context"
	"sync"

	"github.com/dmitrymomot/flagkit/pkg/event"
)

// Store is a FIFO queue of pending outbound events. Implementations must be
// safe for concurrent producers and a flushing consumer; persistent
// implementations must reload queued items after a restart.
type Store interface {
	// Save appends an event to the tail of the queue.
	Save(ctx context.Context, item event.EventForDispatch) error
	// GetFirstItems returns up to count events from the head without
	// removing them.
	GetFirstItems(ctx context.Context, count int) ([]event.EventForDispatch, error)
	// RemoveFirstItems drops up to count events from the head.
	RemoveFirstItems(ctx context.Context, count int) error
	// Count returns the number of queued events.
	Count(ctx context.Context) (int, error)
}

// MemoryStore is a non-persistent in-process queue.
type MemoryStore struct {
	mu    sync.Mutex
	items []event.EventForDispatch
}

// NewMemoryStore creates an empty in-memory queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, item event.EventForDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *MemoryStore) GetFirstItems(_ context.Context, count int) ([]event.EventForDispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count > len(s.items) {
		count = len(s.items)
	}
	out := make([]event.EventForDispatch, count)
	copy(out, s.items[:count])
	return out, nil
}

func (s *MemoryStore) RemoveFirstItems(_ context.Context, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count > len(s.items) {
		count = len(s.items)
	}
	s.items = s.items[count:]
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}
