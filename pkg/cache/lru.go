package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruEntry[K comparable, V any] struct {
	key     K
	value   V
	savedAt time.Time
}

// LRU is a thread-safe fixed-capacity cache with TTL-based expiry.
// When the cache reaches its capacity, the least recently used item is
// evicted. Entries older than the configured timeout are treated as absent
// on Lookup and evicted lazily.
//
// A size of zero or less disables the cache entirely: every operation is a
// no-op and Lookup/Peek always miss. A timeout of zero or less means entries
// never expire.
type LRU[K comparable, V any] struct {
	maxSize int
	timeout time.Duration
	items   map[K]*list.Element
	order   *list.List // front = most recently used
	mu      sync.Mutex

	// now is replaceable in tests to exercise expiry without sleeping.
	now func() time.Time
}

// NewLRU creates a cache holding at most size entries, each valid for
// timeout from its last Save or Lookup.
func NewLRU[K comparable, V any](size int, timeout time.Duration) *LRU[K, V] {
	return &LRU[K, V]{
		maxSize: size,
		timeout: timeout,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Save adds or replaces a value, marking it most recently used and resetting
// its expiry timer. The least recently used entry is evicted when the cache
// exceeds capacity.
func (c *LRU[K, V]) Save(key K, value V) {
	if c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry[K, V])
		entry.value = value
		entry.savedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&lruEntry[K, V]{key: key, value: value, savedAt: c.now()})
	c.items[key] = elem

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

// Lookup retrieves a value, marking it most recently used and resetting its
// expiry timer. Expired entries are evicted and reported as a miss.
func (c *LRU[K, V]) Lookup(key K) (V, bool) {
	var zero V
	if c.maxSize <= 0 {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}

	entry := elem.Value.(*lruEntry[K, V])
	if c.expired(entry) {
		c.removeElement(elem)
		return zero, false
	}

	entry.savedAt = c.now()
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Peek reads a value without refreshing recency or expiry. Expired entries
// are reported as a miss but left in place for Lookup to evict.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	var zero V
	if c.maxSize <= 0 {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}

	entry := elem.Value.(*lruEntry[K, V])
	if c.expired(entry) {
		return zero, false
	}
	return entry.value, true
}

// Remove deletes an entry. Returns true if the key was present.
func (c *LRU[K, V]) Remove(key K) bool {
	if c.maxSize <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Reset clears all entries.
func (c *LRU[K, V]) Reset() {
	if c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Len returns the number of stored entries, including any that have expired
// but not yet been evicted.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SetClock replaces the time source. Intended for tests.
func (c *LRU[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *LRU[K, V]) expired(entry *lruEntry[K, V]) bool {
	if c.timeout <= 0 {
		return false
	}
	return c.now().Sub(entry.savedAt) >= c.timeout
}

// Must be called with lock held.
func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*lruEntry[K, V])
	delete(c.items, entry.key)
}
