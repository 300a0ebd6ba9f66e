// Package cache provides a generic, thread-safe LRU cache with TTL expiry,
// used by the CMAB decision service and remote-segment lookups.
//
// The cache combines a hashmap with a doubly linked recency list for O(1)
// Save, Lookup, Peek, and Remove. Lookup refreshes both recency and the
// expiry timer; Peek is strictly read-only and has no side effects. When the
// cache reaches capacity the least recently used entry is evicted.
//
// # Disabled caches
//
// A requested size of zero or less produces a disabled cache: every
// operation is a no-op and reads always miss. A timeout of zero or less
// means entries never expire. This single normalization applies to every
// cache in the SDK.
//
// # Usage
//
//	c := cache.NewLRU[string, Decision](100, 10*time.Minute)
//	c.Save("user-42", decision)
//
//	if d, ok := c.Lookup("user-42"); ok {
//		// fresh entry, recency and expiry refreshed
//	}
//
// All operations are safe for concurrent use from multiple goroutines.
package cache
