package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// NegativeCache remembers keys for which no artwork could be found so the
// remote lookup is not repeated. A nil *NegativeCache is valid and remembers nothing.
type NegativeCache struct {
	entries *expirable.LRU[string, time.Time]
}

// NewNegativeCache holds up to maxEntries keys. A non-positive ttl keeps
// entries until they are evicted or the process exits.
func NewNegativeCache(maxEntries int, ttl time.Duration) *NegativeCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &NegativeCache{
		entries: expirable.NewLRU[string, time.Time](maxEntries, nil, ttl),
	}
}

// Add records key as having no artwork
func (n *NegativeCache) Add(key string) {
	if n == nil || key == "" {
		return
	}
	n.entries.Add(key, time.Now())
}

// Contains reports whether key is known to have no artwork
func (n *NegativeCache) Contains(key string) bool {
	if n == nil || key == "" {
		return false
	}
	return n.entries.Contains(key)
}

// Since returns when key was recorded as unavailable
func (n *NegativeCache) Since(key string) (time.Time, bool) {
	if n == nil {
		return time.Time{}, false
	}
	return n.entries.Peek(key)
}

// Remove forgets key
func (n *NegativeCache) Remove(key string) {
	if n == nil {
		return
	}
	n.entries.Remove(key)
}

// Purge forgets every key
func (n *NegativeCache) Purge() {
	if n == nil {
		return
	}
	n.entries.Purge()
}

// Len returns the number of remembered keys
func (n *NegativeCache) Len() int {
	if n == nil {
		return 0
	}
	return n.entries.Len()
}
