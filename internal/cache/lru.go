package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUCapacity is the per-tool capacity used when none is configured.
const DefaultLRUCapacity = 100

// KeyedLRU is a fixed-capacity string map that evicts the least recently
// used entry. Get and Put both refresh recency. Safe for concurrent use.
type KeyedLRU struct {
	entries  *lru.Cache[string, string]
	capacity int
}

// NewKeyedLRU creates an LRU holding at most capacity entries.
// A non-positive capacity falls back to DefaultLRUCapacity.
func NewKeyedLRU(capacity int) *KeyedLRU {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, string](capacity)
	return &KeyedLRU{entries: entries, capacity: capacity}
}

// Get returns the value for key and marks it most recently used.
func (l *KeyedLRU) Get(key string) (string, bool) {
	return l.entries.Get(key)
}

// Put inserts or overwrites key. At capacity, inserting a new key evicts
// exactly one entry, the least recently used.
func (l *KeyedLRU) Put(key, value string) {
	l.entries.Add(key, value)
}

// Delete removes key if present.
func (l *KeyedLRU) Delete(key string) {
	l.entries.Remove(key)
}

// Clear removes every entry.
func (l *KeyedLRU) Clear() {
	l.entries.Purge()
}

// Len returns the number of entries.
func (l *KeyedLRU) Len() int {
	return l.entries.Len()
}

// Capacity returns the maximum number of entries.
func (l *KeyedLRU) Capacity() int {
	return l.capacity
}
