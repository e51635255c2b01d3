// Package ttlstore provides a concurrency-safe map whose entries expire after
// a per-entry time to live. Expiry is lazy: an expired entry is removed the
// next time it is read, or by an explicit Sweep.
package ttlstore

import (
	"sync"
	"time"
)

// Reason tells an eviction callback why an entry left the store.
type Reason int

const (
	// Expired entries outlived their TTL.
	Expired Reason = iota
	// Deleted entries were removed explicitly.
	Deleted
)

func (r Reason) String() string {
	if r == Expired {
		return "expired"
	}
	return "deleted"
}

type entry[V any] struct {
	value     V
	createdAt time.Time
	ttl       time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Option configures a Store.
type Option[V any] func(*Store[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(s *Store[V]) {
		s.now = now
	}
}

// WithEvictionCallback registers fn to run after an entry is removed by
// expiry or Delete. fn runs outside the store lock.
func WithEvictionCallback[V any](fn func(id string, value V, reason Reason)) Option[V] {
	return func(s *Store[V]) {
		s.onEvict = fn
	}
}

// Store maps ids to values with a per-entry TTL.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
	onEvict func(id string, value V, reason Reason)
}

// New creates an empty Store.
func New[V any](opts ...Option[V]) *Store[V] {
	s := &Store[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores value under id, replacing any existing entry.
func (s *Store[V]) Put(id string, value V, ttl time.Duration) {
	s.mu.Lock()
	s.entries[id] = entry[V]{value: value, createdAt: s.now(), ttl: ttl}
	s.mu.Unlock()
}

// PutIfAbsent stores value under id unless a live entry already exists.
// It reports whether the value was stored.
func (s *Store[V]) PutIfAbsent(id string, value V, ttl time.Duration) bool {
	s.mu.Lock()
	now := s.now()
	if e, ok := s.entries[id]; ok && !e.expired(now) {
		s.mu.Unlock()
		return false
	}
	s.entries[id] = entry[V]{value: value, createdAt: now, ttl: ttl}
	s.mu.Unlock()
	return true
}

// Upsert replaces the value for id with fn(old, found) under the store lock.
// A live entry keeps its original creation time and TTL; a missing or
// expired one is recreated with ttl. It returns the stored value.
func (s *Store[V]) Upsert(id string, ttl time.Duration, fn func(old V, found bool) V) V {
	s.mu.Lock()
	now := s.now()
	e, ok := s.entries[id]
	stale := ok && e.expired(now)
	old := e.value
	if ok && !stale {
		e.value = fn(e.value, true)
	} else {
		var zero V
		e = entry[V]{value: fn(zero, false), createdAt: now, ttl: ttl}
	}
	s.entries[id] = e
	s.mu.Unlock()

	if stale {
		s.evict(id, old, Expired)
	}
	return e.value
}

// Get returns the value for id. An entry older than its TTL is removed and
// reported as absent.
func (s *Store[V]) Get(id string) (V, bool) {
	var zero V

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return zero, false
	}
	if e.expired(s.now()) {
		delete(s.entries, id)
		s.mu.Unlock()
		s.evict(id, e.value, Expired)
		return zero, false
	}
	s.mu.Unlock()
	return e.value, true
}

// Delete removes id. It reports whether an entry was present.
func (s *Store[V]) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if ok {
		s.evict(id, e.value, Deleted)
	}
	return ok
}

// Sweep removes every expired entry and returns how many were removed.
func (s *Store[V]) Sweep() int {
	type victim struct {
		id    string
		value V
	}

	s.mu.Lock()
	now := s.now()
	var victims []victim
	for id, e := range s.entries {
		if e.expired(now) {
			victims = append(victims, victim{id: id, value: e.value})
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, v := range victims {
		s.evict(v.id, v.value, Expired)
	}
	return len(victims)
}

// Len returns the number of entries, expired ones included.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Range calls fn for every entry with its expiry state until fn returns
// false. fn must not call back into the store.
func (s *Store[V]) Range(fn func(id string, value V, expired bool) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if !fn(id, e.value, e.expired(now)) {
			return
		}
	}
}

// Clear removes every entry, invoking the eviction callback with Deleted.
func (s *Store[V]) Clear() int {
	s.mu.Lock()
	old := s.entries
	s.entries = make(map[string]entry[V])
	s.mu.Unlock()

	for id, e := range old {
		s.evict(id, e.value, Deleted)
	}
	return len(old)
}

func (s *Store[V]) evict(id string, value V, reason Reason) {
	if s.onEvict != nil {
		s.onEvict(id, value, reason)
	}
}
