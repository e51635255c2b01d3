// Package cache provides the result cache used by the text tools and the
// remote-first key/value store shared with the rate limiter.
//
// Every remote read is reported as a Result whose Status tells the caller
// whether the remote answered at all, so "no value" and "no remote" are never
// confused.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Remote when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Status is the outcome of a key/value lookup.
type Status int

const (
	// StatusUnavailable means the remote store could not be reached.
	StatusUnavailable Status = iota
	// StatusMiss means the store answered and the key was absent.
	StatusMiss
	// StatusHit means a value was found.
	StatusHit
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusMiss:
		return "miss"
	default:
		return "unavailable"
	}
}

// Source identifies which layer served a value.
type Source string

const (
	SourceRemote Source = "redis"
	SourceMemory Source = "memory"
)

// Result is the outcome of HybridKV.Get.
type Result struct {
	Value  string
	Status Status
	Source Source
}

// Hit reports whether the lookup produced a value.
func (r Result) Hit() bool {
	return r.Status == StatusHit
}

// Remote is a shared key/value store reachable over the network.
// Implementations apply their own key prefix and per-call timeout.
type Remote interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// IncrBy adds amount to the counter at key and returns the new value.
	// The TTL is applied only when this call created the counter.
	IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching the glob pattern.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	// Count returns the number of keys matching the glob pattern.
	Count(ctx context.Context, pattern string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
