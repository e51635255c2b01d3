package cache

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"cakisi/internal/observability"
	"cakisi/internal/ttlstore"
)

// noExpiry stands in for a non-positive counter ttl in the local layer.
const noExpiry = time.Duration(math.MaxInt64)

// HybridKV is a remote-first key/value store with an in-memory LRU fallback.
// Remote failures never surface as errors: they are logged at debug level
// and the local layer answers instead.
type HybridKV struct {
	name   string
	remote Remote
	local  *KeyedLRU

	// counters holds local fallback counters. They live outside the LRU
	// so each one keeps the expiry set by its first increment.
	counters *ttlstore.Store[int64]
}

// NewHybridKV creates a HybridKV. A nil remote behaves as permanently
// unavailable. A nil local disables the fallback layer, which lets callers
// that keep their own fallback state (the rate limiter) observe
// StatusUnavailable directly.
func NewHybridKV(name string, remote Remote, local *KeyedLRU) *HybridKV {
	h := &HybridKV{name: name, remote: remote, local: local}
	if local != nil {
		h.counters = ttlstore.New[int64]()
	}
	return h
}

// Name returns the namespace used in logs and metrics.
func (h *HybridKV) Name() string {
	return h.name
}

// Local returns the fallback LRU, or nil.
func (h *HybridKV) Local() *KeyedLRU {
	return h.local
}

// Get looks the key up remotely first. A remote hit short-circuits; a remote
// miss or outage falls through to the local layer.
func (h *HybridKV) Get(ctx context.Context, key string) Result {
	res := h.GetRemote(ctx, key)
	if res.Status == StatusHit {
		return res
	}
	if h.local != nil {
		if v, ok := h.local.Get(key); ok {
			return Result{Value: v, Status: StatusHit, Source: SourceMemory}
		}
		if n, ok := h.counters.Get(key); ok {
			return Result{Value: strconv.FormatInt(n, 10), Status: StatusHit, Source: SourceMemory}
		}
	}
	return res
}

// GetRemote consults only the remote store. Callers use it to tell "absent"
// (StatusMiss) apart from "remote unreachable" (StatusUnavailable).
func (h *HybridKV) GetRemote(ctx context.Context, key string) Result {
	if h.remote == nil {
		return Result{Status: StatusUnavailable}
	}
	v, err := h.remote.Get(ctx, key)
	switch {
	case err == nil:
		return Result{Value: v, Status: StatusHit, Source: SourceRemote}
	case errors.Is(err, ErrNotFound):
		return Result{Status: StatusMiss, Source: SourceRemote}
	default:
		h.unavailable("get", err)
		return Result{Status: StatusUnavailable}
	}
}

// Set writes to the remote store and always to the local layer.
// It reports whether the value landed anywhere.
func (h *HybridKV) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	stored := false
	if h.remote != nil {
		if err := h.remote.Set(ctx, key, value, ttl); err != nil {
			h.unavailable("set", err)
		} else {
			stored = true
		}
	}
	if h.local != nil {
		h.local.Put(key, value)
		stored = true
	}
	return stored
}

// Increment adds amount to the counter at key. StatusHit means the remote
// counted it. StatusUnavailable means the remote failed and the returned
// value comes from the local layer (0 when there is none). A local counter
// is updated atomically and expires ttl after its first increment; a
// non-positive ttl keeps it until deleted.
func (h *HybridKV) Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, Status) {
	if h.remote != nil {
		n, err := h.remote.IncrBy(ctx, key, amount, ttl)
		if err == nil {
			return n, StatusHit
		}
		h.unavailable("incr", err)
	}
	if h.local == nil {
		return 0, StatusUnavailable
	}

	if ttl <= 0 {
		ttl = noExpiry
	}
	n := h.counters.Upsert(key, ttl, func(old int64, _ bool) int64 {
		return old + amount
	})
	return n, StatusUnavailable
}

// Delete removes key from both layers.
func (h *HybridKV) Delete(ctx context.Context, key string) {
	if h.remote != nil {
		if err := h.remote.Delete(ctx, key); err != nil {
			h.unavailable("delete", err)
		}
	}
	if h.local != nil {
		h.local.Delete(key)
		h.counters.Delete(key)
	}
}

// Clear removes every remote key matching pattern and empties the local
// layer. It returns the number of remote keys removed.
func (h *HybridKV) Clear(ctx context.Context, pattern string) int {
	removed := 0
	if h.remote != nil {
		n, err := h.remote.DeletePattern(ctx, pattern)
		if err != nil {
			h.unavailable("clear", err)
		}
		removed = n
	}
	if h.local != nil {
		h.local.Clear()
		h.counters.Clear()
	}
	return removed
}

func (h *HybridKV) unavailable(op string, err error) {
	observability.RemoteUnavailable.WithLabelValues(h.name, op).Inc()
	slog.Debug("remote store unavailable", "namespace", h.name, "op", op, "error", err)
}
