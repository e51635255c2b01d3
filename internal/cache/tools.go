package cache

import (
	"context"
	"sort"
	"time"

	"cakisi/internal/observability"
)

// DefaultTTL is how long cached tool results live in the remote store.
const DefaultTTL = time.Hour

// DefaultCacheableTools are the deterministic text tools that get a local LRU.
var DefaultCacheableTools = []string{"json-formatter", "base64", "url-encoder"}

// ToolCacheConfig configures a ToolCache.
type ToolCacheConfig struct {
	// Tools that get their own in-memory LRU. Others use the remote store only.
	Tools []string
	// Capacity of each per-tool LRU.
	Capacity int
	// TTL of remote entries.
	TTL time.Duration
}

// ToolCache memoizes deterministic tool outputs keyed by DeriveKey.
type ToolCache struct {
	remote Remote
	ttl    time.Duration
	tools  map[string]*HybridKV
}

// ToolStats describes one tool's local cache.
type ToolStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
}

// Stats is a snapshot of the cache for the admin API.
type Stats struct {
	RemoteAvailable bool                 `json:"remote_available"`
	RemoteKeys      int                  `json:"remote_keys"`
	Tools           map[string]ToolStats `json:"tools"`
}

// NewToolCache creates a ToolCache. remote may be nil.
func NewToolCache(remote Remote, cfg ToolCacheConfig) *ToolCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	names := cfg.Tools
	if names == nil {
		names = DefaultCacheableTools
	}

	c := &ToolCache{
		remote: remote,
		ttl:    ttl,
		tools:  make(map[string]*HybridKV, len(names)),
	}
	for _, name := range names {
		c.tools[name] = NewHybridKV("cache:"+name, remote, NewKeyedLRU(cfg.Capacity))
	}
	return c
}

func (c *ToolCache) store(tool string) *HybridKV {
	if kv, ok := c.tools[tool]; ok {
		return kv
	}
	return NewHybridKV("cache:"+tool, c.remote, nil)
}

func remoteKey(tool, digest string) string {
	return "cache:" + tool + ":" + digest
}

// Get returns the cached result of running tool on input with opts.
func (c *ToolCache) Get(ctx context.Context, tool, input string, opts Options) (string, bool) {
	key := remoteKey(tool, DeriveKey(tool, input, opts))
	res := c.store(tool).Get(ctx, key)
	if !res.Hit() {
		observability.CacheMisses.WithLabelValues(tool).Inc()
		return "", false
	}
	observability.CacheHits.WithLabelValues(tool, string(res.Source)).Inc()
	return res.Value, true
}

// Set caches result for tool, input and opts.
func (c *ToolCache) Set(ctx context.Context, tool, input, result string, opts Options) {
	key := remoteKey(tool, DeriveKey(tool, input, opts))
	c.store(tool).Set(ctx, key, result, c.ttl)
}

// Clear drops cached results for tool, or for every tool when tool is empty.
// It returns the number of remote keys removed.
func (c *ToolCache) Clear(ctx context.Context, tool string) int {
	if tool != "" {
		return c.store(tool).Clear(ctx, "cache:"+tool+":*")
	}

	removed := NewHybridKV("cache", c.remote, nil).Clear(ctx, "cache:*")
	for _, kv := range c.tools {
		kv.Local().Clear()
	}
	return removed
}

// Tools returns the names of the tools with a local layer, sorted.
func (c *ToolCache) Tools() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats reports local sizes and remote availability.
func (c *ToolCache) Stats(ctx context.Context) Stats {
	s := Stats{Tools: make(map[string]ToolStats, len(c.tools))}
	for name, kv := range c.tools {
		s.Tools[name] = ToolStats{Size: kv.Local().Len(), Capacity: kv.Local().Capacity()}
	}
	if c.remote == nil {
		return s
	}
	if n, err := c.remote.Count(ctx, "cache:*"); err == nil {
		s.RemoteAvailable = true
		s.RemoteKeys = n
	}
	return s
}
