package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToolCache_GetSet(t *testing.T) {
	remote, mr := newTestRemote(t)
	c := NewToolCache(remote, ToolCacheConfig{Capacity: 10, TTL: time.Hour})
	ctx := t.Context()
	opts := Options{"mode": "encode"}

	_, ok := c.Get(ctx, "base64", "hello", opts)
	assert.False(t, ok)

	c.Set(ctx, "base64", "hello", "aGVsbG8=", opts)

	got, ok := c.Get(ctx, "base64", "hello", opts)
	assert.True(t, ok)
	assert.Equal(t, "aGVsbG8=", got)

	key := "isvicre:cache:base64:" + DeriveKey("base64", "hello", opts)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	_, ok = c.Get(ctx, "base64", "hello", Options{"mode": "decode"})
	assert.False(t, ok, "options are part of the key")
}

func TestToolCache_SurvivesRemoteOutage(t *testing.T) {
	remote, mr := newTestRemote(t)
	c := NewToolCache(remote, ToolCacheConfig{Capacity: 10})
	ctx := t.Context()

	c.Set(ctx, "url-encoder", "a b", "a%20b", nil)
	mr.Close()

	got, ok := c.Get(ctx, "url-encoder", "a b", nil)
	assert.True(t, ok)
	assert.Equal(t, "a%20b", got)

	c.Set(ctx, "url-encoder", "c d", "c%20d", nil)
	got, ok = c.Get(ctx, "url-encoder", "c d", nil)
	assert.True(t, ok)
	assert.Equal(t, "c%20d", got)
}

func TestToolCache_UnknownToolUsesRemoteOnly(t *testing.T) {
	c := NewToolCache(nil, ToolCacheConfig{})
	ctx := t.Context()

	c.Set(ctx, "hash-generator", "x", "y", nil)
	_, ok := c.Get(ctx, "hash-generator", "x", nil)
	assert.False(t, ok)
}

func TestToolCache_Clear(t *testing.T) {
	remote, mr := newTestRemote(t)
	c := NewToolCache(remote, ToolCacheConfig{Capacity: 10})
	ctx := t.Context()

	c.Set(ctx, "base64", "a", "1", nil)
	c.Set(ctx, "json-formatter", "b", "2", nil)

	assert.Equal(t, 1, c.Clear(ctx, "base64"))

	stats := c.Stats(ctx)
	assert.True(t, stats.RemoteAvailable)
	assert.Equal(t, 1, stats.RemoteKeys)
	assert.Equal(t, 0, stats.Tools["base64"].Size)
	assert.Equal(t, 1, stats.Tools["json-formatter"].Size)

	assert.Equal(t, 1, c.Clear(ctx, ""))
	assert.Equal(t, 0, c.Stats(ctx).Tools["json-formatter"].Size)
	assert.Empty(t, mr.Keys())
}

func TestToolCache_Stats(t *testing.T) {
	c := NewToolCache(nil, ToolCacheConfig{Capacity: 7})
	stats := c.Stats(t.Context())

	assert.False(t, stats.RemoteAvailable)
	assert.Equal(t, []string{"base64", "json-formatter", "url-encoder"}, c.Tools())
	assert.Equal(t, 7, stats.Tools["base64"].Capacity)
}
