package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cakisi/internal/cache"
	"cakisi/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRemote(t *testing.T) (*cache.RedisRemote, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	remote, err := cache.NewRedisRemote(cache.RedisConfig{URL: "redis://" + mr.Addr(), Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })
	return remote, mr
}

func assertToolError(t *testing.T, err error, status int) {
	t.Helper()
	var toolErr *core.ToolError
	require.True(t, errors.As(err, &toolErr), "expected *core.ToolError, got %v", err)
	assert.Equal(t, status, toolErr.HTTPStatusCode())
}

func TestCheckRequest_LocalSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, Config{RequestsPerMinute: 3}, WithClock(clock.Now))
	ctx := t.Context()

	for i := range 3 {
		require.NoError(t, l.CheckRequest(ctx, "1.2.3.4"), "request %d", i+1)
		clock.Advance(time.Second)
	}
	assertToolError(t, l.CheckRequest(ctx, "1.2.3.4"), http.StatusTooManyRequests)

	assert.NoError(t, l.CheckRequest(ctx, "5.6.7.8"), "other clients are unaffected")

	clock.Advance(58 * time.Second)
	assert.NoError(t, l.CheckRequest(ctx, "1.2.3.4"), "oldest request left the window")
	assertToolError(t, l.CheckRequest(ctx, "1.2.3.4"), http.StatusTooManyRequests)

	clock.Advance(61 * time.Second)
	assert.NoError(t, l.CheckRequest(ctx, "1.2.3.4"))
}

func TestCheckUpload_LocalQuota(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, Config{UploadMBPerHour: 10}, WithClock(clock.Now))
	ctx := t.Context()
	mb := int64(1024 * 1024)

	require.NoError(t, l.CheckUpload(ctx, "c", 9*mb))
	assertToolError(t, l.CheckUpload(ctx, "c", 2*mb), http.StatusRequestEntityTooLarge)
	assert.NoError(t, l.CheckUpload(ctx, "c", mb/2))
	assert.NoError(t, l.CheckUpload(ctx, "c", mb/2), "exactly at the quota is allowed")
	assertToolError(t, l.CheckUpload(ctx, "c", 1), http.StatusRequestEntityTooLarge)

	clock.Advance(time.Hour)
	assertToolError(t, l.CheckUpload(ctx, "c", 1), http.StatusRequestEntityTooLarge)

	clock.Advance(time.Second)
	assert.NoError(t, l.CheckUpload(ctx, "c", 9*mb), "window rolled over")
}

func TestCheckRequest_Remote(t *testing.T) {
	remote, mr := newRemote(t)
	l := New(remote, Config{RequestsPerMinute: 3})
	ctx := t.Context()

	for range 3 {
		require.NoError(t, l.CheckRequest(ctx, "1.2.3.4"))
	}
	assertToolError(t, l.CheckRequest(ctx, "1.2.3.4"), http.StatusTooManyRequests)

	got, err := mr.Get("isvicre:ratelimit:requests:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.Equal(t, time.Minute, mr.TTL("isvicre:ratelimit:requests:1.2.3.4"))

	mr.FastForward(61 * time.Second)
	assert.NoError(t, l.CheckRequest(ctx, "1.2.3.4"))

	assert.Equal(t, 0, l.Stats(ctx).LocalClients, "remote path keeps no local state")
}

func TestCheckUpload_Remote(t *testing.T) {
	remote, mr := newRemote(t)
	l := New(remote, Config{UploadMBPerHour: 10})
	ctx := t.Context()
	mb := int64(1024 * 1024)

	require.NoError(t, l.CheckUpload(ctx, "c", 9*mb))
	assertToolError(t, l.CheckUpload(ctx, "c", 2*mb), http.StatusRequestEntityTooLarge)
	require.NoError(t, l.CheckUpload(ctx, "c", mb/2))

	got, err := mr.Get("isvicre:ratelimit:upload:c")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(9*mb+mb/2), got)
	assert.Equal(t, time.Hour, mr.TTL("isvicre:ratelimit:upload:c"))
}

func TestCheckRequest_FallsBackWhenRemoteUnavailable(t *testing.T) {
	remote, mr := newRemote(t)
	clock := newFakeClock()
	l := New(remote, Config{RequestsPerMinute: 2}, WithClock(clock.Now))
	ctx := t.Context()

	mr.Close()

	require.NoError(t, l.CheckRequest(ctx, "c"))
	require.NoError(t, l.CheckRequest(ctx, "c"))
	assertToolError(t, l.CheckRequest(ctx, "c"), http.StatusTooManyRequests)
	assert.Equal(t, 1, l.Stats(ctx).LocalClients)
	assert.False(t, l.Stats(ctx).RemoteAvailable)
}

func TestCheckRequest_ConcurrentIncrements(t *testing.T) {
	tests := []struct {
		name   string
		remote bool
	}{
		{"local", false},
		{"remote", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var remote cache.Remote
			if tt.remote {
				r, _ := newRemote(t)
				remote = r
			}
			const n = 50
			l := New(remote, Config{RequestsPerMinute: n})
			ctx := t.Context()

			var wg sync.WaitGroup
			var allowed atomic.Int64
			for range n + 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if l.CheckRequest(ctx, "same-client") == nil {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(n), allowed.Load())
		})
	}
}

func TestCheckRequest_ConcurrentCallsAllRecorded(t *testing.T) {
	const n = 64

	run := func(t *testing.T, l *Limiter) {
		t.Helper()
		ctx := t.Context()
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, l.CheckRequest(ctx, "same-client"))
			}()
		}
		wg.Wait()
	}

	t.Run("local", func(t *testing.T) {
		l := New(nil, Config{RequestsPerMinute: 1000})
		run(t, l)

		l.mu.Lock()
		defer l.mu.Unlock()
		assert.Len(t, l.requests["same-client"], n)
	})

	t.Run("remote", func(t *testing.T) {
		remote, mr := newRemote(t)
		l := New(remote, Config{RequestsPerMinute: 1000})
		run(t, l)

		got, err := mr.Get("isvicre:" + requestKeyPrefix + "same-client")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(n), got)

		l.mu.Lock()
		defer l.mu.Unlock()
		assert.Empty(t, l.requests["same-client"], "remote hits must not also be counted locally")
	})
}

func TestDevBypass(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		bypassRates bool
		bypassUp    bool
	}{
		{"dev with huge ceilings", Config{RequestsPerMinute: 5000, UploadMBPerHour: 20000, Dev: true}, true, true},
		{"dev with normal ceilings", Config{RequestsPerMinute: 60, UploadMBPerHour: 100, Dev: true}, false, false},
		{"prod with huge ceilings", Config{RequestsPerMinute: 5000, UploadMBPerHour: 20000}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(nil, tt.cfg)
			stats := l.Stats(t.Context())
			assert.Equal(t, tt.bypassRates, stats.RequestsBypassed)
			assert.Equal(t, tt.bypassUp, stats.UploadsBypassed)
		})
	}
}

func TestSweepAndReset(t *testing.T) {
	remote, mr := newRemote(t)
	clock := newFakeClock()
	ctx := t.Context()

	l := New(remote, Config{RequestsPerMinute: 5}, WithClock(clock.Now))
	require.NoError(t, l.CheckRequest(ctx, "remote-client"))
	assert.True(t, mr.Exists("isvicre:ratelimit:requests:remote-client"))

	local := New(nil, Config{RequestsPerMinute: 5}, WithClock(clock.Now))
	require.NoError(t, local.CheckRequest(ctx, "a"))
	require.NoError(t, local.CheckUpload(ctx, "a", 10))
	assert.Equal(t, 0, local.Sweep())

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 2, local.Sweep())

	assert.Equal(t, 1, l.Reset(ctx))
	assert.False(t, mr.Exists("isvicre:ratelimit:requests:remote-client"))
}
