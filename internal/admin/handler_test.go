package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cakisi/internal/cache"
	"cakisi/internal/pipeline"
	"cakisi/internal/ratelimit"
	"cakisi/internal/toolcalls"
)

// mockReader implements toolcalls.Reader for testing.
type mockReader struct {
	summary    []toolcalls.ToolSummary
	recent     []toolcalls.Entry
	err        error
	lastParams toolcalls.QueryParams
}

func (m *mockReader) Summary(_ context.Context, _ toolcalls.QueryParams) ([]toolcalls.ToolSummary, error) {
	return m.summary, m.err
}

func (m *mockReader) Recent(_ context.Context, p toolcalls.QueryParams) ([]toolcalls.Entry, error) {
	m.lastParams = p
	return m.recent, m.err
}

func newTestHandler(t *testing.T, reader toolcalls.Reader) (*Handler, Deps) {
	t.Helper()

	reg, err := pipeline.New(pipeline.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	deps := Deps{
		Cache:    cache.NewToolCache(nil, cache.ToolCacheConfig{Capacity: 10}),
		Limiter:  ratelimit.New(nil, ratelimit.Config{RequestsPerMinute: 5, UploadMBPerHour: 10}),
		Pipeline: reg,
		Recorder: toolcalls.NewRecorder(nil),
		Reader:   reader,
		Env:      "dev",
	}
	return NewHandler(deps), deps
}

func serve(h echo.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h(c)
	return rec
}

func TestStats(t *testing.T) {
	reader := &mockReader{summary: []toolcalls.ToolSummary{{Tool: "base64", Calls: 9}}}
	h, deps := newTestHandler(t, reader)

	deps.Cache.Set(t.Context(), "base64", "aGk=", "hi", cache.Options{"action": "decode"})
	deps.Recorder.Record(&toolcalls.Entry{Tool: "base64", DurationMS: 1})

	rec := serve(h.Stats, http.MethodGet, "/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dev", resp.Environment)
	assert.NotEmpty(t, resp.GoVersion)
	assert.False(t, resp.Cache.RemoteAvailable)
	assert.Equal(t, 1, resp.Cache.Tools["base64"].Size)
	assert.EqualValues(t, 5, resp.RateLimit.RequestsPerMinute)
	assert.Equal(t, deps.Pipeline.Dir(), resp.Pipeline.StorageDir)
	require.Len(t, resp.ToolCalls.Process, 1)
	assert.EqualValues(t, 1, resp.ToolCalls.Process[0].Calls)
	require.Len(t, resp.ToolCalls.Persisted, 1)
	assert.EqualValues(t, 9, resp.ToolCalls.Persisted[0].Calls)
}

func TestStats_ReaderErrorIsNotFatal(t *testing.T) {
	h, _ := newTestHandler(t, &mockReader{err: errors.New("db down")})

	rec := serve(h.Stats, http.MethodGet, "/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.ToolCalls.Persisted)
}

func TestClearCache(t *testing.T) {
	h, deps := newTestHandler(t, nil)
	ctx := t.Context()
	deps.Cache.Set(ctx, "base64", "a", "b", nil)
	deps.Cache.Set(ctx, "url-encoder", "a", "b", nil)

	rec := serve(h.ClearCache, http.MethodPost, "/admin/cache/clear?tool=base64")
	require.Equal(t, http.StatusOK, rec.Code)
	_, hit := deps.Cache.Get(ctx, "base64", "a", nil)
	assert.False(t, hit)
	_, hit = deps.Cache.Get(ctx, "url-encoder", "a", nil)
	assert.True(t, hit)

	rec = serve(h.ClearCache, http.MethodPost, "/admin/cache/clear")
	require.Equal(t, http.StatusOK, rec.Code)
	_, hit = deps.Cache.Get(ctx, "url-encoder", "a", nil)
	assert.False(t, hit)

	rec = serve(h.ClearCache, http.MethodPost, "/admin/cache/clear?tool=nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found_error")
}

func TestSweepPipeline(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	src := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o600))
	_, err := deps.Pipeline.Create(t.Context(), pipeline.CreateParams{
		SourceTool: "base64", SourcePath: src, TTL: time.Nanosecond,
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	rec := serve(h.SweepPipeline, http.MethodPost, "/admin/pipeline/sweep")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
}

func TestResetRateLimits(t *testing.T) {
	h, deps := newTestHandler(t, nil)
	ctx := t.Context()
	for range 5 {
		require.NoError(t, deps.Limiter.CheckRequest(ctx, "1.2.3.4"))
	}
	require.Error(t, deps.Limiter.CheckRequest(ctx, "1.2.3.4"))

	rec := serve(h.ResetRateLimits, http.MethodPost, "/admin/ratelimit/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, deps.Limiter.CheckRequest(ctx, "1.2.3.4"))
}

func TestToolCalls(t *testing.T) {
	t.Run("no reader returns empty list", func(t *testing.T) {
		h, _ := newTestHandler(t, nil)
		rec := serve(h.ToolCalls, http.MethodGet, "/admin/tool-calls")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("passes filters", func(t *testing.T) {
		reader := &mockReader{recent: []toolcalls.Entry{{ID: "x", Tool: "base64"}}}
		h, _ := newTestHandler(t, reader)
		rec := serve(h.ToolCalls, http.MethodGet, "/admin/tool-calls?tool=base64&limit=5&since=2026-01-02T03:04:05Z")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "base64", reader.lastParams.Tool)
		assert.Equal(t, 5, reader.lastParams.Limit)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), reader.lastParams.Since.UTC())
		assert.Contains(t, rec.Body.String(), `"id":"x"`)
	})

	for _, q := range []string{"limit=abc", "limit=-1", "since=yesterday"} {
		t.Run("rejects "+q, func(t *testing.T) {
			h, _ := newTestHandler(t, &mockReader{})
			rec := serve(h.ToolCalls, http.MethodGet, "/admin/tool-calls?"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("reader failure is internal error", func(t *testing.T) {
		h, _ := newTestHandler(t, &mockReader{err: errors.New("boom")})
		rec := serve(h.ToolCalls, http.MethodGet, "/admin/tool-calls")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})
}

func TestRegister(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	e := echo.New()
	h.Register(e.Group("/admin"))

	paths := map[string]bool{}
	for _, r := range e.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /admin/stats",
		"GET /admin/tool-calls",
		"POST /admin/cache/clear",
		"POST /admin/pipeline/sweep",
		"POST /admin/ratelimit/reset",
	} {
		assert.True(t, paths[want], want)
	}
}
