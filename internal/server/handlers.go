// Package server provides the HTTP surface: tool endpoints, pipeline file
// access, health probes and the admin routes.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cakisi/internal/admin"
	"cakisi/internal/cache"
	"cakisi/internal/core"
	"cakisi/internal/pipeline"
	"cakisi/internal/ratelimit"
	"cakisi/internal/storage"
	"cakisi/internal/toolcalls"
	"cakisi/internal/tools"
)

const mb = 1024 * 1024

// Deps are the components the handlers use. Remote, Storage, Limiter and
// Admin may be nil.
type Deps struct {
	Tools    *tools.Registry
	Cache    *cache.ToolCache
	Limiter  *ratelimit.Limiter
	Pipeline *pipeline.Registry
	Recorder *toolcalls.Recorder
	Remote   cache.Remote
	Storage  storage.Storage
	Admin    *admin.Handler
	TempDir  string
	Env      string
}

// Handler holds the HTTP handlers
type Handler struct {
	deps      Deps
	startTime time.Time
}

// NewHandler creates a handler, filling in in-memory defaults for the
// optional components.
func NewHandler(deps Deps) *Handler {
	if deps.Tools == nil {
		deps.Tools = tools.DefaultRegistry(tools.Limits{MaxTextInputMB: 1, MaxUploadMB: 10})
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewToolCache(nil, cache.ToolCacheConfig{Tools: deps.Tools.Cacheable()})
	}
	if deps.Recorder == nil {
		deps.Recorder = toolcalls.NewRecorder(nil)
	}
	return &Handler{
		deps:      deps,
		startTime: time.Now(),
	}
}

// ListTools handles GET /tools
func (h *Handler) ListTools(c echo.Context) error {
	list := h.deps.Tools.List()
	return c.JSON(http.StatusOK, map[string]any{
		"tools": list,
		"count": len(list),
	})
}

// sizeLimit returns the per-request byte limit for slug.
func (h *Handler) sizeLimit(slug string) int64 {
	if info, ok := h.deps.Tools.Get(slug); ok && info.MaxUploadMB > 0 {
		return int64(info.MaxUploadMB) * mb
	}
	return 10 * mb
}

// record reports a finished tool call. err may be nil.
func (h *Handler) record(c echo.Context, slug string, start time.Time, cached bool, err error, attrs map[string]any) {
	ctx := c.Request().Context()
	e := &toolcalls.Entry{
		RequestID:  core.GetRequestID(ctx),
		Tool:       slug,
		Status:     toolcalls.StatusSuccess,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
		Cached:     cached,
		ClientID:   core.GetClientID(ctx),
		Attributes: attrs,
	}
	if err != nil {
		e.Status = toolcalls.StatusError
		e.Error = publicMessage(err)
	}
	h.deps.Recorder.Record(e)
}

// fail records a failed tool call and writes the error response.
func (h *Handler) fail(c echo.Context, slug string, start time.Time, err error, attrs map[string]any) error {
	h.record(c, slug, start, false, err, attrs)
	return handleError(c, err)
}

func publicMessage(err error) string {
	var toolErr *core.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Message
	}
	return "internal error"
}

// handleError converts tool errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var toolErr *core.ToolError
	if errors.As(err, &toolErr) {
		if toolErr.HTTPStatusCode() >= http.StatusInternalServerError {
			slog.Error("tool request failed",
				"error", err,
				"tool", toolErr.Tool,
				"request_id", core.GetRequestID(c.Request().Context()),
			)
		}
		return c.JSON(toolErr.HTTPStatusCode(), toolErr.ToJSON())
	}

	slog.Error("unexpected error",
		"error", err,
		"path", c.Request().URL.Path,
		"request_id", core.GetRequestID(c.Request().Context()),
	)
	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
