package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"cakisi/internal/core"
	"cakisi/internal/toolcalls"
)

// handleError converts errors to appropriate HTTP responses, matching the
// format used by the tool handlers in the server package.
func handleError(c echo.Context, err error) error {
	var toolErr *core.ToolError
	if errors.As(err, &toolErr) {
		return c.JSON(toolErr.HTTPStatusCode(), toolErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}

// ClearCache handles POST /admin/cache/clear. An optional ?tool= limits the
// clear to one tool.
func (h *Handler) ClearCache(c echo.Context) error {
	if h.deps.Cache == nil {
		return c.JSON(http.StatusOK, CacheClearResponse{})
	}

	tool := c.QueryParam("tool")
	if tool != "" && !h.knownCacheTool(tool) {
		return handleError(c, core.NewNotFoundError("unknown cacheable tool: "+tool))
	}

	n := h.deps.Cache.Clear(c.Request().Context(), tool)
	return c.JSON(http.StatusOK, CacheClearResponse{Tool: tool, Cleared: n})
}

func (h *Handler) knownCacheTool(tool string) bool {
	for _, t := range h.deps.Cache.Tools() {
		if t == tool {
			return true
		}
	}
	return false
}

// SweepPipeline handles POST /admin/pipeline/sweep.
func (h *Handler) SweepPipeline(c echo.Context) error {
	if h.deps.Pipeline == nil {
		return c.JSON(http.StatusOK, SweepResponse{})
	}
	return c.JSON(http.StatusOK, SweepResponse{Removed: h.deps.Pipeline.Sweep()})
}

// ResetRateLimits handles POST /admin/ratelimit/reset.
func (h *Handler) ResetRateLimits(c echo.Context) error {
	if h.deps.Limiter == nil {
		return c.JSON(http.StatusOK, ResetResponse{})
	}
	return c.JSON(http.StatusOK, ResetResponse{RemoteKeys: h.deps.Limiter.Reset(c.Request().Context())})
}

// ToolCalls handles GET /admin/tool-calls. Supports ?tool=, ?limit= and
// ?since= (RFC 3339).
func (h *Handler) ToolCalls(c echo.Context) error {
	if h.deps.Reader == nil {
		return c.JSON(http.StatusOK, []toolcalls.Entry{})
	}

	params, err := parseToolCallParams(c)
	if err != nil {
		return handleError(c, err)
	}

	entries, err := h.deps.Reader.Recent(c.Request().Context(), params)
	if err != nil {
		return handleError(c, core.NewInternalError("failed to read tool calls", err))
	}
	if entries == nil {
		entries = []toolcalls.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func parseToolCallParams(c echo.Context) (toolcalls.QueryParams, error) {
	params := toolcalls.QueryParams{Tool: c.QueryParam("tool")}

	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return params, core.NewInvalidRequestError("limit must be a positive integer", nil)
		}
		params.Limit = n
	}

	if s := c.QueryParam("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return params, core.NewInvalidRequestError("invalid since format, expected RFC 3339", nil)
		}
		params.Since = t
	}

	return params, nil
}

// Register mounts the admin routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/stats", h.Stats)
	g.GET("/tool-calls", h.ToolCalls)
	g.POST("/cache/clear", h.ClearCache)
	g.POST("/pipeline/sweep", h.SweepPipeline)
	g.POST("/ratelimit/reset", h.ResetRateLimits)
}
