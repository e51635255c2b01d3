package admin

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"cakisi/internal/toolcalls"
	"cakisi/internal/version"
)

// Stats handles GET /admin/stats.
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	uptime := time.Since(h.startTime).Round(time.Second)

	resp := StatsResponse{
		Version:       version.Version,
		GoVersion:     runtime.Version(),
		Environment:   h.deps.Env,
		Uptime:        uptime.String(),
		UptimeSeconds: int64(uptime.Seconds()),
	}
	if h.deps.Cache != nil {
		resp.Cache = h.deps.Cache.Stats(ctx)
	}
	if h.deps.Limiter != nil {
		resp.RateLimit = h.deps.Limiter.Stats(ctx)
	}
	if h.deps.Pipeline != nil {
		resp.Pipeline = h.deps.Pipeline.Stats()
	}
	if h.deps.Recorder != nil {
		resp.ToolCalls = ToolCallStats{
			Since:      h.deps.Recorder.Since().UTC(),
			Persistent: h.deps.Recorder.Persistent(),
			Process:    h.deps.Recorder.Summary(),
		}
	}
	if h.deps.Reader != nil {
		persisted, err := h.deps.Reader.Summary(ctx, toolcalls.QueryParams{})
		if err != nil {
			// Stats stay useful without the database.
			slog.Warn("failed to read persisted tool call summary", "error", err)
		} else {
			resp.ToolCalls.Persisted = persisted
		}
	}

	return c.JSON(http.StatusOK, resp)
}
