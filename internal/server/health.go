package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"cakisi/internal/version"
)

const (
	checkOK       = "ok"
	checkError    = "error"
	checkDisabled = "disabled"
	checkDegraded = "unavailable"
)

// Check is the result of one health probe.
type Check struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	Environment   string           `json:"environment"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks"`
}

// Health handles GET /health. Status is "healthy" when every probe passes,
// "unhealthy" (503) when the temp directory is unusable and "degraded" when
// the remote store or the tool-call database is unreachable.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := map[string]Check{
		"temp_directory": h.checkTempDir(),
		"memory":         checkMemory(),
		"remote_store":   h.checkRemote(ctx),
		"storage":        h.checkStorage(ctx),
	}

	status, code := "healthy", http.StatusOK
	for _, ch := range checks {
		switch ch.Status {
		case checkError:
			status, code = "unhealthy", http.StatusServiceUnavailable
		case checkDegraded:
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	return c.JSON(code, HealthResponse{
		Status:        status,
		Version:       version.Version,
		Environment:   h.deps.Env,
		UptimeSeconds: time.Since(h.startTime).Round(10 * time.Millisecond).Seconds(),
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
	})
}

// Ready handles GET /ready. The service is ready when the temp directory is
// writable and tools are registered.
func (h *Handler) Ready(c echo.Context) error {
	if ch := h.checkTempDir(); ch.Status != checkOK {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "temp directory not writable: " + ch.Error,
		})
	}
	n := len(h.deps.Tools.List())
	if n == 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "no tools registered",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready", "tools": n})
}

func (h *Handler) checkTempDir() Check {
	dir := h.deps.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	probe := filepath.Join(dir, ".health_check")
	detail := map[string]any{"path": dir}

	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{Status: checkError, Error: err.Error(), Detail: detail}
	}
	defer os.Remove(probe)

	data, err := os.ReadFile(probe)
	if err != nil || string(data) != "ok" {
		msg := "probe mismatch"
		if err != nil {
			msg = err.Error()
		}
		return Check{Status: checkError, Error: msg, Detail: detail}
	}
	return Check{Status: checkOK, Detail: detail}
}

func checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Check{Status: checkOK, Detail: map[string]any{
		"heap_alloc_mb": float64(m.HeapAlloc) / mb,
		"sys_mb":        float64(m.Sys) / mb,
		"goroutines":    runtime.NumGoroutine(),
	}}
}

func (h *Handler) checkRemote(ctx context.Context) Check {
	if h.deps.Remote == nil {
		return Check{Status: checkDisabled}
	}
	if err := h.deps.Remote.Ping(ctx); err != nil {
		return Check{Status: checkDegraded, Error: err.Error()}
	}
	return Check{Status: checkOK}
}

func (h *Handler) checkStorage(ctx context.Context) Check {
	if h.deps.Storage == nil {
		return Check{Status: checkDisabled}
	}
	if err := h.deps.Storage.Ping(ctx); err != nil {
		return Check{Status: checkDegraded, Error: err.Error(), Detail: map[string]any{"type": h.deps.Storage.Type()}}
	}
	return Check{Status: checkOK, Detail: map[string]any{"type": h.deps.Storage.Type()}}
}
