package admin

import (
	"time"

	"cakisi/internal/cache"
	"cakisi/internal/pipeline"
	"cakisi/internal/ratelimit"
	"cakisi/internal/toolcalls"
)

// StatsResponse is the JSON response for GET /admin/stats.
type StatsResponse struct {
	Version       string          `json:"version"`
	GoVersion     string          `json:"go_version"`
	Environment   string          `json:"environment"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Cache         cache.Stats     `json:"cache"`
	RateLimit     ratelimit.Stats `json:"rate_limit"`
	Pipeline      pipeline.Stats  `json:"pipeline"`
	ToolCalls     ToolCallStats   `json:"tool_calls"`
}

// ToolCallStats combines the in-process tally with the persisted log.
type ToolCallStats struct {
	Since      time.Time               `json:"since"`
	Persistent bool                    `json:"persistent"`
	Process    []toolcalls.ToolSummary `json:"process"`
	Persisted  []toolcalls.ToolSummary `json:"persisted,omitempty"`
}

// CacheClearResponse is the JSON response for POST /admin/cache/clear.
type CacheClearResponse struct {
	Tool    string `json:"tool,omitempty"`
	Cleared int    `json:"cleared"`
}

// SweepResponse is the JSON response for POST /admin/pipeline/sweep.
type SweepResponse struct {
	Removed int `json:"removed"`
}

// ResetResponse is the JSON response for POST /admin/ratelimit/reset.
type ResetResponse struct {
	RemoteKeys int `json:"remote_keys_removed"`
}
