package toolcalls

import (
	"context"
	"strings"
	"time"
)

// QueryParams filters reads from the tool-call log.
type QueryParams struct {
	Since time.Time // inclusive; zero means all time
	Tool  string    // empty means every tool
	Limit int       // for Recent; defaults to 50, capped at 200
}

// ToolSummary aggregates calls for a single tool.
type ToolSummary struct {
	Tool          string  `json:"tool"`
	Calls         int64   `json:"calls"`
	Errors        int64   `json:"errors"`
	CacheHits     int64   `json:"cache_hits"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Reader provides read access to persisted tool calls for the admin API.
type Reader interface {
	// Summary returns per-tool aggregates ordered by tool slug.
	Summary(ctx context.Context, params QueryParams) ([]ToolSummary, error)

	// Recent returns the newest entries first.
	Recent(ctx context.Context, params QueryParams) ([]Entry, error)
}

func buildWhereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// clampLimit defaults limit to 50 and caps it at 200.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, 200)
}
