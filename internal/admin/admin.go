// Package admin provides the admin JSON API: component stats and the
// maintenance actions (cache clear, pipeline sweep, rate-limit reset).
package admin

import (
	"time"

	"cakisi/internal/cache"
	"cakisi/internal/pipeline"
	"cakisi/internal/ratelimit"
	"cakisi/internal/toolcalls"
)

// Deps are the components the admin API inspects. Reader may be nil when
// tool calls are not persisted.
type Deps struct {
	Cache    *cache.ToolCache
	Limiter  *ratelimit.Limiter
	Pipeline *pipeline.Registry
	Recorder *toolcalls.Recorder
	Reader   toolcalls.Reader
	Env      string
}

// Handler serves admin API endpoints.
type Handler struct {
	deps      Deps
	startTime time.Time
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:      deps,
		startTime: time.Now(),
	}
}
