package toolcalls

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cakisi/internal/observability"
)

type tally struct {
	calls     int64
	errors    int64
	cacheHits int64
	totalMS   float64
}

// Recorder is the single sink for finished tool calls. It keeps an
// in-memory tally per tool, updates Prometheus metrics and forwards the
// entry to the (possibly noop) persistent logger.
type Recorder struct {
	logger  LoggerInterface
	now     func() time.Time
	started time.Time

	mu    sync.Mutex
	tools map[string]*tally
}

// NewRecorder creates a Recorder. A nil logger is replaced by NoopLogger.
func NewRecorder(logger LoggerInterface) *Recorder {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Recorder{
		logger:  logger,
		now:     time.Now,
		started: time.Now(),
		tools:   make(map[string]*tally),
	}
}

// Record fills in ID and Timestamp when missing and records the entry.
func (r *Recorder) Record(e *Entry) {
	if e == nil || e.Tool == "" {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}

	r.mu.Lock()
	t, ok := r.tools[e.Tool]
	if !ok {
		t = &tally{}
		r.tools[e.Tool] = t
	}
	t.calls++
	if e.Status == StatusError {
		t.errors++
	}
	if e.Cached {
		t.cacheHits++
	}
	t.totalMS += e.DurationMS
	r.mu.Unlock()

	observability.ToolCalls.WithLabelValues(e.Tool, e.Status).Inc()
	observability.ToolLatency.WithLabelValues(e.Tool).Observe(e.DurationMS / 1000)

	r.logger.Write(e)
}

// Summary returns the in-memory tally since process start, ordered by tool.
func (r *Recorder) Summary() []ToolSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ToolSummary, 0, len(r.tools))
	for tool, t := range r.tools {
		s := ToolSummary{Tool: tool, Calls: t.calls, Errors: t.errors, CacheHits: t.cacheHits}
		if t.calls > 0 {
			s.AvgDurationMS = t.totalMS / float64(t.calls)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

// Since reports when the in-memory tally started.
func (r *Recorder) Since() time.Time {
	return r.started
}

// Persistent reports whether entries are written to a database.
func (r *Recorder) Persistent() bool {
	return r.logger.Config().Enabled
}
