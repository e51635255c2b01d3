// Package ratelimit enforces a per-client request rate (sliding 60 second
// window) and an hourly upload byte quota.
//
// Counters live in the shared remote store when it is reachable so every
// instance sees the same totals. When the remote cannot be reached the
// limiter keeps equivalent state in process memory.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"cakisi/internal/cache"
	"cakisi/internal/core"
	"cakisi/internal/observability"
)

const (
	// RequestWindow is the sliding window for the request ceiling.
	RequestWindow = time.Minute
	// UploadWindow is the fixed window for the upload quota.
	UploadWindow = time.Hour

	// DefaultRequestsPerMinute is used when no ceiling is configured.
	DefaultRequestsPerMinute = 60
	// DefaultUploadMBPerHour is used when no quota is configured.
	DefaultUploadMBPerHour = 100

	// Ceilings above these values disable the check in development.
	devRequestBypass = 1000
	devUploadBypass  = 10000

	requestKeyPrefix = "ratelimit:requests:"
	uploadKeyPrefix  = "ratelimit:upload:"

	lockStripes = 64
	bytesPerMB  = 1024 * 1024
)

// Config configures a Limiter.
type Config struct {
	RequestsPerMinute int
	UploadMBPerHour   int
	// Dev enables the development bypass for very high ceilings.
	Dev bool
}

type uploadWindow struct {
	start time.Time
	bytes int64
}

// Limiter checks request and upload budgets per client identity.
type Limiter struct {
	kv  *cache.HybridKV
	now func() time.Time

	maxRequests    int64
	maxUploadBytes int64
	uploadMB       int
	skipRequests   bool
	skipUploads    bool

	// stripes serialize read-then-write per identity on the remote path.
	stripes [lockStripes]sync.Mutex

	mu       sync.Mutex
	requests map[string][]time.Time
	uploads  map[string]*uploadWindow
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter. remote may be nil, in which case only the
// in-memory path is used.
func New(remote cache.Remote, cfg Config, opts ...Option) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.UploadMBPerHour <= 0 {
		cfg.UploadMBPerHour = DefaultUploadMBPerHour
	}

	l := &Limiter{
		kv:             cache.NewHybridKV("ratelimit", remote, nil),
		now:            time.Now,
		maxRequests:    int64(cfg.RequestsPerMinute),
		maxUploadBytes: int64(cfg.UploadMBPerHour) * bytesPerMB,
		uploadMB:       cfg.UploadMBPerHour,
		skipRequests:   cfg.Dev && cfg.RequestsPerMinute > devRequestBypass,
		skipUploads:    cfg.Dev && cfg.UploadMBPerHour > devUploadBypass,
		requests:       make(map[string][]time.Time),
		uploads:        make(map[string]*uploadWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) lockFor(clientID string) *sync.Mutex {
	return &l.stripes[xxhash.Sum64String(clientID)%lockStripes]
}

// CheckRequest records one request for clientID, or returns a rate limit
// error when the client already made the maximum number of requests in the
// last minute.
func (l *Limiter) CheckRequest(ctx context.Context, clientID string) error {
	if l.skipRequests {
		return nil
	}

	lock := l.lockFor(clientID)
	lock.Lock()
	defer lock.Unlock()

	key := requestKeyPrefix + clientID
	res := l.kv.GetRemote(ctx, key)
	if res.Status != cache.StatusUnavailable {
		count := parseCount(res)
		if count >= l.maxRequests {
			return l.rejectRequest(clientID, cache.SourceRemote)
		}
		if _, status := l.kv.Increment(ctx, key, 1, RequestWindow); status == cache.StatusHit {
			return nil
		}
	}

	return l.checkRequestLocal(clientID)
}

func (l *Limiter) checkRequestLocal(clientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := trim(l.requests[clientID], now.Add(-RequestWindow))
	if int64(len(stamps)) >= l.maxRequests {
		l.requests[clientID] = stamps
		return l.rejectRequest(clientID, cache.SourceMemory)
	}
	l.requests[clientID] = append(stamps, now)
	return nil
}

// CheckUpload adds size bytes to clientID's hourly upload total, or returns
// a payload-too-large error when that would exceed the quota.
func (l *Limiter) CheckUpload(ctx context.Context, clientID string, size int64) error {
	if l.skipUploads {
		return nil
	}

	lock := l.lockFor(clientID)
	lock.Lock()
	defer lock.Unlock()

	key := uploadKeyPrefix + clientID
	res := l.kv.GetRemote(ctx, key)
	if res.Status != cache.StatusUnavailable {
		used := parseCount(res)
		if used+size > l.maxUploadBytes {
			return l.rejectUpload(clientID, cache.SourceRemote)
		}
		if _, status := l.kv.Increment(ctx, key, size, UploadWindow); status == cache.StatusHit {
			return nil
		}
	}

	return l.checkUploadLocal(clientID, size)
}

func (l *Limiter) checkUploadLocal(clientID string, size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.uploads[clientID]
	if !ok || now.Sub(w.start) > UploadWindow {
		w = &uploadWindow{start: now}
		l.uploads[clientID] = w
	}
	if w.bytes+size > l.maxUploadBytes {
		return l.rejectUpload(clientID, cache.SourceMemory)
	}
	w.bytes += size
	return nil
}

func (l *Limiter) rejectRequest(clientID string, source cache.Source) error {
	observability.RateLimitRejections.WithLabelValues("requests", string(source)).Inc()
	slog.Warn("rate limit exceeded",
		"event_type", "rate_limit",
		"client", clientID,
		"limit", l.maxRequests,
		"source", source,
	)
	return core.NewRateLimitError(
		fmt.Sprintf("rate limit exceeded: max %d requests per minute", l.maxRequests))
}

func (l *Limiter) rejectUpload(clientID string, source cache.Source) error {
	observability.RateLimitRejections.WithLabelValues("upload", string(source)).Inc()
	slog.Warn("upload quota exceeded",
		"event_type", "upload_limit",
		"client", clientID,
		"limit_mb", l.uploadMB,
		"source", source,
	)
	return core.NewPayloadTooLargeError(
		fmt.Sprintf("upload limit exceeded: max %dMB per hour", l.uploadMB))
}

// Sweep drops in-memory state for clients whose windows have lapsed and
// returns the number of clients removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, stamps := range l.requests {
		stamps = trim(stamps, now.Add(-RequestWindow))
		if len(stamps) == 0 {
			delete(l.requests, id)
			removed++
			continue
		}
		l.requests[id] = stamps
	}
	for id, w := range l.uploads {
		if now.Sub(w.start) > UploadWindow {
			delete(l.uploads, id)
			removed++
		}
	}
	return removed
}

// Reset clears every counter, remote and local. It returns the number of
// remote keys removed.
func (l *Limiter) Reset(ctx context.Context) int {
	removed := l.kv.Clear(ctx, "ratelimit:*")

	l.mu.Lock()
	l.requests = make(map[string][]time.Time)
	l.uploads = make(map[string]*uploadWindow)
	l.mu.Unlock()

	slog.Info("rate limits reset", "remote_keys", removed)
	return removed
}

// Stats is a snapshot of limiter configuration and in-memory state.
type Stats struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	UploadMBPerHour   int   `json:"upload_mb_per_hour"`
	RequestsBypassed  bool  `json:"requests_bypassed"`
	UploadsBypassed   bool  `json:"uploads_bypassed"`
	RemoteAvailable   bool  `json:"remote_available"`
	LocalClients      int   `json:"local_clients"`
	LocalUploads      int   `json:"local_upload_clients"`
}

// Stats reports configuration and the size of the in-memory fallback state.
func (l *Limiter) Stats(ctx context.Context) Stats {
	s := Stats{
		RequestsPerMinute: l.maxRequests,
		UploadMBPerHour:   l.uploadMB,
		RequestsBypassed:  l.skipRequests,
		UploadsBypassed:   l.skipUploads,
		RemoteAvailable:   l.kv.GetRemote(ctx, "ratelimit:probe").Status != cache.StatusUnavailable,
	}
	l.mu.Lock()
	s.LocalClients = len(l.requests)
	s.LocalUploads = len(l.uploads)
	l.mu.Unlock()
	return s
}

// trim drops timestamps before cutoff. stamps is ordered oldest first.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}

func parseCount(res cache.Result) int64 {
	if res.Status != cache.StatusHit {
		return 0
	}
	n, err := strconv.ParseInt(res.Value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
