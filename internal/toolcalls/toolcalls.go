// Package toolcalls records every tool invocation: an in-memory per-tool
// tally for the admin API and, when enabled, a durable log written in
// batches to SQLite, PostgreSQL or MongoDB.
package toolcalls

import (
	"context"
	"time"
)

// Status values for Entry.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Store defines the interface for tool-call storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// Entry is a single tool invocation.
type Entry struct {
	// ID is a unique identifier for this entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID links to the HTTP request (X-Request-ID header)
	RequestID string `json:"request_id" bson:"request_id"`

	// Timestamp is when the call completed
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Tool       string  `json:"tool" bson:"tool"`
	Status     string  `json:"status" bson:"status"`
	DurationMS float64 `json:"duration_ms" bson:"duration_ms"`
	Cached     bool    `json:"cached" bson:"cached"`
	ClientID   string  `json:"client_id" bson:"client_id"`
	Error      string  `json:"error,omitempty" bson:"error,omitempty"`

	// Attributes holds tool-specific details such as the action or input size.
	Attributes map[string]any `json:"attributes,omitempty" bson:"attributes,omitempty"`
}

// Config holds tool-call logging configuration
type Config struct {
	// Enabled controls whether entries are persisted
	Enabled bool

	// BufferSize is the number of entries to buffer before dropping
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep entries (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}
