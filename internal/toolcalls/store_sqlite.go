package toolcalls

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite allows at most 999 bound parameters per statement.
const (
	maxSQLiteParams    = 999
	columnsPerEntry    = 10
	maxEntriesPerBatch = maxSQLiteParams / columnsPerEntry
)

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the tool_calls table if needed and starts the
// retention cleanup loop when retentionDays > 0.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			tool TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms REAL NOT NULL DEFAULT 0,
			cached INTEGER NOT NULL DEFAULT 0,
			client_id TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			attributes JSON
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_calls table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool)",
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_request_id ON tool_calls(request_id)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch inserts entries in chunks that fit SQLite's parameter limit.
// Duplicate IDs are ignored.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerEntry)

		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

			var attrs any
			if raw := marshalAttributes(e.Attributes, e.ID); raw != nil {
				attrs = string(raw)
			}

			values = append(values,
				e.ID,
				e.RequestID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.Tool,
				e.Status,
				e.DurationMS,
				e.Cached,
				e.ClientID,
				e.Error,
				attrs,
			)
		}

		query := `INSERT OR IGNORE INTO tool_calls (id, request_id, timestamp, tool, status,
			duration_ms, cached, client_id, error, attributes) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert tool call batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The database itself belongs to the
// storage layer. Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(time.RFC3339Nano)

	result, err := s.db.Exec("DELETE FROM tool_calls WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old tool calls", "error", err)
		return
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		slog.Info("cleaned up old tool calls", "deleted", rows)
	}
}

// marshalAttributes returns nil for empty attributes and "{}" when
// marshaling fails.
func marshalAttributes(data map[string]any, entryID string) []byte {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Warn("failed to marshal tool call attributes", "error", err, "id", entryID)
		return []byte("{}")
	}
	return raw
}
