package toolcalls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

const insertToolCallSQL = `
	INSERT INTO tool_calls (id, request_id, timestamp, tool, status,
		duration_ms, cached, client_id, error, attributes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING
`

// NewPostgreSQLStore creates the tool_calls table if needed and starts the
// retention cleanup loop when retentionDays > 0.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tool_calls (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			tool TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			cached BOOLEAN NOT NULL DEFAULT FALSE,
			client_id TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			attributes JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_calls table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool)",
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_request_id ON tool_calls(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_attributes_gin ON tool_calls USING GIN (attributes)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch inserts entries individually for small batches and inside a
// transaction for larger ones.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) < 10 {
		return s.writeBatchSmall(ctx, entries)
	}
	return s.writeBatchLarge(ctx, entries)
}

func (s *PostgreSQLStore) writeBatchSmall(ctx context.Context, entries []*Entry) error {
	var errs []error

	for _, e := range entries {
		_, err := s.pool.Exec(ctx, insertToolCallSQL, entryArgs(e)...)
		if err != nil {
			slog.Warn("failed to insert tool call", "error", err, "id", e.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d tool calls: %w", len(errs), len(entries), errors.Join(errs...))
	}
	return nil
}

func (s *PostgreSQLStore) writeBatchLarge(ctx context.Context, entries []*Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var errs []error

	for _, e := range entries {
		if _, err := tx.Exec(ctx, insertToolCallSQL, entryArgs(e)...); err != nil {
			slog.Warn("failed to insert tool call in batch", "error", err, "id", e.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d tool calls: %w", len(errs), len(entries), errors.Join(errs...))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func entryArgs(e *Entry) []any {
	return []any{
		e.ID, e.RequestID, e.Timestamp, e.Tool, e.Status,
		e.DurationMS, e.Cached, e.ClientID, e.Error,
		marshalAttributes(e.Attributes, e.ID),
	}
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The pool belongs to the storage layer.
// Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.pool.Exec(ctx, "DELETE FROM tool_calls WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old tool calls", "error", err)
		return
	}

	if rows := result.RowsAffected(); rows > 0 {
		slog.Info("cleaned up old tool calls", "deleted", rows)
	}
}
