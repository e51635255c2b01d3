package toolcalls

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteReader implements Reader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite tool-call reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

func sqliteWhere(params QueryParams) (string, []any) {
	var conditions []string
	var args []any
	if !params.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, params.Since.UTC().Format(time.RFC3339Nano))
	}
	if params.Tool != "" {
		conditions = append(conditions, "tool = ?")
		args = append(args, params.Tool)
	}
	return buildWhereClause(conditions), args
}

func (r *SQLiteReader) Summary(ctx context.Context, params QueryParams) ([]ToolSummary, error) {
	where, args := sqliteWhere(params)
	query := `SELECT tool, COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(cached), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM tool_calls` + where + ` GROUP BY tool ORDER BY tool`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool call summary: %w", err)
	}
	defer rows.Close()

	result := make([]ToolSummary, 0)
	for rows.Next() {
		var s ToolSummary
		if err := rows.Scan(&s.Tool, &s.Calls, &s.Errors, &s.CacheHits, &s.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan tool call summary row: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool call summary rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteReader) Recent(ctx context.Context, params QueryParams) ([]Entry, error) {
	where, args := sqliteWhere(params)
	query := `SELECT id, request_id, timestamp, tool, status, duration_ms, cached, client_id, error, attributes
		FROM tool_calls` + where + ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, clampLimit(params.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent tool calls: %w", err)
	}
	defer rows.Close()

	result := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var ts string
		var attrs sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &ts, &e.Tool, &e.Status, &e.DurationMS,
			&e.Cached, &e.ClientID, &e.Error, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan tool call row: %w", err)
		}
		e.Timestamp = parseTimestamp(ts, e.ID)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &e.Attributes); err != nil {
				slog.Warn("failed to unmarshal tool call attributes", "error", err, "id", e.ID)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool call rows: %w", err)
	}
	return result, nil
}

func parseTimestamp(ts, entryID string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC()
		}
	}
	slog.Warn("failed to parse tool call timestamp", "id", entryID, "raw_timestamp", ts)
	return time.Time{}
}
