package toolcalls

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements Reader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL tool-call reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

func pgWhere(params QueryParams) (string, []any) {
	var conditions []string
	var args []any
	if !params.Since.IsZero() {
		args = append(args, params.Since.UTC())
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if params.Tool != "" {
		args = append(args, params.Tool)
		conditions = append(conditions, fmt.Sprintf("tool = $%d", len(args)))
	}
	return buildWhereClause(conditions), args
}

func (r *PostgreSQLReader) Summary(ctx context.Context, params QueryParams) ([]ToolSummary, error) {
	where, args := pgWhere(params)
	query := `SELECT tool, COUNT(*),
			COUNT(*) FILTER (WHERE status = 'error'),
			COUNT(*) FILTER (WHERE cached),
			COALESCE(AVG(duration_ms), 0)::float8
		FROM tool_calls` + where + ` GROUP BY tool ORDER BY tool`

	rows, err := r.pool.Query(ctx, query, args...)
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

func (r *PostgreSQLReader) Recent(ctx context.Context, params QueryParams) ([]Entry, error) {
	where, args := pgWhere(params)
	args = append(args, clampLimit(params.Limit))
	query := `SELECT id::text, request_id, timestamp, tool, status, duration_ms, cached, client_id, error, attributes
		FROM tool_calls` + where + fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent tool calls: %w", err)
	}
	defer rows.Close()

	result := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var attrs []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Tool, &e.Status, &e.DurationMS,
			&e.Cached, &e.ClientID, &e.Error, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan tool call row: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
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
