//go:build integration

// Package dbassert queries the tool call log directly for test assertions.
package dbassert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ToolCall mirrors toolcalls.Entry for test assertions.
type ToolCall struct {
	ID         string         `bson:"_id"`
	RequestID  string         `bson:"request_id"`
	Timestamp  time.Time      `bson:"timestamp"`
	Tool       string         `bson:"tool"`
	Status     string         `bson:"status"`
	DurationMS float64        `bson:"duration_ms"`
	Cached     bool           `bson:"cached"`
	ClientID   string         `bson:"client_id"`
	Error      string         `bson:"error"`
	Attributes map[string]any `bson:"attributes"`
}

// Expected contains expected values for tool call assertions.
// Zero values are not checked, allowing partial matching.
type Expected struct {
	Tool      string
	Status    string
	RequestID string
	Action    string
	Cached    bool
}

// QueryByRequestID returns the tool calls for requestID from PostgreSQL.
func QueryByRequestID(t *testing.T, pool *pgxpool.Pool, requestID string) []ToolCall {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, `
		SELECT id::text, request_id, timestamp, tool, status, duration_ms, cached,
		       client_id, error, attributes
		FROM tool_calls
		WHERE request_id = $1
		ORDER BY timestamp ASC
	`, requestID)
	require.NoError(t, err, "failed to query tool calls")
	defer rows.Close()

	var calls []ToolCall
	for rows.Next() {
		var c ToolCall
		var attrs []byte
		err := rows.Scan(&c.ID, &c.RequestID, &c.Timestamp, &c.Tool, &c.Status,
			&c.DurationMS, &c.Cached, &c.ClientID, &c.Error, &attrs)
		require.NoError(t, err, "failed to scan tool call row")
		if attrs != nil {
			require.NoError(t, json.Unmarshal(attrs, &c.Attributes))
		}
		calls = append(calls, c)
	}
	require.NoError(t, rows.Err(), "error iterating tool call rows")
	return calls
}

// QueryByRequestIDMongo returns the tool calls for requestID from MongoDB.
func QueryByRequestIDMongo(t *testing.T, db *mongo.Database, requestID string) []ToolCall {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := db.Collection("tool_calls").Find(ctx, bson.M{"request_id": requestID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	require.NoError(t, err, "failed to query tool calls from MongoDB")
	defer cursor.Close(ctx)

	var calls []ToolCall
	require.NoError(t, cursor.All(ctx, &calls), "failed to decode tool calls")
	return calls
}

// Clear deletes all tool calls from PostgreSQL.
func Clear(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, "DELETE FROM tool_calls")
	if err != nil {
		// The table only exists after the first app start.
		t.Logf("clear tool_calls: %v", err)
	}
}

// ClearMongo deletes all tool calls from MongoDB.
func ClearMongo(t *testing.T, db *mongo.Database) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.Collection("tool_calls").DeleteMany(ctx, bson.M{})
	require.NoError(t, err, "failed to clear tool calls from MongoDB")
}

// AssertComplete verifies the fields every entry must carry.
func AssertComplete(t *testing.T, c ToolCall) {
	t.Helper()
	assert.NotEmpty(t, c.ID, "ID should be set")
	assert.NotEmpty(t, c.RequestID, "RequestID should be set")
	assert.False(t, c.Timestamp.IsZero(), "Timestamp should be set")
	assert.NotEmpty(t, c.Tool, "Tool should be set")
	assert.NotEmpty(t, c.Status, "Status should be set")
	assert.NotEmpty(t, c.ClientID, "ClientID should be set")
	assert.GreaterOrEqual(t, c.DurationMS, 0.0)
}

// AssertMatches compares c against the non-zero fields of want.
func AssertMatches(t *testing.T, want Expected, c ToolCall) {
	t.Helper()
	if want.Tool != "" {
		assert.Equal(t, want.Tool, c.Tool, "tool mismatch")
	}
	if want.Status != "" {
		assert.Equal(t, want.Status, c.Status, "status mismatch")
	}
	if want.RequestID != "" {
		assert.Equal(t, want.RequestID, c.RequestID, "request ID mismatch")
	}
	if want.Action != "" {
		assert.Equal(t, want.Action, c.Attributes["action"], "action mismatch")
	}
	assert.Equal(t, want.Cached, c.Cached, "cached mismatch")
}
