package toolcalls

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cakisi/internal/storage"
)

func newSQLiteBackend(t *testing.T) (*SQLiteStore, *SQLiteReader) {
	t.Helper()

	st, err := storage.NewSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "calls.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	store, err := NewSQLiteStore(st.DB(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reader, err := NewSQLiteReader(st.DB())
	require.NoError(t, err)
	return store, reader
}

func TestSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil, 0)
	assert.Error(t, err)
	_, err = NewSQLiteReader(nil)
	assert.Error(t, err)
}

func TestSQLiteStore_WriteAndSummarize(t *testing.T) {
	store, reader := newSQLiteBackend(t)
	ctx := t.Context()
	base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{ID: "a", RequestID: "r1", Timestamp: base, Tool: "base64", Status: StatusSuccess, DurationMS: 10, ClientID: "10.0.0.1",
			Attributes: map[string]any{"action": "encode"}},
		{ID: "b", RequestID: "r2", Timestamp: base.Add(time.Minute), Tool: "base64", Status: StatusError, DurationMS: 20, Error: "invalid base64"},
		{ID: "c", RequestID: "r3", Timestamp: base.Add(2 * time.Minute), Tool: "json-formatter", Status: StatusSuccess, DurationMS: 3, Cached: true},
	}
	require.NoError(t, store.WriteBatch(ctx, entries))
	// duplicates are ignored
	require.NoError(t, store.WriteBatch(ctx, entries[:1]))
	require.NoError(t, store.WriteBatch(ctx, nil))

	summary, err := reader.Summary(ctx, QueryParams{})
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, ToolSummary{Tool: "base64", Calls: 2, Errors: 1, AvgDurationMS: 15}, summary[0])
	assert.Equal(t, ToolSummary{Tool: "json-formatter", Calls: 1, CacheHits: 1, AvgDurationMS: 3}, summary[1])

	filtered, err := reader.Summary(ctx, QueryParams{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.EqualValues(t, 1, filtered[0].Calls)

	recent, err := reader.Recent(ctx, QueryParams{Tool: "base64"})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, "invalid base64", recent[0].Error)
	assert.Equal(t, base.Add(time.Minute), recent[0].Timestamp)
	assert.Equal(t, "a", recent[1].ID)
	assert.Equal(t, "encode", recent[1].Attributes["action"])
	assert.Equal(t, "10.0.0.1", recent[1].ClientID)

	limited, err := reader.Recent(ctx, QueryParams{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)
	assert.True(t, limited[0].Cached)
}

func TestSQLiteStore_ChunksLargeBatches(t *testing.T) {
	store, reader := newSQLiteBackend(t)
	ctx := t.Context()

	n := maxEntriesPerBatch*2 + 5
	entries := make([]*Entry, n)
	for i := range entries {
		entries[i] = &Entry{
			ID:        fmt.Sprintf("id-%04d", i),
			Timestamp: time.Now().UTC(),
			Tool:      "url-encoder",
			Status:    StatusSuccess,
		}
	}
	require.NoError(t, store.WriteBatch(ctx, entries))

	summary, err := reader.Summary(ctx, QueryParams{})
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.EqualValues(t, n, summary[0].Calls)
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	store, reader := newSQLiteBackend(t)
	ctx := t.Context()
	store.retentionDays = 7

	require.NoError(t, store.WriteBatch(ctx, []*Entry{
		{ID: "old", Timestamp: time.Now().AddDate(0, 0, -30), Tool: "base64", Status: StatusSuccess},
		{ID: "new", Timestamp: time.Now(), Tool: "base64", Status: StatusSuccess},
	}))

	store.cleanup()

	recent, err := reader.Recent(ctx, QueryParams{})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 50, clampLimit(-3))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, 200, clampLimit(5000))
}
