package toolcalls

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cakisi/config"
	"cakisi/internal/storage"
)

func TestNew_Disabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.ToolCalls.Enabled = false

	res, err := New(t.Context(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &NoopLogger{}, res.Logger)
	assert.Nil(t, res.Reader)
	assert.Nil(t, res.Storage)
	assert.NoError(t, res.Close())
}

func TestNew_SQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.ToolCalls.Enabled = true
	cfg.Storage.Type = storage.TypeSQLite
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "nested", "calls.db")

	res, err := New(t.Context(), cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Storage)
	require.NotNil(t, res.Reader)
	assert.True(t, res.Logger.Config().Enabled)

	res.Logger.Write(&Entry{ID: "x", Tool: "base64", Status: StatusSuccess})
	require.NoError(t, res.Logger.Close())

	summary, err := res.Reader.Summary(t.Context(), QueryParams{})
	require.NoError(t, err)
	require.Len(t, summary, 1)

	assert.NoError(t, res.Close())
}

func TestNew_UnknownStorage(t *testing.T) {
	cfg := config.Defaults()
	cfg.ToolCalls.Enabled = true
	cfg.Storage.Type = "cassandra"

	_, err := New(t.Context(), cfg)
	assert.Error(t, err)
}

func TestNewWithSharedStorage_RequiresStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.ToolCalls.Enabled = true

	_, err := NewWithSharedStorage(t.Context(), cfg, nil)
	assert.Error(t, err)
}

func TestBuildLoggerConfig(t *testing.T) {
	got := buildLoggerConfig(config.ToolCallsConfig{Enabled: true, RetentionDays: 3})
	assert.Equal(t, 1000, got.BufferSize)
	assert.Equal(t, 3, got.RetentionDays)
	assert.Positive(t, got.FlushInterval)
}
