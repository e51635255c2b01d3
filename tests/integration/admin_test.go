//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cakisi/config"
	"cakisi/internal/admin"
	"cakisi/internal/toolcalls"
)

const adminKey = "integration-admin-key"

func getAdmin(t *testing.T, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer closeBody(resp)
	if resp.StatusCode == http.StatusOK && out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func testAdminToolCalls(t *testing.T, dbType string) {
	fixture := SetupTestServer(t, TestServerConfig{
		DBType:                dbType,
		AdminEndpointsEnabled: true,
		AdminKey:              adminKey,
	})

	resp := postJSON(t, fixture.ServerURL+"/tools/url-encoder/convert",
		map[string]string{"text": "a b " + uuid.NewString()}, nil)
	closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Flushed by the logger's one second interval.
	require.Eventually(t, func() bool {
		var entries []toolcalls.Entry
		if getAdmin(t, fixture.ServerURL+"/admin/tool-calls?tool=url-encoder&limit=5", &entries) != http.StatusOK {
			return false
		}
		return len(entries) > 0 && entries[0].Tool == "url-encoder"
	}, 10*time.Second, 200*time.Millisecond)

	var stats admin.StatsResponse
	require.Equal(t, http.StatusOK, getAdmin(t, fixture.ServerURL+"/admin/stats", &stats))
	assert.True(t, stats.ToolCalls.Persistent)

	var found bool
	for _, s := range stats.ToolCalls.Persisted {
		if s.Tool == "url-encoder" {
			found = true
			assert.GreaterOrEqual(t, s.Calls, int64(1))
		}
	}
	assert.True(t, found, "persisted summary should include url-encoder")
}

func TestAdminToolCalls_PostgreSQL(t *testing.T) {
	testAdminToolCalls(t, config.StoragePostgreSQL)
}

func TestAdminToolCalls_MongoDB(t *testing.T) {
	testAdminToolCalls(t, config.StorageMongoDB)
}

func TestAdmin_RequiresKey(t *testing.T) {
	fixture := SetupTestServer(t, TestServerConfig{
		DBType:                config.StoragePostgreSQL,
		AdminEndpointsEnabled: true,
		AdminKey:              adminKey,
	})

	resp, err := http.Get(fixture.ServerURL + "/admin/stats")
	require.NoError(t, err)
	closeBody(resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
