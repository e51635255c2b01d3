//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cakisi/config"
	"cakisi/tests/integration/dbassert"
)

func sendBase64(t *testing.T, serverURL, text, requestID string) int {
	t.Helper()
	resp := postJSON(t, serverURL+"/tools/base64/convert",
		map[string]string{"text": text, "action": "encode"},
		map[string]string{"X-Request-ID": requestID})
	defer closeBody(resp)
	return resp.StatusCode
}

func TestToolCalls_SuccessAndCacheHit_PostgreSQL(t *testing.T) {
	dbassert.Clear(t, GetPostgreSQLPool())
	fixture := SetupTestServer(t, TestServerConfig{DBType: config.StoragePostgreSQL})

	first, second := uuid.New().String(), uuid.New().String()
	require.Equal(t, http.StatusOK, sendBase64(t, fixture.ServerURL, "hello", first))
	require.Equal(t, http.StatusOK, sendBase64(t, fixture.ServerURL, "hello", second))

	fixture.FlushAndClose(t)

	calls := dbassert.QueryByRequestID(t, fixture.PgPool, first)
	require.Len(t, calls, 1)
	dbassert.AssertComplete(t, calls[0])
	dbassert.AssertMatches(t, dbassert.Expected{
		Tool: "base64", Status: "success", RequestID: first, Action: "encode",
	}, calls[0])

	calls = dbassert.QueryByRequestID(t, fixture.PgPool, second)
	require.Len(t, calls, 1)
	dbassert.AssertMatches(t, dbassert.Expected{
		Tool: "base64", Status: "success", RequestID: second, Cached: true,
	}, calls[0])
}

func TestToolCalls_Error_PostgreSQL(t *testing.T) {
	fixture := SetupTestServer(t, TestServerConfig{DBType: config.StoragePostgreSQL})

	requestID := uuid.New().String()
	resp := postJSON(t, fixture.ServerURL+"/tools/json-formatter/format",
		map[string]string{"text": "{broken"},
		map[string]string{"X-Request-ID": requestID})
	closeBody(resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fixture.FlushAndClose(t)

	calls := dbassert.QueryByRequestID(t, fixture.PgPool, requestID)
	require.Len(t, calls, 1)
	dbassert.AssertComplete(t, calls[0])
	dbassert.AssertMatches(t, dbassert.Expected{Tool: "json-formatter", Status: "error"}, calls[0])
	assert.Equal(t, "invalid JSON", calls[0].Error)
}

func TestToolCalls_SuccessAndCacheHit_MongoDB(t *testing.T) {
	dbassert.ClearMongo(t, GetMongoDatabase())
	fixture := SetupTestServer(t, TestServerConfig{DBType: config.StorageMongoDB})

	first, second := uuid.New().String(), uuid.New().String()
	require.Equal(t, http.StatusOK, sendBase64(t, fixture.ServerURL, "mongo", first))
	require.Equal(t, http.StatusOK, sendBase64(t, fixture.ServerURL, "mongo", second))

	fixture.FlushAndClose(t)

	calls := dbassert.QueryByRequestIDMongo(t, fixture.MongoDb, first)
	require.Len(t, calls, 1)
	dbassert.AssertComplete(t, calls[0])
	dbassert.AssertMatches(t, dbassert.Expected{
		Tool: "base64", Status: "success", RequestID: first, Action: "encode",
	}, calls[0])

	calls = dbassert.QueryByRequestIDMongo(t, fixture.MongoDb, second)
	require.Len(t, calls, 1)
	dbassert.AssertMatches(t, dbassert.Expected{Tool: "base64", Status: "success", Cached: true}, calls[0])
}
