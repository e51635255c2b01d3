//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"cakisi/config"
	"cakisi/internal/app"
)

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is either "postgresql" or "mongodb"
	DBType string

	// AdminEndpointsEnabled enables admin API endpoints
	AdminEndpointsEnabled bool

	// AdminKey protects the admin API (empty = open)
	AdminKey string

	// RedisKeyPrefix enables the shared Redis store under this prefix.
	// Instances started with the same prefix share cache and rate limits.
	RedisKeyPrefix string
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the test server
	ServerURL string

	// App is the running application
	App *app.App

	// PgPool is the PostgreSQL connection pool (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDb is the MongoDB database (for DB assertions)
	MongoDb *mongo.Database

	// DBType is the configured database type
	DBType string
}

// SetupTestServer starts the application on a free loopback port.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	port, err := findAvailablePort()
	require.NoError(t, err, "failed to find available port")

	application, err := app.New(GetTestContext(), app.Config{
		AppConfig: buildAppConfig(t, cfg, port),
	})
	require.NoError(t, err, "failed to create app")

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	go func() {
		_ = application.Start(fmt.Sprintf("127.0.0.1:%d", port))
	}()

	err = waitForServer(serverURL + "/ready")
	require.NoError(t, err, "server failed to become ready")

	fixture := &TestServerFixture{
		ServerURL: serverURL,
		App:       application,
		DBType:    cfg.DBType,
	}
	switch cfg.DBType {
	case config.StoragePostgreSQL:
		fixture.PgPool = GetPostgreSQLPool()
	case config.StorageMongoDB:
		fixture.MongoDb = GetMongoDatabase()
	}

	t.Cleanup(func() { fixture.Shutdown(t) })
	return fixture
}

// FlushAndClose stops the app, flushing buffered tool calls.
// Call this before making any DB assertions.
func (f *TestServerFixture) FlushAndClose(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, f.App.Shutdown(ctx), "failed to shutdown app")
}

// Shutdown stops the app, ignoring errors.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = f.App.Shutdown(ctx)
}

func buildAppConfig(t *testing.T, cfg TestServerConfig, port int) *config.LoadResult {
	t.Helper()

	appCfg := config.Defaults()
	appCfg.Server.Port = fmt.Sprintf("%d", port)
	appCfg.Server.Env = config.EnvStaging
	appCfg.Server.TempDir = t.TempDir()
	appCfg.Pipeline.Dir = ""
	appCfg.Redis.Enabled = false
	if cfg.RedisKeyPrefix != "" {
		appCfg.Redis.Enabled = true
		appCfg.Redis.URL = env.redisURL
		appCfg.Redis.KeyPrefix = cfg.RedisKeyPrefix
	}
	appCfg.Metrics.Enabled = false
	appCfg.ToolCalls = config.ToolCallsConfig{
		Enabled:       true,
		BufferSize:    100,
		FlushInterval: 1,
	}
	appCfg.Admin = config.AdminConfig{
		EndpointsEnabled: &cfg.AdminEndpointsEnabled,
		Key:              cfg.AdminKey,
	}

	switch cfg.DBType {
	case config.StoragePostgreSQL:
		appCfg.Storage.Type = config.StoragePostgreSQL
		appCfg.Storage.PostgreSQL = config.PostgreSQLStorageConfig{URL: env.pgURL, MaxConns: 5}
	case config.StorageMongoDB:
		appCfg.Storage.Type = config.StorageMongoDB
		appCfg.Storage.MongoDB = config.MongoDBStorageConfig{URL: env.mongoURL, Database: testDatabase}
	default:
		t.Fatalf("unsupported DB type: %s", cfg.DBType)
	}

	return &config.LoadResult{Config: appCfg}
}

// postJSON sends a JSON body and returns the response.
func postJSON(t *testing.T, url string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// waitForServer waits for the server to become ready.
func waitForServer(url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	for range 50 {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become ready within timeout")
}

// findAvailablePort finds an available TCP port on loopback.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
