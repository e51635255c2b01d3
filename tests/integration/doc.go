// Package integration runs the application end to end against PostgreSQL,
// MongoDB and Redis containers. It checks the tool call log written after
// HTTP requests and the Redis-backed cache shared between instances.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
