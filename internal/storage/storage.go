// Package storage opens the database behind the tool-call log. One
// connection is opened per process and shared by the store that writes
// tool calls and the reader that summarizes them.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Backend names, matching the STORAGE_TYPE values.
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// connectTimeout bounds the initial ping of every backend.
const connectTimeout = 10 * time.Second

// Config selects and configures one backend.
type Config struct {
	Type       string
	SQLite     SQLiteConfig
	PostgreSQL PostgreSQLConfig
	MongoDB    MongoDBConfig
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	// Path of the database file; parent directories are created.
	Path string
}

// PostgreSQLConfig holds PostgreSQL settings.
type PostgreSQLConfig struct {
	URL      string
	MaxConns int
}

// MongoDBConfig holds MongoDB settings.
type MongoDBConfig struct {
	URL      string
	Database string
}

// Storage is an open database connection. Implementations are safe for
// concurrent use.
type Storage interface {
	// Type returns one of the Type* constants.
	Type() string
	// Ping verifies the connection. Used by the health check.
	Ping(ctx context.Context) error
	Close() error
}

// SQLBackend is implemented by the SQLite storage.
type SQLBackend interface {
	Storage
	DB() *sql.DB
}

// PostgresBackend is implemented by the PostgreSQL storage.
type PostgresBackend interface {
	Storage
	Pool() *pgxpool.Pool
}

// MongoBackend is implemented by the MongoDB storage.
type MongoBackend interface {
	Storage
	Database() *mongo.Database
}

// New opens the backend named by cfg.Type and verifies it with a ping.
func New(ctx context.Context, cfg Config) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch cfg.Type {
	case TypeSQLite:
		s, err = NewSQLite(cfg.SQLite)
	case TypePostgreSQL:
		s, err = NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		s, err = NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("storage connected", "type", s.Type())
	return s, nil
}

// DefaultConfig returns the SQLite configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Type:       TypeSQLite,
		SQLite:     SQLiteConfig{Path: defaultSQLitePath},
		PostgreSQL: PostgreSQLConfig{MaxConns: defaultMaxConns},
		MongoDB:    MongoDBConfig{Database: defaultDatabase},
	}
}
