package toolcalls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cakisi/config"
	"cakisi/internal/storage"
)

// Result holds the initialized tool-call logger and its dependencies.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Logger  LoggerInterface
	Reader  Reader
	Storage storage.Storage
}

// Close releases all resources held by the logger and storage.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates the tool-call logger from configuration.
// If persistence is disabled it returns a NoopLogger with nil reader and storage.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.ToolCalls.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	res, err := NewWithSharedStorage(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	res.Storage = store
	return res, nil
}

// NewWithSharedStorage builds the logger and reader on an existing storage
// connection. The caller keeps ownership of store.
func NewWithSharedStorage(ctx context.Context, cfg *config.Config, store storage.Storage) (*Result, error) {
	if !cfg.ToolCalls.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required when tool call logging is enabled")
	}

	callStore, reader, err := createBackend(ctx, store, cfg.ToolCalls.RetentionDays)
	if err != nil {
		return nil, err
	}

	return &Result{
		Logger: NewLogger(callStore, buildLoggerConfig(cfg.ToolCalls)),
		Reader: reader,
	}, nil
}

func buildStorageConfig(cfg *config.Config) storage.Config {
	storageCfg := storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	}

	defaults := storage.DefaultConfig()
	if storageCfg.Type == "" {
		storageCfg.Type = defaults.Type
	}
	if storageCfg.SQLite.Path == "" {
		storageCfg.SQLite.Path = defaults.SQLite.Path
	}
	if storageCfg.MongoDB.Database == "" {
		storageCfg.MongoDB.Database = defaults.MongoDB.Database
	}

	return storageCfg
}

func createBackend(ctx context.Context, store storage.Storage, retentionDays int) (Store, Reader, error) {
	switch b := store.(type) {
	case storage.SQLBackend:
		s, err := NewSQLiteStore(b.DB(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewSQLiteReader(b.DB())
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, r, nil

	case storage.PostgresBackend:
		s, err := NewPostgreSQLStore(ctx, b.Pool(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewPostgreSQLReader(b.Pool())
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, r, nil

	case storage.MongoBackend:
		s, err := NewMongoDBStore(ctx, b.Database(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewMongoDBReader(b.Database())
		if err != nil {
			return nil, nil, err
		}
		return s, r, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", store.Type())
	}
}

func buildLoggerConfig(c config.ToolCallsConfig) Config {
	cfg := Config{
		Enabled:       c.Enabled,
		BufferSize:    c.BufferSize,
		FlushInterval: time.Duration(c.FlushInterval) * time.Second,
		RetentionDays: c.RetentionDays,
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return cfg
}
