package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const defaultSQLitePath = "data/cakisi.db"

// sqlitePragmas are applied to every connection. WAL lets the admin reader
// run while the logger flushes.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

type sqliteStorage struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database file at cfg.Path.
func NewSQLite(cfg SQLiteConfig) (SQLBackend, error) {
	path := cfg.Path
	if path == "" {
		path = defaultSQLitePath
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One writer at a time; a single connection also keeps the pragmas.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database %s: %w", path, err)
	}

	return &sqliteStorage{db: db}, nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func (s *sqliteStorage) Type() string { return TypeSQLite }

func (s *sqliteStorage) DB() *sql.DB { return s.db }

func (s *sqliteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
