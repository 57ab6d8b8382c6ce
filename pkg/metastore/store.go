// Package metastore implements the relational metadata index for depot.
//
// The store keeps one authoritative record per logical file plus the project,
// workspace, and group tables that access resolution reads. It is backed by
// SQLite (pure-Go driver); the schema is created in place by Migrate.
//
// Every query method takes a DBTX so the caller chooses the transactional
// scope: pass the store's DB for autocommit, or a transaction started with
// WithTx to group record updates with other writes.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const driverName = "sqlite"

func init() {
	// database/sql panics on duplicate registration; the driver may already
	// be registered by an importing test binary.
	for _, name := range sql.Drivers() {
		if name == driverName {
			return
		}
	}
	sql.Register(driverName, &sqlite.Driver{})
}

// DBTX is the query surface shared by *sql.DB and *sql.Tx. Callers supply
// whichever scope their operation needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config configures the metadata store.
type Config struct {
	// Path is a local filesystem path to the database, or ":memory:" for an
	// ephemeral store. Parent directories are created as needed.
	Path string
}

// Store owns the database handle for the metadata index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the metadata database and applies the
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping metadata store: %w", err)
	}
	if err := configureSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle as a DBTX for autocommit calls.
func (s *Store) DB() DBTX {
	return s.db
}

// Ping verifies connectivity; used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic exit path.
func (s *Store) WithTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("metadata store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		// #nosec G301 -- data directories use 0755 for multi-user access compatibility
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create store directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configureSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	if dsn == ":memory:" {
		// In-memory stores live on a single connection; more would each see
		// their own empty database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return nil
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}
