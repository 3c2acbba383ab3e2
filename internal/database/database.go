package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when no ledger row exists for an id.
var ErrNotFound = errors.New("transcode not found")

// Database manages the transcode ledger.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// migrations[i] upgrades the schema from user_version i to i+1.
var migrations = []string{
	`CREATE TABLE transcodes (
		id INTEGER PRIMARY KEY,
		job_id TEXT NOT NULL,
		encoder TEXT NOT NULL,
		codec TEXT NOT NULL,
		frames INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	CREATE INDEX idx_transcodes_created_at ON transcodes(created_at);`,
}

// New opens the ledger at dbPath, creating its directory and bringing the
// schema up to date.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := prepareDir(filepath.Dir(dbPath)); err != nil {
		return nil, err
	}
	fixReadOnlyFiles(dbPath)

	// busy_timeout lets concurrent cache writers wait instead of failing
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}
	if err := d.open(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database: %v", closeErr)
		}
		return nil, err
	}

	logging.Info("Database ready at %s (schema v%d)", dbPath, len(migrations))
	return d, nil
}

func (d *Database) open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := d.migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// migrate applies every migration past the stored user_version, each in
// its own transaction.
func (d *Database) migrate(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("initialize_schema", start, err) }()

	var version int
	if err = d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this build (%d)", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		if err = d.applyMigration(ctx, v); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		logging.Debug("Database schema migrated to v%d", v+1)
	}
	return nil
}

func (d *Database) applyMigration(ctx context.Context, v int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
		return err
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the applied schema version.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the connection is still usable.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// prepareDir creates the database directory and checks that SQLite will be
// able to create its WAL and shared-memory files next to the database.
func prepareDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".perm-test-*")
	if err != nil {
		return fmt.Errorf("database directory %s not writable: %w", dir, err)
	}
	_ = tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}

// fixReadOnlyFiles makes an existing database and its WAL files writable
// again. Volume restores commonly leave them read-only.
func fixReadOnlyFiles(dbPath string) {
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil || info.Mode().Perm()&0o200 != 0 {
			continue
		}
		logging.Warn("Database file %s is read-only (mode %v)", path, info.Mode())
		if err := os.Chmod(path, info.Mode().Perm()|0o600); err != nil {
			logging.Error("Failed to fix permissions on %s: %v", path, err)
		}
	}
}
