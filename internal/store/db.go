// Package store is the embedded transactional relational store (C1): it
// owns the SQLite connection, schema, settings, and device identity, and
// exposes the single-connection, WAL-mode access pattern every other kernel
// package builds its transactions on top of.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFile = ".solostack/solostack.db"

// DB wraps the database connection.
type DB struct {
	conn    *sql.DB
	baseDir string
}

// openConn opens a SQLite connection with safe defaults for multi-process
// access: single connection (SQLite has one writer), WAL mode for
// concurrent reads, and a busy timeout for contention.
func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	return conn, nil
}

// Open opens an existing store at baseDir, failing if it has not been
// initialized.
func Open(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("store not found: run Initialize first")
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, baseDir: baseDir}
	if err := db.bootstrapDeviceID(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Initialize creates the store and its schema at baseDir. Device identity
// is generated eagerly and never mutated thereafter (§4.3, §9).
func Initialize(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, baseDir: baseDir}
	if err := db.bootstrapDeviceID(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close flushes the WAL into the main database file and closes the
// connection.
func (db *DB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB for packages that need raw access
// (e.g. the mutation API, applier, and resolution engine, which each run
// their own transactions).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// BaseDir returns the base directory for the store.
func (db *DB) BaseDir() string {
	return db.baseDir
}

// WithWriteLock executes fn while holding an exclusive cross-process write
// lock. Every kernel mutation (entity writes, outbox mutation, checkpoint
// writes, conflict/event writes) goes through this to serialize per-entity
// access per §5.
func (db *DB) WithWriteLock(fn func() error) error {
	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}
