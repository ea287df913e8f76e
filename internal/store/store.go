// Package store provides the SQLite persistence layer for codedrop: the
// session-scoped block status store and the session config store.
//
// Reads fail open: a read error returns the safe default (absent, the
// default port, active) together with the error so callers can log it.
// Writes report their error to the caller and never half-apply.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	DefaultPort = 5000
	MinPort     = 1025
	MaxPort     = 65535
)

var (
	ErrInvalidSession = errors.New("store: invalid session id")
	ErrInvalidPort    = fmt.Errorf("store: port must be an integer in [%d, %d]", MinPort, MaxPort)
	ErrInvalidStatus  = errors.New("store: invalid block status")
	ErrTerminal       = errors.New("store: block status is terminal")
)

// Store is the codedrop database handle.
type Store struct {
	DB          *sql.DB
	defaultPort int
}

type options struct {
	driver      string
	busyTimeout int
	defaultPort int
}

// Option customises Open.
type Option func(*options)

// WithDriver sets the database/sql driver name. Default: "sqlite".
func WithDriver(name string) Option { return func(o *options) { o.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithDefaultPort sets the port returned for sessions without a valid one.
// Values outside [MinPort, MaxPort] are ignored.
func WithDefaultPort(port int) Option {
	return func(o *options) {
		if ValidPort(port) {
			o.defaultPort = port
		}
	}
}

// Open opens (or creates) the codedrop database at path, applies the
// production pragmas and the schema. The caller must blank-import the
// driver (modernc.org/sqlite).
func Open(path string, opts ...Option) (*Store, error) {
	o := options{driver: "sqlite", busyTimeout: 10_000, defaultPort: DefaultPort}
	for _, fn := range opts {
		fn(&o)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{DB: db, defaultPort: o.defaultPort}, nil
}

// OpenMemory opens an in-memory store for tests and registers cleanup.
func OpenMemory(tb testing.TB, opts ...Option) *Store {
	tb.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		tb.Fatalf("store.OpenMemory: %v", err)
	}
	tb.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// DefaultPort returns the port used for sessions without a valid one.
func (s *Store) DefaultPort() int {
	if s.defaultPort == 0 {
		return DefaultPort
	}
	return s.defaultPort
}

// ValidPort reports whether port is accepted by SetPort.
func ValidPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// ValidSession reports whether id can key a session.
func ValidSession(id string) bool {
	if id == "" || len(id) > 256 || strings.TrimSpace(id) != id {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// isBusy reports whether err indicates an SQLite BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx executes fn in a transaction, retrying up to 3 times on SQLITE_BUSY
// with 100/200/300ms backoff. The CLI and the daemon share the database
// file, so short lock contention is expected.
func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	const attempts = 3
	var err error
	for i := range attempts {
		err = s.txOnce(ctx, fn)
		if err == nil || !isBusy(err) || i == attempts-1 {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("store: context cancelled during retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return err
}

func (s *Store) txOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
