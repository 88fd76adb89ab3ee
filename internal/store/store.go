// Package store is the Action Server's persistence layer (C1): a typed
// relational store over SQLite with idempotent schema creation, additive
// column migrations, transactions, and foreign keys enforced.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get-style lookups that found no row.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidTransition is returned when a guarded state-machine UPDATE
// affects zero rows because the entity was not in the expected prior
// state.
var ErrInvalidTransition = errors.New("store: invalid state transition")

// Store wraps the single pooled SQLite connection used by every
// component. A single open connection with WAL journaling gives
// deterministic write ordering under concurrent scheduler/run-engine
// goroutines, exactly as the teacher's jobs store does.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dbPath, applies pragmas,
// creates the schema, and runs any outstanding migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. This is the scoped-acquisition helper named
// in spec.md §4.1: every multi-statement write in the engine goes through
// it rather than issuing bare statements.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// DB exposes the raw handle for components that need ad-hoc reads (e.g.
// work-items atomic reserve, which needs RETURNING support not modeled by
// the per-entity helpers).
func (s *Store) DB() *sql.DB { return s.db }

func ensureColumn(db *sql.DB, table, column, ddl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dflt       any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &primaryKey); err != nil {
			return fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, ddl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
