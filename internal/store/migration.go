package store

import (
	"fmt"
)

// migration is one named, ordered schema change. Migrations never mutate
// history once released: a new requirement is a new migration appended to
// the list, never an edit to an existing entry's SQL.
type migration struct {
	name string
	sql  string
}

// migrations is the full ordered ledger. createSchema already creates every
// table at its current shape for brand-new databases, so each entry here is
// phrased as an idempotent additive change that is also safe to replay
// against a database createSchema just built from scratch.
var migrations = []migration{
	{
		name: "0001_initial_schema",
		sql:  "-- baseline: tables created directly by createSchema",
	},
	{
		name: "0002_triggers_last_triggered_index",
		sql:  "CREATE INDEX IF NOT EXISTS idx_triggers_enabled ON triggers(enabled)",
	},
	{
		name: "0003_work_items_lease_owner_index",
		sql:  "CREATE INDEX IF NOT EXISTS idx_work_items_lease_owner ON work_items(lease_owner)",
	},
}

// runMigrations applies any migration not yet recorded in the _migrations
// ledger, in order, inside one transaction per migration. If the ledger
// contains a name that no longer appears in the in-binary migrations list,
// startup refuses rather than silently drifting: the running binary is
// older than the database it is pointed at.
func (s *Store) runMigrations() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create migrations ledger: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.Query(`SELECT name FROM _migrations`)
	if err != nil {
		return fmt.Errorf("read migrations ledger: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration name: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	known := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		known[m.name] = true
	}
	for name := range applied {
		if !known[name] {
			return fmt.Errorf("store: database has applied migration %q unknown to this binary; refusing to start", name)
		}
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations (name) VALUES (?)`, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
	}
	return nil
}
