package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionPackage is one imported package directory (C3).
type ActionPackage struct {
	ID              string
	Name            string
	Directory       string
	EnvironmentHash string
	EnvJSON         string
	CreatedAt       time.Time
}

// Action is one discovered entry point within an ActionPackage.
type Action struct {
	ID              string
	ActionPackageID string
	Name            string
	Docs            string
	File            string
	Lineno          int
	InputSchema     string
	OutputSchema    string
	IsConsequential sql.NullBool
	Enabled         bool
	Kind            string // action, query, predict, tool, prompt, resource
	ManagedParams   string // JSON array
}

// UpsertActionPackage inserts a new ActionPackage or, if one with the same
// name already exists, replaces its directory/environment fields in place.
// Names are unique; re-import of an existing package updates rather than
// duplicates the row.
func (s *Store) UpsertActionPackage(ctx context.Context, pkg *ActionPackage) error {
	existing, err := s.GetActionPackageByName(ctx, pkg.Name)
	if err != nil && err != ErrNotFound {
		return err
	}
	if err == ErrNotFound {
		if pkg.ID == "" {
			pkg.ID = "ap-" + uuid.NewString()
		}
		if pkg.CreatedAt.IsZero() {
			pkg.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx, `INSERT INTO action_packages
			(id, name, directory, environment_hash, env_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			pkg.ID, pkg.Name, pkg.Directory, pkg.EnvironmentHash, pkg.EnvJSON, pkg.CreatedAt.Format(time.RFC3339))
		return err
	}

	pkg.ID = existing.ID
	pkg.CreatedAt = existing.CreatedAt
	_, err = s.db.ExecContext(ctx, `UPDATE action_packages
		SET directory = ?, environment_hash = ?, env_json = ?
		WHERE id = ?`,
		pkg.Directory, pkg.EnvironmentHash, pkg.EnvJSON, pkg.ID)
	return err
}

// GetActionPackageByName returns the package with the given name.
func (s *Store) GetActionPackageByName(ctx context.Context, name string) (*ActionPackage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, directory, environment_hash, env_json, created_at
		FROM action_packages WHERE name = ?`, name)
	return scanActionPackage(row)
}

// GetActionPackage returns the package with the given id.
func (s *Store) GetActionPackage(ctx context.Context, id string) (*ActionPackage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, directory, environment_hash, env_json, created_at
		FROM action_packages WHERE id = ?`, id)
	return scanActionPackage(row)
}

// ListActionPackages returns every imported package.
func (s *Store) ListActionPackages(ctx context.Context) ([]*ActionPackage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, directory, environment_hash, env_json, created_at
		FROM action_packages ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActionPackage
	for rows.Next() {
		pkg, err := scanActionPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActionPackage(row scanner) (*ActionPackage, error) {
	var pkg ActionPackage
	var createdAt string
	if err := row.Scan(&pkg.ID, &pkg.Name, &pkg.Directory, &pkg.EnvironmentHash, &pkg.EnvJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pkg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &pkg, nil
}

// UpsertAction inserts a new Action for the given package, or updates it in
// place if one with the same (action_package_id, name) already exists.
// Both paths store enabled=1, so an action that an earlier import disabled
// is enabled again once it is upserted again.
func (s *Store) UpsertAction(ctx context.Context, a *Action) error {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM actions WHERE action_package_id = ? AND name = ?`,
		a.ActionPackageID, a.Name)
	var existingID string
	err := row.Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		if a.ID == "" {
			a.ID = "act-" + uuid.NewString()
		}
		_, err := s.db.ExecContext(ctx, `INSERT INTO actions
			(id, action_package_id, name, docs, file, lineno, input_schema, output_schema,
			 is_consequential, enabled, kind, managed_params)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			a.ID, a.ActionPackageID, a.Name, a.Docs, a.File, a.Lineno,
			a.InputSchema, a.OutputSchema, nullableBool(a.IsConsequential), a.Kind, a.ManagedParams)
		return err
	case err != nil:
		return err
	default:
		a.ID = existingID
		_, err := s.db.ExecContext(ctx, `UPDATE actions
			SET docs = ?, file = ?, lineno = ?, input_schema = ?, output_schema = ?,
			    is_consequential = ?, enabled = 1, kind = ?, managed_params = ?
			WHERE id = ?`,
			a.Docs, a.File, a.Lineno, a.InputSchema, a.OutputSchema,
			nullableBool(a.IsConsequential), a.Kind, a.ManagedParams, a.ID)
		return err
	}
}

func nullableBool(b sql.NullBool) any {
	if !b.Valid {
		return nil
	}
	return b.Bool
}

// DisableActionsNotIn marks, within packageID, every action whose name is
// not in keepNames as enabled=false. It never deletes: Runs referencing a
// since-removed action must keep resolving.
func (s *Store) DisableActionsNotIn(ctx context.Context, packageID string, keepNames []string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM actions WHERE action_package_id = ? AND enabled = 1`, packageID)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(keepNames))
	for _, n := range keepNames {
		keep[n] = true
	}
	var toDisable []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		if !keep[name] {
			toDisable = append(toDisable, name)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, name := range toDisable {
		if _, err := s.db.ExecContext(ctx, `UPDATE actions SET enabled = 0 WHERE action_package_id = ? AND name = ?`,
			packageID, name); err != nil {
			return fmt.Errorf("disable action %s: %w", name, err)
		}
	}
	return nil
}

// GetAction returns the action with the given id.
func (s *Store) GetAction(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, action_package_id, name, docs, file, lineno,
		input_schema, output_schema, is_consequential, enabled, kind, managed_params
		FROM actions WHERE id = ?`, id)
	return scanAction(row)
}

// GetActionByPackageAndName looks up an action by its package name and its
// own name, as used by the REST run endpoint's {package}/{action} route.
func (s *Store) GetActionByPackageAndName(ctx context.Context, packageName, actionName string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT a.id, a.action_package_id, a.name, a.docs, a.file, a.lineno,
		a.input_schema, a.output_schema, a.is_consequential, a.enabled, a.kind, a.managed_params
		FROM actions a JOIN action_packages p ON p.id = a.action_package_id
		WHERE p.name = ? AND a.name = ?`, packageName, actionName)
	return scanAction(row)
}

// ListActions returns every action in a package, including disabled ones.
func (s *Store) ListActions(ctx context.Context, packageID string) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action_package_id, name, docs, file, lineno,
		input_schema, output_schema, is_consequential, enabled, kind, managed_params
		FROM actions WHERE action_package_id = ? ORDER BY name`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListEnabledActions returns every enabled action across every package,
// used to build the OpenAPI document and the MCP tool/prompt/resource
// listings.
func (s *Store) ListEnabledActions(ctx context.Context) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action_package_id, name, docs, file, lineno,
		input_schema, output_schema, is_consequential, enabled, kind, managed_params
		FROM actions WHERE enabled = 1 ORDER BY action_package_id, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAction(row scanner) (*Action, error) {
	var a Action
	var enabled int
	if err := row.Scan(&a.ID, &a.ActionPackageID, &a.Name, &a.Docs, &a.File, &a.Lineno,
		&a.InputSchema, &a.OutputSchema, &a.IsConsequential, &enabled, &a.Kind, &a.ManagedParams); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Enabled = enabled != 0
	return &a, nil
}
