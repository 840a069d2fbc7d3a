package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertContext sets a shared key-value under scope (default "global" is
// the caller's responsibility to supply).
func (s *Store) UpsertContext(ctx context.Context, cv ContextVariable) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO context_variables (key, scope, value, updated_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key, scope) DO UPDATE SET
			value = excluded.value,
			updated_by = excluded.updated_by,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		cv.Key, cv.Scope, cv.Value, cv.UpdatedBy)
	if err != nil {
		return fmt.Errorf("store: upsert context: %w", err)
	}
	return nil
}

const contextColumns = `key, scope, value, updated_by, updated_at`

func scanContext(row interface{ Scan(dest ...any) error }) (ContextVariable, error) {
	var cv ContextVariable
	err := row.Scan(&cv.Key, &cv.Scope, &cv.Value, &cv.UpdatedBy, &cv.UpdatedAt)
	return cv, err
}

// GetContext fetches one context variable by (key, scope).
func (s *Store) GetContext(ctx context.Context, key, scope string) (ContextVariable, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+contextColumns+" FROM context_variables WHERE key = ? AND scope = ?", key, scope)
	cv, err := scanContext(row)
	if err == sql.ErrNoRows {
		return ContextVariable{}, ErrNotFound
	}
	if err != nil {
		return ContextVariable{}, fmt.Errorf("store: get context: %w", err)
	}
	return cv, nil
}

// ListContext returns all context variables, optionally filtered by scope.
func (s *Store) ListContext(ctx context.Context, scope string) ([]ContextVariable, error) {
	var rows *sql.Rows
	var err error
	if scope != "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+contextColumns+" FROM context_variables WHERE scope = ? ORDER BY key", scope)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+contextColumns+" FROM context_variables ORDER BY scope, key")
	}
	if err != nil {
		return nil, fmt.Errorf("store: list context: %w", err)
	}
	defer rows.Close()

	var out []ContextVariable
	for rows.Next() {
		cv, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan context: %w", err)
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

// DeleteContext deletes a context variable, returning whether it existed.
func (s *Store) DeleteContext(ctx context.Context, key, scope string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM context_variables WHERE key = ? AND scope = ?", key, scope)
	if err != nil {
		return false, fmt.Errorf("store: delete context: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
