package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetPreference returns a preference value, or ErrNotFound.
func (s *Store) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get preference: %w", err)
	}
	return value, nil
}

// SetPreference upserts a preference.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set preference: %w", err)
	}
	return nil
}

// ListPreferences returns all preferences as a key->value map.
func (s *Store) ListPreferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM preferences ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("store: list preferences: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan preference: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// DeletePreference deletes a preference, returning whether a row existed.
// Uses the statement's own RowsAffected rather than a connection-wide
// total_changes counter, which avoids overcounting under concurrent
// deletes (see SPEC_FULL.md §4.1 / spec.md §9 open question).
func (s *Store) DeletePreference(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("store: delete preference: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
