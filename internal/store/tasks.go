package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

func marshalDeps(deps []int64) string {
	if deps == nil {
		deps = []int64{}
	}
	b, err := json.Marshal(deps)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalDeps(raw string) []int64 {
	var deps []int64
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &deps); err != nil {
		return nil
	}
	return deps
}

// InsertTask creates a task, defaulting Status to TaskPending and Priority
// to PriorityMedium when unset.
func (s *Store) InsertTask(ctx context.Context, t Task) (int64, error) {
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(session_id, title, description, status, priority, dependencies)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Title, t.Description, t.Status, t.Priority, marshalDeps(t.Dependencies))
	if err != nil {
		return 0, fmt.Errorf("store: insert task: %w", err)
	}
	return res.LastInsertId()
}

const taskColumns = `id, session_id, title, description, status, priority,
	dependencies, created_at, updated_at`

func scanTask(row interface{ Scan(dest ...any) error }) (Task, error) {
	var t Task
	var deps string
	err := row.Scan(&t.ID, &t.SessionID, &t.Title, &t.Description, &t.Status,
		&t.Priority, &deps, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	t.Dependencies = unmarshalDeps(deps)
	return t, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("store: get task: %w", err)
	}
	return t, nil
}

// TaskListFilter narrows ListTasks.
type TaskListFilter struct {
	SessionID string
	Status    string
	Limit     int
}

// ListTasks returns tasks ordered high-priority first, then medium, then
// low, then id ascending — matching the original's
// "priority = 'high' DESC, priority = 'medium' DESC, id ASC" SQL trick.
func (s *Store) ListTasks(ctx context.Context, f TaskListFilter) ([]Task, error) {
	var clauses []string
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := clampLimit(f.Limit, 100)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks"+where+
			" ORDER BY priority = 'high' DESC, priority = 'medium' DESC, id ASC LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask applies a partial update. updated_at is always bumped.
// Returns ErrNotFound if no row matched.
func (s *Store) UpdateTask(ctx context.Context, id int64, u TaskUpdate) error {
	sets := []string{"updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')"}
	var args []any
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *u.Description)
	}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *u.Priority)
	}
	if u.SessionID != nil {
		sets = append(sets, "session_id = ?")
		args = append(args, *u.SessionID)
	}
	if u.SetDeps {
		sets = append(sets, "dependencies = ?")
		args = append(args, marshalDeps(u.Dependencies))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask deletes a task, returning whether a row existed.
func (s *Store) DeleteTask(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("store: delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// NextTask finds the next actionable task: pending, with every dependency
// id present among tasks with status=done. Dependency closure is computed
// against ALL tasks across sessions, even when sessionID narrows the
// candidate set. If sessionID yields nothing, the caller is expected to
// retry with an empty sessionID (matching AfterWorkRouter's fallback);
// NextTask itself only ever applies the filter it's given.
func (s *Store) NextTask(ctx context.Context, sessionID string) (Task, error) {
	all, err := s.ListTasks(ctx, TaskListFilter{Limit: 1000})
	if err != nil {
		return Task{}, err
	}
	done := make(map[int64]bool, len(all))
	for _, t := range all {
		if t.Status == TaskDone {
			done[t.ID] = true
		}
	}

	candidates, err := s.ListTasks(ctx, TaskListFilter{SessionID: sessionID, Limit: 500})
	if err != nil {
		return Task{}, err
	}
	for _, t := range candidates {
		if t.Status != TaskPending {
			continue
		}
		actionable := true
		for _, d := range t.Dependencies {
			if !done[d] {
				actionable = false
				break
			}
		}
		if actionable {
			return t, nil
		}
	}
	return Task{}, ErrNotFound
}
