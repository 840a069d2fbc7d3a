package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertEvent appends an event row. Events are never updated.
func (s *Store) InsertEvent(ctx context.Context, e Event) (int64, error) {
	if e.Category == "" {
		e.Category = CategoryCompletion
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO events
		(agent_name, session_id, parent_session_id, category, title, message,
		 project_cwd, git_branch, terminal, work_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AgentName, e.SessionID, e.ParentSessionID, e.Category, e.Title,
		e.Message, e.ProjectCWD, e.GitBranch, e.Terminal.marshal(), e.WorkSummary,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert event: %w", err)
	}
	return res.LastInsertId()
}

func scanEvent(row interface {
	Scan(dest ...any) error
}) (Event, error) {
	var e Event
	var terminal string
	err := row.Scan(&e.ID, &e.AgentName, &e.SessionID, &e.ParentSessionID,
		&e.Category, &e.Title, &e.Message, &e.ProjectCWD, &e.GitBranch,
		&terminal, &e.WorkSummary, &e.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	e.Terminal = parseTerminalHandle(terminal)
	return e, nil
}

const eventColumns = `id, agent_name, session_id, parent_session_id, category, title,
	message, project_cwd, git_branch, terminal, work_summary, created_at`

// GetEvent fetches a single event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("store: get event: %w", err)
	}
	return e, nil
}

// ListEvents returns events matching filter, newest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	where := ""
	var args []any
	add := func(clause string, arg any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, arg)
	}
	if f.Agent != "" {
		add("agent_name = ?", f.Agent)
	}
	if f.Category != "" {
		add("category = ?", f.Category)
	}
	if f.Project != "" {
		add("project_cwd LIKE ?", "%"+f.Project+"%")
	}
	if f.Since != "" {
		add("created_at >= ?", f.Since)
	}
	limit := clampLimit(f.Limit, 50)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events"+where+" ORDER BY id DESC LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SessionEvents returns the most recent events for one session.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE session_id = ? ORDER BY id DESC LIMIT ?",
		sessionID, clampLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("store: session events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}
