package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertSession inserts on first sight of a session_id; on conflict it
// merges per the monotonic rule: non-empty incoming fields overwrite,
// empty incoming fields preserve existing values. event_count always
// increments by one; status is derived from the event's category;
// ended_at is set only on transition to StatusEnded.
func (s *Store) UpsertSession(ctx context.Context, e Event) error {
	if e.SessionID == "" {
		return nil
	}
	status := StatusForCategory(e.Category)
	lastEvent := e.Category
	if lastEvent == "" {
		lastEvent = CategoryCompletion
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO agent_sessions
		(session_id, parent_session_id, agent_name, project_cwd, git_branch,
		 terminal, status, last_event, event_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(session_id) DO UPDATE SET
			agent_name        = excluded.agent_name,
			parent_session_id = CASE WHEN excluded.parent_session_id != ''
			                         THEN excluded.parent_session_id
			                         ELSE agent_sessions.parent_session_id END,
			project_cwd       = CASE WHEN excluded.project_cwd != ''
			                         THEN excluded.project_cwd
			                         ELSE agent_sessions.project_cwd END,
			git_branch        = CASE WHEN excluded.git_branch != ''
			                         THEN excluded.git_branch
			                         ELSE agent_sessions.git_branch END,
			terminal          = CASE WHEN excluded.terminal != '{}'
			                         THEN excluded.terminal
			                         ELSE agent_sessions.terminal END,
			status            = ?,
			last_event        = excluded.last_event,
			last_seen         = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
			ended_at          = CASE WHEN ? = '`+StatusEnded+`'
			                         THEN strftime('%Y-%m-%dT%H:%M:%fZ','now')
			                         ELSE agent_sessions.ended_at END,
			event_count       = agent_sessions.event_count + 1
		`,
		e.SessionID, e.ParentSessionID, e.AgentName, e.ProjectCWD, e.GitBranch,
		e.Terminal.marshal(), status, lastEvent, status, status,
	)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

// Heartbeat bumps last_heartbeat and last_seen for a session. Returns
// ErrNotFound if the session doesn't exist.
func (s *Store) Heartbeat(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_sessions
		SET last_heartbeat = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
		    last_seen = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `session_id, parent_session_id, agent_name, project_cwd,
	git_branch, terminal, status, last_event, first_seen, last_seen,
	last_heartbeat, ended_at, event_count`

func scanSession(row interface{ Scan(dest ...any) error }) (AgentSession, error) {
	var a AgentSession
	var terminal string
	err := row.Scan(&a.SessionID, &a.ParentSessionID, &a.AgentName, &a.ProjectCWD,
		&a.GitBranch, &terminal, &a.Status, &a.LastEvent, &a.FirstSeen,
		&a.LastSeen, &a.LastHeartbeat, &a.EndedAt, &a.EventCount)
	if err != nil {
		return AgentSession{}, err
	}
	a.Terminal = parseTerminalHandle(terminal)
	return a, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (AgentSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM agent_sessions WHERE session_id = ?", sessionID)
	a, err := scanSession(row)
	if err == sql.ErrNoRows {
		return AgentSession{}, ErrNotFound
	}
	if err != nil {
		return AgentSession{}, fmt.Errorf("store: get session: %w", err)
	}
	return a, nil
}

// ListSessions returns all sessions, optionally filtered by status, newest
// last_seen first.
func (s *Store) ListSessions(ctx context.Context, status string) ([]AgentSession, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+sessionColumns+" FROM agent_sessions WHERE status = ? ORDER BY last_seen DESC", status)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+sessionColumns+" FROM agent_sessions ORDER BY last_seen DESC")
	}
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ChildSessions returns sub-agent sessions for a parent, oldest first.
func (s *Store) ChildSessions(ctx context.Context, parentSessionID string) ([]AgentSession, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM agent_sessions WHERE parent_session_id = ? ORDER BY first_seen",
		parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("store: child sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// StaleSessions returns sessions whose status is active or waiting and
// whose COALESCE(NULLIF(last_heartbeat,''), last_seen) is older than
// now - thresholdSec, oldest last_seen first.
func (s *Store) StaleSessions(ctx context.Context, thresholdSec int) ([]AgentSession, error) {
	offset := fmt.Sprintf("-%d seconds", thresholdSec)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM agent_sessions
		 WHERE status IN ('`+StatusActive+`', '`+StatusWaiting+`')
		   AND COALESCE(NULLIF(last_heartbeat, ''), last_seen)
		       < strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ?)
		 ORDER BY last_seen ASC`, offset)
	if err != nil {
		return nil, fmt.Errorf("store: stale sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]AgentSession, error) {
	var out []AgentSession
	for rows.Next() {
		a, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
