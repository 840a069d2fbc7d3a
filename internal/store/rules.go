package store

import (
	"context"
	"database/sql"
	"fmt"
)

// specificityCascade is the fixed eight-step lookup order over
// (from_agent, to_agent, event_type), preferring literal matches to
// wildcards. Index 0 is the most specific.
var specificityCascade = [][3]bool{
	// {fromLiteral, toLiteral, eventLiteral}
	{true, true, true},
	{true, true, false},
	{true, false, true},
	{false, true, true},
	{true, false, false},
	{false, true, false},
	{false, false, true},
	{false, false, false},
}

// InsertRule creates a coordination rule, applying "*" / "approve" / 0
// defaults matching the schema defaults.
func (s *Store) InsertRule(ctx context.Context, r CoordinationRule) (int64, error) {
	if r.FromAgent == "" {
		r.FromAgent = "*"
	}
	if r.ToAgent == "" {
		r.ToAgent = "*"
	}
	if r.EventType == "" {
		r.EventType = "*"
	}
	if r.Action == "" {
		r.Action = RuleActionApprove
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO coordination_rules
		(from_agent, to_agent, event_type, action, priority, template)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.FromAgent, r.ToAgent, r.EventType, r.Action, r.Priority, r.Template)
	if err != nil {
		return 0, fmt.Errorf("store: insert rule: %w", err)
	}
	return res.LastInsertId()
}

const ruleColumns = `id, from_agent, to_agent, event_type, action, priority, template, created_at`

func scanRule(row interface{ Scan(dest ...any) error }) (CoordinationRule, error) {
	var r CoordinationRule
	err := row.Scan(&r.ID, &r.FromAgent, &r.ToAgent, &r.EventType, &r.Action,
		&r.Priority, &r.Template, &r.CreatedAt)
	return r, err
}

// ListRules returns all coordination rules ordered by id.
func (s *Store) ListRules(ctx context.Context) ([]CoordinationRule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM coordination_rules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer rows.Close()

	var out []CoordinationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule deletes a rule, returning whether a row existed.
func (s *Store) DeleteRule(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM coordination_rules WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("store: delete rule: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// defaultRule is returned by MatchRule when no row matches any of the
// eight cascade steps.
var defaultRule = CoordinationRule{Action: RuleActionApprove, Priority: 0}

// MatchRule finds the most specific matching coordination rule for a mesh
// delivery via the fixed eight-step specificity cascade (literal vs "*" for
// each of from_agent/to_agent/event_type, most specific first), ties broken
// by priority DESC. Returns defaultRule if nothing matches.
func (s *Store) MatchRule(ctx context.Context, fromAgent, toAgent, eventType string) (CoordinationRule, error) {
	for _, step := range specificityCascade {
		fa, ta, et := "*", "*", "*"
		if step[0] {
			fa = fromAgent
		}
		if step[1] {
			ta = toAgent
		}
		if step[2] {
			et = eventType
		}
		row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM coordination_rules
			WHERE from_agent = ? AND to_agent = ? AND event_type = ?
			ORDER BY priority DESC LIMIT 1`, fa, ta, et)
		r, err := scanRule(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return CoordinationRule{}, fmt.Errorf("store: match rule: %w", err)
		}
		return r, nil
	}
	return defaultRule, nil
}

// MatchRulesForEvent returns all rules where from_agent is agentName or
// "*", and event_type is eventType or "*", ordered by priority DESC, id ASC.
// Used by AfterWorkRouter.
func (s *Store) MatchRulesForEvent(ctx context.Context, agentName, eventType string) ([]CoordinationRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM coordination_rules
		WHERE (from_agent = ? OR from_agent = '*')
		  AND (event_type = ? OR event_type = '*')
		ORDER BY priority DESC, id ASC`, agentName, eventType)
	if err != nil {
		return nil, fmt.Errorf("store: match rules for event: %w", err)
	}
	defer rows.Close()

	var out []CoordinationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
