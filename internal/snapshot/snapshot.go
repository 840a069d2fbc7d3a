// Package snapshot implements the meshd export/import YAML format: a
// point-in-time dump of sessions, events, rules, and tasks that can be
// written to a file and later replayed into a fresh store. Grounded on the
// teacher's use of gopkg.in/yaml.v3 for config.yaml in
// internal/config/local_config.go — struct tags drive the encoding rather
// than a hand-rolled format.
package snapshot

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentmesh/daemon/internal/store"
)

// Snapshot is the top-level document written by Export and read by Import.
type Snapshot struct {
	Sessions []store.AgentSession    `yaml:"sessions"`
	Events   []store.Event           `yaml:"events"`
	Rules    []store.CoordinationRule `yaml:"rules"`
	Tasks    []store.Task            `yaml:"tasks"`
}

// Export reads every session and rule, the 1000 most recent events, and at
// most 1000 tasks out of s and writes them as YAML to path; older events and
// further tasks are not exported. Events are written oldest first.
func Export(ctx context.Context, s *store.Store, path string) error {
	sessions, err := s.ListSessions(ctx, "")
	if err != nil {
		return fmt.Errorf("snapshot: list sessions: %w", err)
	}
	events, err := s.ListEvents(ctx, store.EventFilter{Limit: 1000})
	if err != nil {
		return fmt.Errorf("snapshot: list events: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	rules, err := s.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: list rules: %w", err)
	}
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{Limit: 1000})
	if err != nil {
		return fmt.Errorf("snapshot: list tasks: %w", err)
	}

	snap := Snapshot{Sessions: sessions, Events: events, Rules: rules, Tasks: tasks}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}

// Import reads a YAML snapshot from path and replays its events and rules
// into s. Sessions are rebuilt as a side effect of replaying events
// (UpsertSession), matching how the daemon itself derives session state from
// the event stream; tasks are inserted directly since they have no
// equivalent derivation.
func Import(ctx context.Context, s *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("snapshot: unmarshal %s: %w", path, err)
	}

	for _, ev := range snap.Events {
		if _, err := s.InsertEvent(ctx, ev); err != nil {
			return fmt.Errorf("snapshot: insert event %d: %w", ev.ID, err)
		}
		if err := s.UpsertSession(ctx, ev); err != nil {
			return fmt.Errorf("snapshot: upsert session %s: %w", ev.SessionID, err)
		}
	}
	for _, r := range snap.Rules {
		if _, err := s.InsertRule(ctx, r); err != nil {
			return fmt.Errorf("snapshot: insert rule: %w", err)
		}
	}
	for _, t := range snap.Tasks {
		if _, err := s.InsertTask(ctx, t); err != nil {
			return fmt.Errorf("snapshot: insert task %q: %w", t.Title, err)
		}
	}
	return nil
}
