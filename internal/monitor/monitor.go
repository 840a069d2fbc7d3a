// Package monitor detects stuck agents via a graduated stall counter with
// hysteresis, grounded on original_source/daemon/monitor.py. Instead of a
// single alert it escalates through severity levels as a session goes
// longer without producing events, and never re-announces the level it is
// already at — only upward escalation broadcasts.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmesh/daemon/internal/daemonlog"
	"github.com/agentmesh/daemon/internal/eventbus"
	"github.com/agentmesh/daemon/internal/store"
)

// monitorMetrics holds the OTel instrument for escalations, registered
// against the global delegating provider at init time so it starts
// forwarding as soon as telemetry.Init installs a real one — the same
// pattern as the teacher's internal/storage/dolt.doltMetrics.
var monitorMetrics struct {
	escalations metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmesh/daemon/monitor")
	monitorMetrics.escalations, _ = m.Int64Counter("mesh.monitor.escalations",
		metric.WithDescription("Stall alert escalations by severity tier"),
		metric.WithUnit("{escalation}"),
	)
}

// Escalation thresholds and poll interval, in seconds.
const (
	StaleThresholdSec = 120
	StuckThresholdSec = 300
	DeadThresholdSec  = 900
	CheckInterval     = 30 * time.Second
)

// Escalation levels.
const (
	LevelNormal = 0
	LevelStale  = 1
	LevelStuck  = 2
	LevelDead   = 3
)

type tier struct {
	level     int
	threshold int
	alertType string
	severity  string
}

var tiers = []tier{
	{LevelStale, StaleThresholdSec, "stale_agent", "warning"},
	{LevelStuck, StuckThresholdSec, "stuck_agent", "alert"},
	{LevelDead, DeadThresholdSec, "dead_agent", "critical"},
}

// Monitor polls the store for stalled sessions and broadcasts escalating
// alerts over the event bus.
type Monitor struct {
	store *store.Store
	bus   *eventbus.Bus
	log   *daemonlog.Logger

	mu     sync.Mutex
	levels map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Monitor. Call Start to begin polling.
func New(s *store.Store, bus *eventbus.Bus, log *daemonlog.Logger) *Monitor {
	return &Monitor{store: s, bus: bus, log: log, levels: make(map[string]int)}
}

// Start launches the background poll loop. Safe to call once.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop cancels the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check never lets a panicking or erroring tier scan crash the daemon.
func (m *Monitor) check(ctx context.Context) {
	for _, t := range tiers {
		m.checkTier(ctx, t)
	}
}

func (m *Monitor) checkTier(ctx context.Context, t tier) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Log("monitor: recovered panic in tier %d: %v", t.level, r)
		}
	}()

	stale, err := m.store.StaleSessions(ctx, t.threshold)
	if err != nil {
		m.log.Log("monitor: stale sessions query failed: %v", err)
		return
	}

	for _, session := range stale {
		m.mu.Lock()
		current := m.levels[session.SessionID]
		if current >= t.level {
			m.mu.Unlock()
			continue
		}
		m.levels[session.SessionID] = t.level
		m.mu.Unlock()

		if monitorMetrics.escalations != nil {
			monitorMetrics.escalations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("alert_type", t.alertType),
				attribute.String("severity", t.severity),
			))
		}

		if err := m.bus.Broadcast(map[string]any{
			"type":        "alert",
			"alert_type":  t.alertType,
			"severity":    t.severity,
			"level":       t.level,
			"session_id":  session.SessionID,
			"agent_name":  session.AgentName,
			"project_cwd": session.ProjectCWD,
			"status":      session.Status,
			"last_seen":   session.LastSeen,
			"message":     alertMessage(session, t.level),
		}); err != nil {
			m.log.Log("monitor: broadcast failed: %v", err)
		}
	}
}

// ClearAlert resets a session's escalation level to normal, providing the
// hysteresis: any fresh event drops the counter instead of letting it
// flap between levels.
func (m *Monitor) ClearAlert(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, sessionID)
}

// GetLevel returns a session's current escalation level (0 if unknown).
func (m *Monitor) GetLevel(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[sessionID]
}

func alertMessage(session store.AgentSession, level int) string {
	agent := session.AgentName
	if agent == "" {
		agent = "Agent"
	}
	project := session.ProjectCWD
	if project == "" {
		project = "?"
	}
	switch level {
	case LevelStale:
		return fmt.Sprintf("%s in %s may be stalling (no recent output)", agent, project)
	case LevelStuck:
		return fmt.Sprintf("%s in %s appears stuck (no output for 5+ min)", agent, project)
	case LevelDead:
		return fmt.Sprintf("%s in %s appears dead (no output for 15+ min)", agent, project)
	default:
		return fmt.Sprintf("%s in %s status unknown", agent, project)
	}
}
