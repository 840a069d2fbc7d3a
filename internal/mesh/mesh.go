// Package mesh routes agent-to-agent messages through coordination rules,
// grounded on original_source/daemon/mesh.py. Delivery means typing text
// into the target agent's terminal pane — each agent stays in its own
// authenticated CLI session; the mesh only routes text.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentmesh/daemon/internal/store"
	"github.com/agentmesh/daemon/internal/terminal"
)

// Outcome actions, mirroring route_message's {"action": ...} result.
const (
	ActionDelivered = "delivered"
	ActionPending   = "pending"
	ActionBlocked   = "blocked"
	ActionError     = "error"
	ActionRejected  = "rejected"
)

// Result is the outcome of routing or delivering one message.
type Result struct {
	Action    string
	MessageID int64
	Reason    string
	Error     string
}

// Router delivers mesh messages by injecting text into target panes.
type Router struct {
	store  *store.Store
	driver terminal.Driver
}

// New builds a Router over store s, injecting via driver d.
func New(s *store.Store, d terminal.Driver) *Router {
	return &Router{store: s, driver: d}
}

// RouteMessage looks up message id, evaluates coordination rules for
// (fromAgent, toAgent, messageType), and either delivers it immediately
// (action "auto"), leaves it pending (default), or rejects it (action
// "block"). A target session that no longer exists leaves the message
// pending forever — there is no cleanup pass, matching the original's
// behavior exactly (spec.md's documented "target missing" edge case).
func (r *Router) RouteMessage(ctx context.Context, messageID int64) (Result, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Action: ActionError, Error: "message not found"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("mesh: get message: %w", err)
	}

	toSession, err := r.store.GetSession(ctx, msg.ToSession)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Action: ActionError, Error: fmt.Sprintf("target session not found: %s", msg.ToSession)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("mesh: get target session: %w", err)
	}

	fromAgent := "unknown"
	if fromSession, err := r.store.GetSession(ctx, msg.FromSession); err == nil {
		fromAgent = fromSession.AgentName
	}

	rule, err := r.store.MatchRule(ctx, fromAgent, toSession.AgentName, msg.MessageType)
	if err != nil {
		return Result{}, fmt.Errorf("mesh: match rule: %w", err)
	}

	switch rule.Action {
	case store.RuleActionBlock:
		if err := r.store.UpdateMessageStatus(ctx, messageID, store.MessageRejected, ""); err != nil {
			return Result{}, fmt.Errorf("mesh: reject message: %w", err)
		}
		return Result{Action: ActionBlocked, MessageID: messageID, Reason: "coordination rule"}, nil

	case store.RuleActionAuto:
		return r.deliverMessage(ctx, msg, toSession)

	default: // approve and anything else: requires manual approval
		return Result{Action: ActionPending, MessageID: messageID}, nil
	}
}

// deliverMessage types a "[From <agent>] <content>\n" line into the
// target session's terminal pane.
func (r *Router) deliverMessage(ctx context.Context, msg store.Message, toSession store.AgentSession) (Result, error) {
	fromName := "unknown"
	if fromSession, err := r.store.GetSession(ctx, msg.FromSession); err == nil {
		fromName = fromSession.AgentName
	}

	text := fmt.Sprintf("[From %s] %s\n", fromName, msg.Content)
	if err := r.driver.InjectText(ctx, toSession.Terminal, text); err != nil {
		return Result{Action: ActionError, MessageID: msg.ID, Error: err.Error()}, nil
	}

	now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	if err := r.store.UpdateMessageStatus(ctx, msg.ID, store.MessageDelivered, now); err != nil {
		return Result{}, fmt.Errorf("mesh: mark delivered: %w", err)
	}
	return Result{Action: ActionDelivered, MessageID: msg.ID}, nil
}

// ApproveMessage manually delivers a pending message.
func (r *Router) ApproveMessage(ctx context.Context, messageID int64) (Result, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Action: ActionError, Error: "message not found"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("mesh: get message: %w", err)
	}
	if msg.Status != store.MessagePending {
		return Result{Action: ActionError, Error: fmt.Sprintf("message is %s, not pending", msg.Status)}, nil
	}

	toSession, err := r.store.GetSession(ctx, msg.ToSession)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Action: ActionError, Error: "target session not found"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("mesh: get target session: %w", err)
	}

	return r.deliverMessage(ctx, msg, toSession)
}

// RejectMessage marks a pending message rejected without delivering it.
func (r *Router) RejectMessage(ctx context.Context, messageID int64) (Result, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Action: ActionError, Error: "message not found"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("mesh: get message: %w", err)
	}
	if msg.Status != store.MessagePending {
		return Result{Action: ActionError, Error: fmt.Sprintf("message is %s, not pending", msg.Status)}, nil
	}

	if err := r.store.UpdateMessageStatus(ctx, messageID, store.MessageRejected, ""); err != nil {
		return Result{}, fmt.Errorf("mesh: reject message: %w", err)
	}
	return Result{Action: ActionRejected, MessageID: messageID}, nil
}
