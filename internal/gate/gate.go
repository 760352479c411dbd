// ABOUTME: Runtime call gate applied to every tool invocation
// ABOUTME: Allowlist, classification, rate, argument, and budget checks before dispatch

package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/global-mysterysnailrevolution/harness/internal/allowlist"
	"github.com/global-mysterysnailrevolution/harness/internal/audit"
	"github.com/global-mysterysnailrevolution/harness/internal/policy"
)

// Call-blocking error kinds. All are recoverable: the caller may retry
// later or adjust the request.
var (
	ErrNotAllowed       = errors.New("tool not allowed")
	ErrApprovalRequired = errors.New("approval required")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrArgumentRejected = errors.New("argument rejected")
	ErrBudgetExceeded   = errors.New("budget exceeded")
)

// Denial is the structured rejection returned for a blocked call.
// Reason is always set; ApprovalRequestID is set when the block created
// a pending approval request.
type Denial struct {
	Reason            string
	ApprovalRequestID string
	kind              error
}

func (d *Denial) Error() string { return d.Reason }
func (d *Denial) Unwrap() error { return d.kind }

// Transport executes an allowed tool call. The pipeline does not
// implement it; callers supply the real dispatcher.
type Transport interface {
	Call(ctx context.Context, toolID string, args map[string]any) (map[string]any, error)
}

// Result is a successful, redacted call outcome.
type Result struct {
	ActionClass string
	Payload     map[string]any
}

// Gate runs the call-time policy pipeline. Checks short-circuit on the
// first failure, and every outcome lands in the audit log.
type Gate struct {
	Allowlist *allowlist.Manager
	Approvals *allowlist.Approvals
	Policy    *policy.SecurityPolicy
	Vetting   *policy.VettingPolicy
	Limiter   *RateLimiter
	Budget    *BudgetTracker
	Validator *Validator
	Transport Transport
	Audit     *audit.Log
	Logger    *slog.Logger
}

// Call applies the policy pipeline to one tool invocation and, when
// every check passes, dispatches it over the transport. The returned
// payload has secret-shaped values redacted.
func (g *Gate) Call(ctx context.Context, agentID, toolID string, args map[string]any, cost Cost) (*Result, error) {
	if !g.Allowlist.IsToolAllowed(agentID, toolID) {
		return nil, g.denyUnlisted(agentID, toolID, args)
	}

	class := Classify(toolID, args)
	if g.Vetting != nil && g.Vetting.IsDangerousClass(class) {
		if g.Logger != nil {
			g.Logger.Warn("dangerous action class invoked",
				"agent_id", agentID, "tool_id", toolID, "action_class", class)
		}
	}

	limit, limited := g.Policy.LimitFor(agentID, toolID)
	if allowed, reason := g.Limiter.Allow(agentID, toolID, limit, limited); !allowed {
		return nil, g.deny(agentID, toolID, class, reason, ErrRateLimited)
	}

	if reason := g.Validator.Validate(toolID, args); reason != "" {
		return nil, g.deny(agentID, toolID, class, reason, ErrArgumentRejected)
	}

	if reason := g.Budget.Check(agentID, g.Policy.BudgetFor(agentID), cost); reason != "" {
		return nil, g.deny(agentID, toolID, class, reason, ErrBudgetExceeded)
	}

	payload, err := g.Transport.Call(ctx, toolID, args)
	if err != nil {
		g.appendAudit(&audit.Entry{
			Event:       audit.EventCallBlocked,
			AgentID:     agentID,
			ToolID:      toolID,
			ActionClass: class,
			Detail:      map[string]any{"stage": "transport", "error": err.Error()},
		})
		return nil, fmt.Errorf("transport call failed: %w", err)
	}

	if err := g.Budget.Record(agentID, cost); err != nil && g.Logger != nil {
		g.Logger.Warn("recording usage failed", "agent_id", agentID, "error", err)
	}

	redacted := audit.RedactMap(payload)
	g.appendAudit(&audit.Entry{
		Event:       audit.EventCallAllowed,
		AgentID:     agentID,
		ToolID:      toolID,
		ActionClass: class,
		Detail:      map[string]any{"args": args, "result": redacted},
	})
	return &Result{ActionClass: class, Payload: redacted}, nil
}

// denyUnlisted handles an allowlist miss: an approval request when the
// policy asks for one, otherwise a hard deny.
func (g *Gate) denyUnlisted(agentID, toolID string, args map[string]any) error {
	if g.Policy.ToolApprovalRequired && g.Approvals != nil {
		req, err := g.Approvals.Create(agentID, toolID, args)
		if err != nil {
			return fmt.Errorf("creating approval request: %w", err)
		}
		g.appendAudit(&audit.Entry{
			Event:   audit.EventApprovalRequested,
			AgentID: agentID,
			ToolID:  toolID,
			Detail:  map[string]any{"request_id": req.ID},
		})
		denial := &Denial{
			Reason:            fmt.Sprintf("Tool %s requires approval for agent %s", toolID, agentID),
			ApprovalRequestID: req.ID,
			kind:              ErrApprovalRequired,
		}
		g.auditDenial(agentID, toolID, "", denial)
		return denial
	}

	denial := &Denial{
		Reason: fmt.Sprintf("Tool %s is not on the allowlist for agent %s", toolID, agentID),
		kind:   ErrNotAllowed,
	}
	g.auditDenial(agentID, toolID, "", denial)
	return denial
}

func (g *Gate) deny(agentID, toolID, class, reason string, kind error) error {
	denial := &Denial{Reason: reason, kind: kind}
	g.auditDenial(agentID, toolID, class, denial)
	return denial
}

func (g *Gate) auditDenial(agentID, toolID, class string, d *Denial) {
	detail := map[string]any{"reason": d.Reason}
	if d.ApprovalRequestID != "" {
		detail["request_id"] = d.ApprovalRequestID
	}
	g.appendAudit(&audit.Entry{
		Event:       audit.EventCallBlocked,
		AgentID:     agentID,
		ToolID:      toolID,
		ActionClass: class,
		Detail:      detail,
	})
	if g.Logger != nil {
		g.Logger.Info("call blocked",
			"agent_id", agentID, "tool_id", toolID, "reason", d.Reason)
	}
}

func (g *Gate) appendAudit(e *audit.Entry) {
	if g.Audit == nil {
		return
	}
	if err := g.Audit.Append(e); err != nil && g.Logger != nil {
		g.Logger.Warn("audit append failed", "event", e.Event, "error", err)
	}
}
