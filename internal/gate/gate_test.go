// ABOUTME: End-to-end tests for the call gate pipeline
// ABOUTME: Each check short-circuits and every outcome reaches the audit log

package gate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/global-mysterysnailrevolution/harness/internal/allowlist"
	"github.com/global-mysterysnailrevolution/harness/internal/audit"
	"github.com/global-mysterysnailrevolution/harness/internal/policy"
)

type fakeTransport struct {
	payload map[string]any
	err     error
	calls   int
}

func (f *fakeTransport) Call(ctx context.Context, toolID string, args map[string]any) (map[string]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.payload != nil {
		return f.payload, nil
	}
	return map[string]any{"ok": true}, nil
}

type gateFixture struct {
	gate      *Gate
	transport *fakeTransport
	auditPath string
}

func newGate(t *testing.T, mutate func(*policy.SecurityPolicy)) *gateFixture {
	t.Helper()
	dir := t.TempDir()

	manager, err := allowlist.NewManager(filepath.Join(dir, "allowlists.json"), nil)
	require.NoError(t, err)
	require.NoError(t, manager.SetAgentAllowlist("coder", []string{"fetch_url", "fs:*"}, nil, nil))

	approvals, err := allowlist.NewApprovals(filepath.Join(dir, "pending_approvals.json"), 0, manager, nil)
	require.NoError(t, err)

	pol := policy.DefaultSecurityPolicy()
	if mutate != nil {
		mutate(pol)
	}

	auditPath := filepath.Join(dir, "audit.jsonl")
	log, err := audit.Open(auditPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	transport := &fakeTransport{}
	g := &Gate{
		Allowlist: manager,
		Approvals: approvals,
		Policy:    pol,
		Vetting:   policy.DefaultVettingPolicy(),
		Limiter:   NewRateLimiter(filepath.Join(dir, "call_history.json")),
		Budget:    NewBudgetTracker(filepath.Join(dir, "usage.json")),
		Validator: &Validator{Policy: pol, WorkspaceRoot: dir},
		Transport: transport,
		Audit:     log,
	}
	return &gateFixture{gate: g, transport: transport, auditPath: auditPath}
}

func auditEvents(t *testing.T, path string) []string {
	t.Helper()
	entries, err := audit.Read(path)
	require.NoError(t, err)
	var events []string
	for _, e := range entries {
		events = append(events, e.Event)
	}
	return events
}

func TestCallAllowed(t *testing.T) {
	f := newGate(t, nil)

	res, err := f.gate.Call(context.Background(), "coder", "fetch_url", map[string]any{"note": "hi"}, Cost{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.transport.calls)
	assert.Equal(t, true, res.Payload["ok"])

	assert.Contains(t, auditEvents(t, f.auditPath), audit.EventCallAllowed)
}

func TestCallUnlistedCreatesApprovalRequest(t *testing.T) {
	f := newGate(t, nil)

	_, err := f.gate.Call(context.Background(), "coder", "shell_exec", nil, Cost{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrApprovalRequired)

	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.NotEmpty(t, denial.ApprovalRequestID)
	assert.Contains(t, denial.Reason, "requires approval")
	assert.Equal(t, 0, f.transport.calls)

	pending, err := f.gate.Approvals.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "shell_exec", pending[0].ToolID)

	events := auditEvents(t, f.auditPath)
	assert.Contains(t, events, audit.EventApprovalRequested)
	assert.Contains(t, events, audit.EventCallBlocked)
}

func TestCallUnlistedHardDeny(t *testing.T) {
	f := newGate(t, func(p *policy.SecurityPolicy) {
		p.ToolApprovalRequired = false
	})

	_, err := f.gate.Call(context.Background(), "coder", "shell_exec", nil, Cost{})
	assert.ErrorIs(t, err, ErrNotAllowed)

	pending, err := f.gate.Approvals.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCallAllowedAfterApproval(t *testing.T) {
	f := newGate(t, nil)

	_, err := f.gate.Call(context.Background(), "coder", "shell_exec", nil, Cost{})
	var denial *Denial
	require.ErrorAs(t, err, &denial)

	ok, err := f.gate.Approvals.Approve(denial.ApprovalRequestID, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.gate.Call(context.Background(), "coder", "shell_exec", nil, Cost{})
	require.NoError(t, err)
}

func TestCallRateLimited(t *testing.T) {
	f := newGate(t, func(p *policy.SecurityPolicy) {
		p.RateLimits["coder"] = map[string]policy.RateLimit{
			"fetch_url": {MaxCalls: 1, WindowSeconds: 3600},
		}
	})

	_, err := f.gate.Call(context.Background(), "coder", "fetch_url", nil, Cost{})
	require.NoError(t, err)

	_, err = f.gate.Call(context.Background(), "coder", "fetch_url", nil, Cost{})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, f.transport.calls)
}

func TestCallDangerousArgsBlocked(t *testing.T) {
	f := newGate(t, nil)

	_, err := f.gate.Call(context.Background(), "coder", "fs:write_file",
		map[string]any{"path": "out.sh", "content": "rm -rf /"}, Cost{})
	assert.ErrorIs(t, err, ErrArgumentRejected)
	assert.Equal(t, 0, f.transport.calls)

	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Contains(t, denial.Reason, "rm -rf")
}

func TestCallBudgetExceeded(t *testing.T) {
	f := newGate(t, func(p *policy.SecurityPolicy) {
		p.Budgets["coder"] = policy.Budget{MaxTokens: 10, MaxAPICalls: 100, MaxCostUSD: 5}
	})

	_, err := f.gate.Call(context.Background(), "coder", "fetch_url", nil, Cost{Tokens: 11})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 0, f.transport.calls)
}

func TestCallRecordsUsage(t *testing.T) {
	f := newGate(t, nil)

	_, err := f.gate.Call(context.Background(), "coder", "fetch_url", nil, Cost{Tokens: 100, CostUSD: 0.01})
	require.NoError(t, err)

	u := f.gate.Budget.UsageFor("coder")
	assert.Equal(t, int64(100), u.Tokens)
	assert.Equal(t, int64(1), u.APICalls)
}

func TestCallRedactsResultPayload(t *testing.T) {
	f := newGate(t, nil)
	f.transport.payload = map[string]any{
		"data":      "fine",
		"api_token": "sk-abc123",
	}

	res, err := f.gate.Call(context.Background(), "coder", "fetch_url", nil, Cost{})
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Payload["data"])
	assert.Equal(t, audit.Redacted, res.Payload["api_token"])
}

func TestCallTransportErrorAudited(t *testing.T) {
	f := newGate(t, nil)
	f.transport.err = errors.New("connection refused")

	_, err := f.gate.Call(context.Background(), "coder", "fetch_url", nil, Cost{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport call failed")

	assert.Contains(t, auditEvents(t, f.auditPath), audit.EventCallBlocked)

	// Failed calls do not consume budget.
	assert.Equal(t, int64(0), f.gate.Budget.UsageFor("coder").APICalls)
}
