// ABOUTME: Runtime security policy: rate limits, argument patterns, budgets
// ABOUTME: Backs the call-time gate; a missing document means permissive defaults

package policy

import (
	"errors"
	"log/slog"

	"github.com/global-mysterysnailrevolution/harness/internal/store"
)

// RateLimit bounds calls to one tool by one agent inside a sliding window.
type RateLimit struct {
	MaxCalls      int `json:"max_calls"`
	WindowSeconds int `json:"window_seconds"`
}

// Budget caps an agent's cumulative resource usage.
type Budget struct {
	MaxTokens   int64   `json:"max_tokens"`
	MaxAPICalls int64   `json:"max_api_calls"`
	MaxCostUSD  float64 `json:"max_cost_usd"`
}

// DefaultBudget applies to agents with no explicit budget entry.
func DefaultBudget() Budget {
	return Budget{
		MaxTokens:   1_000_000,
		MaxAPICalls: 1000,
		MaxCostUSD:  10.0,
	}
}

// SecurityPolicy is the call-time policy document.
type SecurityPolicy struct {
	// RateLimits: agent_id -> tool_id -> limit. A missing entry means
	// the pair is unlimited.
	RateLimits map[string]map[string]RateLimit `json:"rate_limits"`

	// ArgumentPatterns: tool_id -> patterns. Entries prefixed "block:"
	// reject args containing the remainder as a substring.
	ArgumentPatterns map[string][]string `json:"argument_patterns"`

	// BlockedPatterns are regexes rejected in any tool's serialized args.
	BlockedPatterns []string `json:"blocked_patterns"`

	// Budgets: agent_id -> budget. Missing agents get DefaultBudget.
	Budgets map[string]Budget `json:"budgets"`

	// ToolApprovalRequired turns an allowlist miss into a pending
	// ApprovalRequest instead of a hard deny.
	ToolApprovalRequired bool `json:"tool_approval_required"`
}

// DefaultSecurityPolicy returns the policy used when no document exists.
func DefaultSecurityPolicy() *SecurityPolicy {
	return &SecurityPolicy{
		RateLimits:           map[string]map[string]RateLimit{},
		ArgumentPatterns:     map[string][]string{},
		BlockedPatterns:      []string{},
		Budgets:              map[string]Budget{},
		ToolApprovalRequired: true,
	}
}

// LimitFor returns the rate limit for an (agent, tool) pair, if any.
func (p *SecurityPolicy) LimitFor(agentID, toolID string) (RateLimit, bool) {
	byTool, ok := p.RateLimits[agentID]
	if !ok {
		return RateLimit{}, false
	}
	limit, ok := byTool[toolID]
	if !ok || limit.MaxCalls <= 0 || limit.WindowSeconds <= 0 {
		return RateLimit{}, false
	}
	return limit, true
}

// BudgetFor returns the budget for an agent, falling back to the default.
func (p *SecurityPolicy) BudgetFor(agentID string) Budget {
	if b, ok := p.Budgets[agentID]; ok {
		return b
	}
	return DefaultBudget()
}

// LoadSecurityPolicy reads the security policy at path, falling back to
// defaults for an absent or malformed document.
func LoadSecurityPolicy(path string, logger *slog.Logger) *SecurityPolicy {
	var p SecurityPolicy
	if err := store.ReadJSON(path, &p); err != nil {
		if logger != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("unreadable security policy, using defaults", "path", path, "error", err)
		}
		return DefaultSecurityPolicy()
	}

	if p.RateLimits == nil {
		p.RateLimits = map[string]map[string]RateLimit{}
	}
	if p.ArgumentPatterns == nil {
		p.ArgumentPatterns = map[string][]string{}
	}
	if p.Budgets == nil {
		p.Budgets = map[string]Budget{}
	}
	return &p
}

// SaveSecurityPolicy persists the policy document atomically.
func SaveSecurityPolicy(path string, p *SecurityPolicy) error {
	return store.WriteJSON(path, p)
}
