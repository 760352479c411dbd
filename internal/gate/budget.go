// ABOUTME: Budget tracking for per-agent token, call, and cost caps
// ABOUTME: Usage accumulates in a JSON file and is checked before dispatch

package gate

import (
	"fmt"
	"sync"

	"github.com/global-mysterysnailrevolution/harness/internal/policy"
	"github.com/global-mysterysnailrevolution/harness/internal/store"
)

// Usage is one agent's accumulated consumption.
type Usage struct {
	Tokens   int64   `json:"tokens"`
	APICalls int64   `json:"api_calls"`
	CostUSD  float64 `json:"cost_usd"`
}

// Cost is the projected consumption of one call.
type Cost struct {
	Tokens  int64
	CostUSD float64
}

// BudgetTracker checks projected usage against per-agent budgets and
// records actual usage in usage.json.
type BudgetTracker struct {
	path string

	mu    sync.Mutex
	usage map[string]Usage
}

// NewBudgetTracker loads persisted usage from path.
func NewBudgetTracker(path string) *BudgetTracker {
	t := &BudgetTracker{path: path, usage: make(map[string]Usage)}
	_ = store.ReadJSON(path, &t.usage)
	return t
}

// Check returns a rejection reason when the projected call would push
// the agent over any budget cap, or empty when it fits.
func (t *BudgetTracker) Check(agentID string, budget policy.Budget, cost Cost) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.usage[agentID]
	if u.Tokens+cost.Tokens > budget.MaxTokens {
		return fmt.Sprintf("Token budget exceeded: %d/%d", u.Tokens, budget.MaxTokens)
	}
	if u.APICalls+1 > budget.MaxAPICalls {
		return fmt.Sprintf("API call budget exceeded: %d/%d", u.APICalls, budget.MaxAPICalls)
	}
	if u.CostUSD+cost.CostUSD > budget.MaxCostUSD {
		return fmt.Sprintf("Cost budget exceeded: $%.2f/$%.2f", u.CostUSD, budget.MaxCostUSD)
	}
	return ""
}

// Record adds one call's actual consumption and persists.
func (t *BudgetTracker) Record(agentID string, cost Cost) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.usage[agentID]
	u.Tokens += cost.Tokens
	u.APICalls++
	u.CostUSD += cost.CostUSD
	t.usage[agentID] = u

	if err := store.WriteJSON(t.path, t.usage); err != nil {
		return fmt.Errorf("saving usage: %w", err)
	}
	return nil
}

// UsageFor returns the recorded usage for one agent.
func (t *BudgetTracker) UsageFor(agentID string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[agentID]
}
