// ABOUTME: Runtime approval requests for tools outside an agent's allowlist
// ABOUTME: Requests are TTL-bounded; expiry is evaluated lazily on lookup

package allowlist

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/global-mysterysnailrevolution/harness/internal/store"
)

// DefaultApprovalTTL bounds how long a runtime approval request stays
// actionable.
const DefaultApprovalTTL = 30 * time.Minute

// Request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
	RequestExpired  = "expired"
)

// Request asks a human to authorize one agent calling one tool that is
// not on its allowlist.
type Request struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	ToolID      string         `json:"tool_id"`
	Args        map[string]any `json:"args_snapshot,omitempty"`
	Status      string         `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
}

// Approvals persists runtime approval requests in one JSON file.
type Approvals struct {
	mu       sync.Mutex
	path     string
	ttl      time.Duration
	manager  *Manager
	logger   *slog.Logger
	requests []Request
}

// NewApprovals loads the pending-approvals file. Approved requests
// append the tool to the agent's allowlist via manager.
func NewApprovals(path string, ttl time.Duration, manager *Manager, logger *slog.Logger) (*Approvals, error) {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	a := &Approvals{path: path, ttl: ttl, manager: manager, logger: logger}

	var requests []Request
	if err := store.ReadJSON(path, &requests); err == nil {
		a.requests = requests
	}
	return a, nil
}

// Create records a new pending request and returns it.
func (a *Approvals) Create(agentID, toolID string, args map[string]any) (*Request, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	req := Request{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		ToolID:      toolID,
		Args:        args,
		Status:      RequestPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(a.ttl),
	}
	a.requests = append(a.requests, req)
	if err := a.saveLocked(); err != nil {
		return nil, err
	}
	if a.logger != nil {
		a.logger.Info("approval requested", "agent_id", agentID, "tool_id", toolID, "request_id", req.ID)
	}
	return &req, nil
}

// Pending returns all unexpired pending requests, marking and
// persisting any that have lapsed.
func (a *Approvals) Pending() ([]Request, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := a.expireLocked(time.Now().UTC())
	var pending []Request
	for _, req := range a.requests {
		if req.Status == RequestPending {
			pending = append(pending, req)
		}
	}
	if changed {
		if err := a.saveLocked(); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

// Approve resolves a pending request and appends the tool to the
// agent's allowlist. Returns false when the request is missing,
// expired, or already resolved.
func (a *Approvals) Approve(requestID, approvedBy string) (bool, error) {
	req, ok, err := a.resolve(requestID, RequestApproved, approvedBy)
	if err != nil || !ok {
		return false, err
	}
	if a.manager != nil {
		if err := a.manager.AppendAllow(req.AgentID, req.ToolID); err != nil {
			return false, fmt.Errorf("updating allowlist: %w", err)
		}
	}
	return true, nil
}

// Reject resolves a pending request without touching the allowlist.
func (a *Approvals) Reject(requestID, rejectedBy string) (bool, error) {
	_, ok, err := a.resolve(requestID, RequestRejected, rejectedBy)
	return ok, err
}

// Get returns one request by ID, applying lazy expiry first.
func (a *Approvals) Get(requestID string) (*Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.expireLocked(time.Now().UTC()) {
		_ = a.saveLocked()
	}
	for i := range a.requests {
		if a.requests[i].ID == requestID {
			req := a.requests[i]
			return &req, true
		}
	}
	return nil, false
}

func (a *Approvals) resolve(requestID, status, resolvedBy string) (*Request, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.expireLocked(time.Now().UTC())
	for i := range a.requests {
		if a.requests[i].ID != requestID {
			continue
		}
		if a.requests[i].Status != RequestPending {
			return nil, false, nil
		}
		a.requests[i].Status = status
		a.requests[i].ResolvedBy = resolvedBy
		req := a.requests[i]
		if err := a.saveLocked(); err != nil {
			return nil, false, err
		}
		if a.logger != nil {
			a.logger.Info("approval resolved", "request_id", requestID, "status", status, "by", resolvedBy)
		}
		return &req, true, nil
	}
	return nil, false, nil
}

// expireLocked flips lapsed pending requests to expired. Returns
// whether anything changed.
func (a *Approvals) expireLocked(now time.Time) bool {
	changed := false
	for i := range a.requests {
		if a.requests[i].Status == RequestPending && now.After(a.requests[i].ExpiresAt) {
			a.requests[i].Status = RequestExpired
			changed = true
		}
	}
	return changed
}

func (a *Approvals) saveLocked() error {
	if err := store.WriteJSON(a.path, a.requests); err != nil {
		return fmt.Errorf("saving approval requests: %w", err)
	}
	return nil
}
