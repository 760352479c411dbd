// ABOUTME: Per-agent tool allowlists with deny-wins merging and glob-prefix patterns
// ABOUTME: Backed by one JSON file; the "default" entry applies to every agent

package allowlist

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/global-mysterysnailrevolution/harness/internal/store"
)

// DefaultAgent is the entry merged into every agent's allowlist.
const DefaultAgent = "default"

// Entry is one agent's allowlist configuration.
type Entry struct {
	Allow   []string `json:"allow"`
	Deny    []string `json:"deny"`
	Servers []string `json:"servers"`
}

// Tool pairs a tool ID with the server that serves it, for catalog
// filtering.
type Tool struct {
	ToolID string `json:"tool_id"`
	Server string `json:"server"`
}

// Manager loads, queries, and persists the allowlists file.
// Safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	path   string
	lists  map[string]Entry
	logger *slog.Logger
}

// NewManager loads the allowlists file at path, creating a default
// structure when the file is absent or unreadable.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{path: path, logger: logger}

	lists := map[string]Entry{}
	if err := store.ReadJSON(path, &lists); err != nil {
		if logger != nil {
			logger.Debug("allowlists file absent, starting empty", "path", path)
		}
		lists = map[string]Entry{
			DefaultAgent: {Allow: []string{}, Deny: []string{}, Servers: []string{}},
		}
		if err := store.WriteJSON(path, lists); err != nil {
			return nil, fmt.Errorf("initializing allowlists: %w", err)
		}
	}
	m.lists = lists
	return m, nil
}

// AllowedTools computes the effective allowed set for an agent:
// (agent allow ∪ default allow) minus (agent deny ∪ default deny).
// Deny always wins.
func (m *Manager) AllowedTools(agentID string) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent := m.lists[agentID]
	def := m.lists[DefaultAgent]

	allowed := make(map[string]bool)
	for _, id := range agent.Allow {
		allowed[id] = true
	}
	for _, id := range def.Allow {
		allowed[id] = true
	}
	for _, id := range agent.Deny {
		delete(allowed, id)
	}
	for _, id := range def.Deny {
		delete(allowed, id)
	}
	return allowed
}

// AllowedServers returns the agent's server list, falling back to the
// default list when the agent has no explicit servers.
func (m *Manager) AllowedServers(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if servers := m.lists[agentID].Servers; len(servers) > 0 {
		return servers
	}
	return m.lists[DefaultAgent].Servers
}

// IsToolAllowed checks the effective allowed set for an exact match,
// then for glob-prefix patterns ("github:*" matches "github:create_pr").
func (m *Manager) IsToolAllowed(agentID, toolID string) bool {
	allowed := m.AllowedTools(agentID)
	if allowed[toolID] {
		return true
	}
	for pattern := range allowed {
		if !strings.Contains(pattern, "*") {
			continue
		}
		if strings.HasPrefix(toolID, strings.ReplaceAll(pattern, "*", "")) {
			return true
		}
	}
	return false
}

// SetAgentAllowlist replaces an agent's entry and persists. Nil deny
// or servers preserve the existing values.
func (m *Manager) SetAgentAllowlist(agentID string, allow, deny, servers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.lists[agentID]
	entry.Allow = allow
	if deny != nil {
		entry.Deny = deny
	}
	if servers != nil {
		entry.Servers = servers
	}
	m.lists[agentID] = entry
	return m.saveLocked()
}

// AppendAllow adds a tool to an agent's allow list and persists.
// Already-present tools are left alone.
func (m *Manager) AppendAllow(agentID, toolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.lists[agentID]
	for _, id := range entry.Allow {
		if id == toolID {
			return nil
		}
	}
	entry.Allow = append(entry.Allow, toolID)
	m.lists[agentID] = entry
	if m.logger != nil {
		m.logger.Info("tool added to allowlist", "agent_id", agentID, "tool_id", toolID)
	}
	return m.saveLocked()
}

// FilterTools returns the subset of tools the agent may see: the
// server must be allowed (when a server list exists) and the tool must
// pass IsToolAllowed.
func (m *Manager) FilterTools(agentID string, tools []Tool) []Tool {
	servers := m.AllowedServers(agentID)
	serverOK := func(server string) bool {
		if len(servers) == 0 {
			return true
		}
		for _, s := range servers {
			if s == server {
				return true
			}
		}
		return false
	}

	var filtered []Tool
	for _, tool := range tools {
		if !serverOK(tool.Server) {
			continue
		}
		if m.IsToolAllowed(agentID, tool.ToolID) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// Agents returns the configured agent IDs, sorted.
func (m *Manager) Agents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.lists))
	for id := range m.lists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) saveLocked() error {
	if err := store.WriteJSON(m.path, m.lists); err != nil {
		return fmt.Errorf("saving allowlists: %w", err)
	}
	return nil
}
