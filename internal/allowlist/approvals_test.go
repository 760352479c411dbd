// ABOUTME: Tests for runtime approval requests
// ABOUTME: Covers lazy TTL expiry, double resolution, and allowlist promotion

package allowlist

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApprovals(t *testing.T, ttl time.Duration) (*Approvals, *Manager) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "allowlists.json"), nil)
	require.NoError(t, err)
	a, err := NewApprovals(filepath.Join(dir, "pending_approvals.json"), ttl, m, nil)
	require.NoError(t, err)
	return a, m
}

func TestCreateAndListPending(t *testing.T) {
	a, _ := newApprovals(t, 0)

	req, err := a.Create("coder", "shell_exec", map[string]any{"cmd": "ls"})
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.Status)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, DefaultApprovalTTL, req.ExpiresAt.Sub(req.RequestedAt))

	pending, err := a.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "shell_exec", pending[0].ToolID)
}

func TestApprovePromotesToAllowlist(t *testing.T) {
	a, m := newApprovals(t, time.Hour)

	req, err := a.Create("coder", "shell_exec", nil)
	require.NoError(t, err)
	assert.False(t, m.IsToolAllowed("coder", "shell_exec"))

	ok, err := a.Approve(req.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, m.IsToolAllowed("coder", "shell_exec"))

	got, found := a.Get(req.ID)
	require.True(t, found)
	assert.Equal(t, RequestApproved, got.Status)
	assert.Equal(t, "alice", got.ResolvedBy)
}

func TestRejectLeavesAllowlistUntouched(t *testing.T) {
	a, m := newApprovals(t, time.Hour)

	req, err := a.Create("coder", "shell_exec", nil)
	require.NoError(t, err)

	ok, err := a.Reject(req.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, m.IsToolAllowed("coder", "shell_exec"))
}

func TestResolveTwiceReturnsFalse(t *testing.T) {
	a, _ := newApprovals(t, time.Hour)

	req, err := a.Create("coder", "shell_exec", nil)
	require.NoError(t, err)

	ok, err := a.Approve(req.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Approve(req.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Reject(req.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveUnknownRequest(t *testing.T) {
	a, _ := newApprovals(t, time.Hour)

	ok, err := a.Approve("no-such-id", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLazyExpiry(t *testing.T) {
	a, m := newApprovals(t, time.Millisecond)

	req, err := a.Create("coder", "shell_exec", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// Expiry happens on lookup, not in the background.
	got, found := a.Get(req.ID)
	require.True(t, found)
	assert.Equal(t, RequestExpired, got.Status)

	ok, err := a.Approve(req.ID, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.IsToolAllowed("coder", "shell_exec"))

	pending, err := a.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovalsPersistAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "allowlists.json"), nil)
	require.NoError(t, err)
	path := filepath.Join(dir, "pending_approvals.json")

	a, err := NewApprovals(path, time.Hour, m, nil)
	require.NoError(t, err)
	req, err := a.Create("coder", "shell_exec", nil)
	require.NoError(t, err)

	reloaded, err := NewApprovals(path, time.Hour, m, nil)
	require.NoError(t, err)
	got, found := reloaded.Get(req.ID)
	require.True(t, found)
	assert.Equal(t, RequestPending, got.Status)
}
