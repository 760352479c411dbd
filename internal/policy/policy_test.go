// ABOUTME: Tests for vetting and security policy loading.
// ABOUTME: Verifies defaults, partial documents, and malformed file fallback.

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVettingPolicy(t *testing.T) {
	p := DefaultVettingPolicy()

	assert.Equal(t, 0, p.MaxCritical)
	assert.Equal(t, 2, p.MaxHigh)
	assert.Equal(t, 10, p.MaxMedium)
	assert.Equal(t, 0, p.MaxSecrets)
	assert.Equal(t, 1, p.MaxInjectionSignals)
	assert.True(t, p.AutoRejectOnMalware)
	assert.True(t, p.AutoRejectOnCritical)
	assert.True(t, p.ScannerEnabled("trivy"))
	assert.True(t, p.ScannerEnabled("prompt_injection"))
	assert.True(t, p.IsDangerousClass("exec"))
	assert.False(t, p.IsDangerousClass("read"))
}

func TestLoadVettingPolicyMissingFile(t *testing.T) {
	p := LoadVettingPolicy(filepath.Join(t.TempDir(), "nope.json"), nil)
	require.NotNil(t, p)
	assert.Equal(t, DefaultVettingPolicy(), p)
}

func TestLoadVettingPolicyMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vetting_policy.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	p := LoadVettingPolicy(path, nil)
	assert.Equal(t, DefaultVettingPolicy(), p)
}

func TestLoadVettingPolicyPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vetting_policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_high": 5}`), 0o644))

	p := LoadVettingPolicy(path, nil)
	assert.Equal(t, 5, p.MaxHigh)
	// Missing sections inherit defaults.
	assert.True(t, p.ScannerEnabled("gitleaks"))
	assert.True(t, p.IsDangerousClass("credential"))
}

func TestScannerEnabledExplicittoggle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vetting_policy.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"scanners_enabled": {"semgrep": false}}`), 0o644))

	p := LoadVettingPolicy(path, nil)
	assert.False(t, p.ScannerEnabled("semgrep"))
	// Unknown scanners default to enabled.
	assert.True(t, p.ScannerEnabled("trivy"))
}

func TestSaveAndReloadVettingPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vetting_policy.json")

	p := DefaultVettingPolicy()
	p.MaxCritical = 1
	require.NoError(t, SaveVettingPolicy(path, p))

	loaded := LoadVettingPolicy(path, nil)
	assert.Equal(t, 1, loaded.MaxCritical)
}

func TestSecurityPolicyLimitFor(t *testing.T) {
	p := DefaultSecurityPolicy()
	p.RateLimits["agent-1"] = map[string]RateLimit{
		"github:create_issue": {MaxCalls: 5, WindowSeconds: 60},
	}

	limit, ok := p.LimitFor("agent-1", "github:create_issue")
	require.True(t, ok)
	assert.Equal(t, 5, limit.MaxCalls)

	// Unconfigured pairs are unlimited.
	_, ok = p.LimitFor("agent-1", "fs:read_file")
	assert.False(t, ok)
	_, ok = p.LimitFor("agent-2", "github:create_issue")
	assert.False(t, ok)
}

func TestSecurityPolicyBudgetFor(t *testing.T) {
	p := DefaultSecurityPolicy()
	p.Budgets["agent-1"] = Budget{MaxTokens: 100, MaxAPICalls: 2, MaxCostUSD: 0.5}

	b := p.BudgetFor("agent-1")
	assert.Equal(t, int64(100), b.MaxTokens)

	def := p.BudgetFor("agent-unknown")
	assert.Equal(t, DefaultBudget(), def)
}

func TestLoadSecurityPolicyMissing(t *testing.T) {
	p := LoadSecurityPolicy(filepath.Join(t.TempDir(), "nope.json"), nil)
	require.NotNil(t, p)
	assert.True(t, p.ToolApprovalRequired)
	assert.NotNil(t, p.RateLimits)
}
