// ABOUTME: Tests for argument validation
// ABOUTME: Covers blocked regexes, tool patterns, dangerous substrings, path escapes

package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/global-mysterysnailrevolution/harness/internal/policy"
)

func newValidator(t *testing.T, mutate func(*policy.SecurityPolicy)) *Validator {
	t.Helper()
	pol := policy.DefaultSecurityPolicy()
	if mutate != nil {
		mutate(pol)
	}
	return &Validator{Policy: pol, WorkspaceRoot: t.TempDir()}
}

func TestValidateCleanArgs(t *testing.T) {
	v := newValidator(t, nil)
	assert.Empty(t, v.Validate("fs:read_file", map[string]any{"path": "notes.md"}))
}

func TestValidateBlockedRegex(t *testing.T) {
	v := newValidator(t, func(p *policy.SecurityPolicy) {
		p.BlockedPatterns = []string{`drop\s+table`}
	})

	reason := v.Validate("db:query", map[string]any{"sql": "DROP TABLE users"})
	assert.Contains(t, reason, "Blocked pattern detected")
}

func TestValidateToolSpecificBlockPattern(t *testing.T) {
	v := newValidator(t, func(p *policy.SecurityPolicy) {
		p.ArgumentPatterns["web:fetch"] = []string{"block:169.254.169.254"}
	})

	reason := v.Validate("web:fetch", map[string]any{"url": "http://169.254.169.254/meta"})
	assert.Contains(t, reason, "Blocked argument pattern: 169.254.169.254")

	// Same args against a tool with no patterns go through.
	assert.Empty(t, v.Validate("web:other", map[string]any{"note": "fine"}))
}

func TestValidateDangerousSubstrings(t *testing.T) {
	v := newValidator(t, nil)

	for _, args := range []map[string]any{
		{"opts": "shell=True"},
		{"code": "eval(payload)"},
		{"code": "__import__('os')"},
		{"code": "import subprocess"},
		{"cmd": "rm -rf /"},
	} {
		reason := v.Validate("runner", args)
		assert.NotEmpty(t, reason, "args %v should be rejected", args)
	}
}

func TestValidatePathEscape(t *testing.T) {
	v := newValidator(t, nil)

	reason := v.Validate("fs:read_file", map[string]any{"path": "/etc/passwd"})
	assert.Contains(t, reason, "File path outside workspace")

	reason = v.Validate("fs:read_file", map[string]any{"path": "../../secrets.txt"})
	assert.Contains(t, reason, "File path outside workspace")

	// Relative paths inside the workspace are fine.
	assert.Empty(t, v.Validate("fs:read_file", map[string]any{"path": "./docs/notes.md"}))
	assert.Empty(t, v.Validate("fs:read_file", map[string]any{"path": "sub/dir/file.go"}))
}

func TestValidateNonPathStringsIgnored(t *testing.T) {
	v := newValidator(t, nil)
	assert.Empty(t, v.Validate("notes:add", map[string]any{"text": "plain words, no separators"}))
}

func TestValidateInvalidBlockedRegexSkipped(t *testing.T) {
	v := newValidator(t, func(p *policy.SecurityPolicy) {
		p.BlockedPatterns = []string{`([`, `drop\s+table`}
	})

	reason := v.Validate("db:query", map[string]any{"sql": "drop table users"})
	assert.Contains(t, reason, "drop\\s+table")
}
