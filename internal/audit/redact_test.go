// ABOUTME: Tests for secret redaction.
// ABOUTME: Verifies sensitive keys, nested structures, and token-prefixed strings.

package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactMapSensitiveKeys(t *testing.T) {
	for _, key := range []string{
		"password", "PASSWORD", "api_key", "Secret", "access_token",
		"authorization", "bearer_value", "db_credential",
	} {
		out := RedactMap(map[string]any{key: "hunter2-value"})
		assert.Equal(t, Redacted, out[key], "key %q should be redacted", key)
	}
}

func TestRedactMapLeavesPlainKeys(t *testing.T) {
	in := map[string]any{"path": "/tmp/file", "count": 3}
	out := RedactMap(in)
	assert.Equal(t, "/tmp/file", out["path"])
	assert.Equal(t, 3, out["count"])
}

func TestRedactMapNested(t *testing.T) {
	in := map[string]any{
		"config": map[string]any{
			"github_token": "ghp_value",
			"repo":         "octo/repo",
		},
		"items": []any{
			map[string]any{"password": "x"},
			"plain",
		},
	}
	out := RedactMap(in)

	nested := out["config"].(map[string]any)
	assert.Equal(t, Redacted, nested["github_token"])
	assert.Equal(t, "octo/repo", nested["repo"])

	items := out["items"].([]any)
	assert.Equal(t, Redacted, items[0].(map[string]any)["password"])
	assert.Equal(t, "plain", items[1])
}

func TestRedactMapDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"token": "original"}
	_ = RedactMap(in)
	assert.Equal(t, "original", in["token"])
}

func TestRedactValueTokenPrefixedStrings(t *testing.T) {
	assert.Equal(t, Redacted, RedactValue("sk-proj-abcdef0123456789abcdef"))
	assert.Equal(t, Redacted, RedactValue("bearer eyJhbGciOiJIUzI1NiJ9abc"))
	// Short strings and ordinary text pass through.
	assert.Equal(t, "sk-1", RedactValue("sk-1"))
	assert.Equal(t, "a perfectly ordinary sentence", RedactValue("a perfectly ordinary sentence"))
}

func TestRedactStringInlineSecrets(t *testing.T) {
	in := `connecting with password=supersecret123 to host`
	out := RedactString(in)
	assert.NotContains(t, out, "supersecret123")
	assert.Contains(t, out, Redacted)

	in2 := `api_key: "abcd1234" and more`
	out2 := RedactString(in2)
	assert.NotContains(t, out2, "abcd1234")
}

func TestRedactionCompleteness(t *testing.T) {
	// Any payload value under a matching key never survives redaction.
	payload := map[string]any{
		"AUTH_HEADER":     "Basic dXNlcjpwYXNz",
		"nested":          map[string]any{"ssh_key": "-----BEGIN KEY-----"},
		"client_secret":   "s3cr3t",
		"passwordConfirm": "s3cr3t",
	}
	out := RedactMap(payload)
	flat := flatten(out)
	for _, secret := range []string{"Basic dXNlcjpwYXNz", "-----BEGIN KEY-----", "s3cr3t"} {
		for _, v := range flat {
			assert.False(t, strings.Contains(v, secret), "secret %q leaked as %q", secret, v)
		}
	}
}

func flatten(m map[string]any) []string {
	var out []string
	for _, v := range m {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case map[string]any:
			out = append(out, flatten(val)...)
		}
	}
	return out
}
