// ABOUTME: Secret redaction applied to payloads before they are logged or surfaced
// ABOUTME: Drops values under sensitive key names and token-prefixed long strings

package audit

import (
	"regexp"
	"strings"
)

// Redacted replaces any value judged secret-shaped.
const Redacted = "***REDACTED***"

// sensitiveKey matches key names whose values must never be logged.
var sensitiveKey = regexp.MustCompile(`(?i)password|secret|token|key|auth|bearer|credential`)

// tokenPrefixes flag long opaque strings as likely credentials.
var tokenPrefixes = []string{"sk-", "x-", "bearer ", "token "}

// inlineSecret matches key=value or key: value secrets embedded in free text.
var inlineSecret = regexp.MustCompile(
	`(?i)(password|secret|token|api[_-]?key|auth[_-]?token)\s*[:=]\s*["']?[^"'\s]+`)

// RedactMap returns a deep copy of m with secret-shaped values replaced.
// The input map is not modified.
func RedactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKey.MatchString(k) {
			out[k] = Redacted
			continue
		}
		out[k] = RedactValue(v)
	}
	return out
}

// RedactValue recursively redacts maps, slices, and suspicious strings.
func RedactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RedactValue(item)
		}
		return out
	case string:
		return redactString(val)
	default:
		return v
	}
}

// RedactString scrubs inline key=value secrets from free text.
func RedactString(s string) string {
	return inlineSecret.ReplaceAllStringFunc(s, func(match string) string {
		sep := strings.IndexAny(match, ":=")
		if sep < 0 {
			return Redacted
		}
		return match[:sep+1] + " " + Redacted
	})
}

// redactString drops whole values that look like bare tokens and scrubs
// inline secrets from everything else.
func redactString(s string) string {
	if len(s) > 20 {
		head := strings.ToLower(s)
		if len(head) > 20 {
			head = head[:20]
		}
		for _, prefix := range tokenPrefixes {
			if strings.Contains(head, prefix) {
				return Redacted
			}
		}
	}
	return RedactString(s)
}
