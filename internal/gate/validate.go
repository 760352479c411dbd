// ABOUTME: Argument validation for tool calls
// ABOUTME: Rejects blocked patterns, shell-injection markers, and workspace escapes

package gate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/global-mysterysnailrevolution/harness/internal/policy"
)

// dangerousSubstrings are rejected in any tool's serialized arguments.
var dangerousSubstrings = []string{
	"shell=true",
	"eval(",
	"exec(",
	"__import__",
	"subprocess",
	"rm -rf",
}

// Validator checks call arguments against the security policy.
type Validator struct {
	Policy        *policy.SecurityPolicy
	WorkspaceRoot string

	compileOnce sync.Once
	compiled    []blockedPattern
}

type blockedPattern struct {
	source string
	re     *regexp.Regexp
}

// Validate returns a structured rejection reason for bad arguments, or
// empty when the call may proceed.
func (v *Validator) Validate(toolID string, args map[string]any) string {
	serialized := serializeArgs(args)
	lowered := strings.ToLower(serialized)

	for _, bp := range v.blockedRegexps() {
		if bp.re.MatchString(serialized) {
			return fmt.Sprintf("Blocked pattern detected: %s", bp.source)
		}
	}

	for _, pattern := range v.Policy.ArgumentPatterns[toolID] {
		blocked, ok := strings.CutPrefix(pattern, "block:")
		if !ok {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(blocked)) {
			return fmt.Sprintf("Blocked argument pattern: %s", blocked)
		}
	}

	for _, danger := range dangerousSubstrings {
		if strings.Contains(lowered, danger) {
			return fmt.Sprintf("Dangerous pattern detected: %s", danger)
		}
	}

	if reason := v.checkPaths(args); reason != "" {
		return reason
	}
	return ""
}

// checkPaths rejects path-shaped string arguments that resolve outside
// the workspace root.
func (v *Validator) checkPaths(args map[string]any) string {
	if v.WorkspaceRoot == "" {
		return ""
	}
	root := filepath.Clean(v.WorkspaceRoot)

	for key, value := range args {
		s, isString := value.(string)
		if !isString || !strings.ContainsAny(s, "/\\") {
			continue
		}

		resolved := s
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(root, resolved)
		}
		resolved = filepath.Clean(resolved)

		if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return fmt.Sprintf("File path outside workspace: %s=%s", key, s)
		}
	}
	return ""
}

func (v *Validator) blockedRegexps() []blockedPattern {
	v.compileOnce.Do(func() {
		for _, pattern := range v.Policy.BlockedPatterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				continue
			}
			v.compiled = append(v.compiled, blockedPattern{source: pattern, re: re})
		}
	})
	return v.compiled
}

// serializeArgs renders args deterministically for pattern matching.
func serializeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
