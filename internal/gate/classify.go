// ABOUTME: Action classification for tool calls
// ABOUTME: Scores tool_id plus serialized args against five keyword sets

package gate

import (
	"encoding/json"
	"strings"
)

// Action classes, ordered from least to most sensitive.
const (
	ClassRead       = "read"
	ClassWrite      = "write"
	ClassNetwork    = "network"
	ClassCredential = "credential"
	ClassExec       = "exec"
)

// classOrder fixes the scoring order so classification is deterministic.
var classOrder = []string{ClassRead, ClassWrite, ClassNetwork, ClassCredential, ClassExec}

var classKeywords = map[string][]string{
	ClassRead: {
		"read", "get", "list", "search", "query", "view", "show", "status", "cat",
	},
	ClassWrite: {
		"write", "create", "update", "delete", "edit", "remove", "move", "rename",
		"save", "put", "append", "mkdir", "rm ",
	},
	ClassNetwork: {
		"http", "url", "fetch", "request", "download", "upload", "socket", "curl",
		"webhook", "dns",
	},
	ClassCredential: {
		"password", "secret", "token", "credential", "auth", "login", "vault",
		"apikey", "api_key", "keychain",
	},
	ClassExec: {
		"exec", "run", "shell", "command", "spawn", "subprocess", "eval", "script",
		"bash", "terminal",
	},
}

// Classify scores the tool ID and serialized args against each class's
// keyword set and returns the class with the most matches. Ties and
// all-zero scores resolve to read, the safe default.
func Classify(toolID string, args map[string]any) string {
	text := strings.ToLower(toolID)
	if len(args) > 0 {
		if data, err := json.Marshal(args); err == nil {
			text += " " + strings.ToLower(string(data))
		}
	}

	best := ClassRead
	bestScore := 0
	tied := false
	for _, class := range classOrder {
		score := 0
		for _, kw := range classKeywords[class] {
			if strings.Contains(text, kw) {
				score++
			}
		}
		switch {
		case score > bestScore:
			best, bestScore, tied = class, score, false
		case score == bestScore && score > 0 && class != best:
			tied = true
		}
	}

	if bestScore == 0 || tied {
		return ClassRead
	}
	return best
}
