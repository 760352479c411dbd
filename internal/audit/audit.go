// ABOUTME: Append-only JSONL audit log for every pipeline decision
// ABOUTME: Records who did what to which tool; secrets are redacted before writing

package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names written by the pipeline.
const (
	EventProposalCreated   = "proposal_created"
	EventVettingStarted    = "vetting_started"
	EventVettingVerdict    = "vetting_verdict"
	EventProposalApproved  = "proposal_approved"
	EventProposalRejected  = "proposal_rejected"
	EventCallAllowed       = "call_allowed"
	EventCallBlocked       = "call_blocked"
	EventApprovalRequested = "approval_requested"
	EventApprovalResolved  = "approval_resolved"
)

// Entry represents a single audit log line. Entries are never mutated
// or deleted once written.
type Entry struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"ts"`
	Event       string         `json:"event"`
	ToolID      string         `json:"tool_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	ActionClass string         `json:"action_class,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// Log appends entries to a JSONL file. Safe for concurrent writers:
// each entry is written as one atomic line under a mutex.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// Open opens (or creates) the audit log at path for appending.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	return &Log{file: f, logger: logger}, nil
}

// Append writes one entry to the log. Generates ID and Timestamp if
// unset and redacts secret-shaped values in Detail.
func (l *Log) Append(e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Detail != nil {
		e.Detail = RedactMap(e.Detail)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}

	if l.logger != nil {
		l.logger.Debug("appended audit entry",
			"id", e.ID,
			"event", e.Event,
			"tool_id", e.ToolID,
			"agent_id", e.AgentID,
		)
	}
	return nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Read returns all entries in the log at path, oldest first.
// Undecodable lines are skipped rather than failing the read.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var entries []Entry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				continue
			}
			entries = append(entries, e)
		}
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
