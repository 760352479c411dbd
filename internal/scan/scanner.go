// ABOUTME: Scanner adapter contract and shared finding/result types
// ABOUTME: Wraps external security tools; a missing binary degrades to available=false

package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Severity is the normalized 5-tier scale every scanner maps onto.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// NormalizeSeverity maps a tool's native severity vocabulary onto the
// normalized scale. Unmapped values default to medium.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical
	case "high", "error":
		return SeverityHigh
	case "medium", "moderate", "warning":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info", "informational", "negligible":
		return SeverityInfo
	default:
		return SeverityMedium
	}
}

// Finding is one scanner's detection. Immutable once created.
type Finding struct {
	Scanner  string   `json:"scanner"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail,omitempty"`
	Location string   `json:"location,omitempty"`
}

// ScanResult is the outcome of one scanner run. Available=false means
// the scanner binary was absent; it contributes zero findings and must
// not count as a clean scan.
type ScanResult struct {
	Scanner    string    `json:"scanner"`
	Available  bool      `json:"available"`
	Findings   []Finding `json:"findings"`
	RawOutput  string    `json:"raw_output,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// AddFinding appends one normalized finding.
func (r *ScanResult) AddFinding(severity Severity, title, detail, location string) {
	r.Findings = append(r.Findings, Finding{
		Scanner:  r.Scanner,
		Severity: severity,
		Title:    title,
		Detail:   detail,
		Location: location,
	})
}

// Adapter wraps one external security tool. Run never fails for a
// missing tool: absence is encoded as Available=false, and a broken
// scanner records Error but still returns a result.
type Adapter interface {
	// Name is the stable scanner identifier used in policy and reports.
	Name() string
	// Probe reports whether the scanner can run against the target.
	Probe(target string) bool
	// Run invokes the scanner and parses its output into findings.
	Run(ctx context.Context, target string) ScanResult
}

// rawOutputCap bounds captured scanner output so reports stay small.
const rawOutputCap = 50_000

// errTimedOut marks a scanner killed by its deadline.
var errTimedOut = errors.New("timed out")

// capOutput truncates s to at most n characters.
func capOutput(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// binaryExists reports whether name resolves on PATH.
func binaryExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// runCommand executes an external scanner with a bounded timeout and
// captures stdout/stderr. The exit code is returned even when the
// command exits nonzero; some scanners signal findings that way.
func runCommand(ctx context.Context, timeout time.Duration, dir string, name string, args ...string) (stdout, stderr string, exitCode int, err error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runCtx.Err() != nil {
		return stdout, stderr, -1, fmt.Errorf("%s: %w", name, errTimedOut)
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return stdout, stderr, 0, nil
	case errors.As(runErr, &exitErr):
		return stdout, stderr, exitErr.ExitCode(), nil
	default:
		return stdout, stderr, -1, fmt.Errorf("running %s: %w", name, runErr)
	}
}

// startClock returns the elapsed-ms recorder used by every adapter.
func startClock() func() int64 {
	start := time.Now()
	return func() int64 {
		return time.Since(start).Milliseconds()
	}
}
