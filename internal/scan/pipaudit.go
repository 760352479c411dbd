// ABOUTME: pip-audit adapter for Python dependency vulnerabilities
// ABOUTME: Only probes available when the target carries a requirements.txt

package scan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// PipAudit runs pip-audit against the target's requirements.txt.
type PipAudit struct {
	Timeout time.Duration
}

type pipAuditReport struct {
	Dependencies []struct {
		Name  string `json:"name"`
		Vulns []struct {
			ID          string `json:"id"`
			Description string `json:"description"`
		} `json:"vulns"`
	} `json:"dependencies"`
}

func (p *PipAudit) Name() string { return "pip_audit" }

// Probe requires both the pip-audit binary and a requirements.txt.
func (p *PipAudit) Probe(target string) bool {
	if !binaryExists("pip-audit") {
		return false
	}
	_, err := os.Stat(filepath.Join(target, "requirements.txt"))
	return err == nil
}

func (p *PipAudit) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: p.Name(), Available: p.Probe(target)}
	if !res.Available {
		return res
	}

	elapsed := startClock()
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	reqs := filepath.Join(target, "requirements.txt")
	stdout, stderr, _, err := runCommand(ctx, timeout, target,
		"pip-audit", "-r", reqs, "--format", "json")
	res.DurationMS = elapsed()
	res.RawOutput = capOutput(stdout, 30_000)
	if err != nil {
		res.Error = errString(err, stderr)
		return res
	}

	res.Findings = parsePipAuditReport(p.Name(), []byte(stdout))
	return res
}

// parsePipAuditReport converts pip-audit JSON into high-severity findings.
func parsePipAuditReport(scanner string, data []byte) []Finding {
	var report pipAuditReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil
	}

	var findings []Finding
	for _, dep := range report.Dependencies {
		name := dep.Name
		if name == "" {
			name = "?"
		}
		for _, vuln := range dep.Vulns {
			findings = append(findings, Finding{
				Scanner:  scanner,
				Severity: SeverityHigh,
				Title:    name + " " + vuln.ID,
				Detail:   vuln.Description,
				Location: "requirements.txt",
			})
		}
	}
	return findings
}
