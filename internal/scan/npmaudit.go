// ABOUTME: npm audit adapter for Node dependency vulnerabilities
// ABOUTME: Only probes available when the target carries a package.json

package scan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// NpmAudit runs `npm audit` inside a Node project target.
type NpmAudit struct {
	Timeout time.Duration
}

type npmAuditReport struct {
	Vulnerabilities map[string]struct {
		Severity string `json:"severity"`
		Range    string `json:"range"`
		Title    string `json:"title"`
	} `json:"vulnerabilities"`
}

func (n *NpmAudit) Name() string { return "npm_audit" }

// Probe requires both the npm binary and a package.json in the target.
func (n *NpmAudit) Probe(target string) bool {
	if !binaryExists("npm") {
		return false
	}
	_, err := os.Stat(filepath.Join(target, "package.json"))
	return err == nil
}

func (n *NpmAudit) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: n.Name(), Available: n.Probe(target)}
	if !res.Available {
		return res
	}

	elapsed := startClock()
	timeout := n.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	// npm audit exits nonzero whenever vulnerabilities exist; the JSON
	// body is still on stdout.
	stdout, stderr, _, err := runCommand(ctx, timeout, target, "npm", "audit", "--json")
	res.DurationMS = elapsed()
	res.RawOutput = capOutput(stdout, 30_000)
	if err != nil {
		res.Error = errString(err, stderr)
		return res
	}

	res.Findings = parseNpmAuditReport(n.Name(), []byte(stdout))
	return res
}

// parseNpmAuditReport converts npm audit JSON into findings.
func parseNpmAuditReport(scanner string, data []byte) []Finding {
	var report npmAuditReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil
	}

	var findings []Finding
	for name, advisory := range report.Vulnerabilities {
		rng := advisory.Range
		if rng == "" {
			rng = "?"
		}
		findings = append(findings, Finding{
			Scanner:  scanner,
			Severity: NormalizeSeverity(advisory.Severity),
			Title:    name + "@" + rng,
			Detail:   advisory.Title,
			Location: "package.json",
		})
	}
	return findings
}
