// ABOUTME: Gitleaks adapter for hardcoded secret detection
// ABOUTME: Every leak maps to one high-severity finding

package scan

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

// Gitleaks scans a filesystem tree for committed secrets.
type Gitleaks struct {
	Timeout time.Duration
}

type gitleaksLeak struct {
	RuleID      string `json:"RuleID"`
	Description string `json:"Description"`
	File        string `json:"File"`
}

func (g *Gitleaks) Name() string { return "gitleaks" }

func (g *Gitleaks) Probe(string) bool { return binaryExists("gitleaks") }

func (g *Gitleaks) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: g.Name(), Available: g.Probe(target)}
	if !res.Available {
		return res
	}

	elapsed := startClock()
	timeout := g.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	// Gitleaks writes findings to a report file, not stdout.
	tmp, err := os.CreateTemp("", "gitleaks-*.json")
	if err != nil {
		res.Error = "creating report file: " + err.Error()
		return res
	}
	reportPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(reportPath) }()

	stdout, _, _, runErr := runCommand(ctx, timeout, "",
		"gitleaks", "detect", "--source", target,
		"--report-format", "json", "--report-path", reportPath, "--no-git")
	res.DurationMS = elapsed()
	res.RawOutput = capOutput(stdout, 10_000)
	if runErr != nil {
		res.Error = runErr.Error()
		return res
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		// Exit without a report means nothing was written; not an error.
		return res
	}

	res.Findings = parseGitleaksReport(g.Name(), data)
	return res
}

// parseGitleaksReport converts a gitleaks JSON report into findings.
// An undecodable report yields zero findings.
func parseGitleaksReport(scanner string, data []byte) []Finding {
	var leaks []gitleaksLeak
	if err := json.Unmarshal(data, &leaks); err != nil {
		return nil
	}

	var findings []Finding
	for _, leak := range leaks {
		rule := leak.RuleID
		if rule == "" {
			rule = "unknown"
		}
		findings = append(findings, Finding{
			Scanner:  scanner,
			Severity: SeverityHigh,
			Title:    "Secret: " + rule,
			Detail:   leak.Description,
			Location: leak.File,
		})
	}
	return findings
}
