// ABOUTME: Semgrep adapter for static analysis with the auto ruleset
// ABOUTME: Maps ERROR/WARNING/INFO onto high/medium/low

package scan

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// Semgrep runs `semgrep --config auto` over a filesystem target.
type Semgrep struct {
	Timeout time.Duration
}

type semgrepReport struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"extra"`
	} `json:"results"`
}

func (s *Semgrep) Name() string { return "semgrep" }

func (s *Semgrep) Probe(string) bool { return binaryExists("semgrep") }

func (s *Semgrep) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: s.Name(), Available: s.Probe(target)}
	if !res.Available {
		return res
	}

	elapsed := startClock()
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	stdout, stderr, _, err := runCommand(ctx, timeout, "",
		"semgrep", "--config", "auto", "--json", "--quiet", target)
	res.DurationMS = elapsed()
	res.RawOutput = capOutput(stdout, rawOutputCap)
	if err != nil {
		res.Error = errString(err, stderr)
		return res
	}

	res.Findings = parseSemgrepReport(s.Name(), []byte(stdout))
	return res
}

// parseSemgrepReport converts semgrep JSON results into findings.
func parseSemgrepReport(scanner string, data []byte) []Finding {
	var report semgrepReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil
	}

	var findings []Finding
	for _, result := range report.Results {
		checkID := result.CheckID
		if checkID == "" {
			checkID = "unknown"
		}
		location := result.Path
		if result.Start.Line > 0 {
			location += ":" + strconv.Itoa(result.Start.Line)
		}
		findings = append(findings, Finding{
			Scanner:  scanner,
			Severity: semgrepSeverity(result.Extra.Severity),
			Title:    checkID,
			Detail:   result.Extra.Message,
			Location: location,
		})
	}
	return findings
}

// semgrepSeverity maps semgrep's vocabulary; unknown values are medium.
func semgrepSeverity(raw string) Severity {
	switch raw {
	case "ERROR":
		return SeverityHigh
	case "WARNING":
		return SeverityMedium
	case "INFO":
		return SeverityLow
	default:
		return SeverityMedium
	}
}
