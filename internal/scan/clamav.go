// ABOUTME: ClamAV adapter for malware detection in archives and binaries
// ABOUTME: Exit code 1 signals a detection; FOUND lines become critical findings

package scan

import (
	"context"
	"strings"
	"time"
)

// ClamAV runs clamscan recursively over a filesystem target.
type ClamAV struct {
	Timeout time.Duration
}

func (c *ClamAV) Name() string { return "clamav" }

func (c *ClamAV) Probe(string) bool { return binaryExists("clamscan") }

func (c *ClamAV) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: c.Name(), Available: c.Probe(target)}
	if !res.Available {
		return res
	}

	elapsed := startClock()
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	stdout, stderr, exitCode, err := runCommand(ctx, timeout, "",
		"clamscan", "-r", "--no-summary", target)
	res.DurationMS = elapsed()
	res.RawOutput = capOutput(stdout, 10_000)
	if err != nil {
		res.Error = errString(err, stderr)
		return res
	}

	// clamscan: 0 = clean, 1 = virus found, 2+ = scan error.
	switch {
	case exitCode == 1:
		res.Findings = parseClamOutput(c.Name(), stdout)
	case exitCode > 1:
		res.Error = capOutput(stderr, 2000)
		if res.Error == "" {
			res.Error = "clamscan failed"
		}
	}
	return res
}

// parseClamOutput extracts detections from "path: Signature FOUND" lines.
func parseClamOutput(scanner, stdout string) []Finding {
	var findings []Finding
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "FOUND") {
			continue
		}
		line = strings.TrimSpace(line)
		location := ""
		virus := line
		if idx := strings.Index(line, ":"); idx > 0 {
			location = strings.TrimSpace(line[:idx])
			virus = strings.TrimSuffix(strings.TrimSpace(line[idx+1:]), " FOUND")
			virus = strings.TrimSpace(virus)
		}
		findings = append(findings, Finding{
			Scanner:  scanner,
			Severity: SeverityCritical,
			Title:    "Malware: " + virus,
			Detail:   line,
			Location: location,
		})
	}
	return findings
}
