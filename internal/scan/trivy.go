// ABOUTME: Trivy adapter for filesystem and container image vulnerability scanning
// ABOUTME: Parses vulnerabilities and misconfigurations from Trivy's JSON report

package scan

import (
	"context"
	"encoding/json"
	"time"
)

// Trivy runs `trivy fs` or `trivy image` depending on the target kind.
type Trivy struct {
	// Image switches the scan from filesystem to container image mode.
	Image bool
	// Timeout bounds one invocation. Zero means the default.
	Timeout time.Duration
}

// trivyReport mirrors the fields of Trivy's JSON output we consume.
type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID string `json:"VulnerabilityID"`
			PkgName         string `json:"PkgName"`
			Severity        string `json:"Severity"`
			Title           string `json:"Title"`
		} `json:"Vulnerabilities"`
		Misconfigurations []struct {
			Title    string `json:"Title"`
			Message  string `json:"Message"`
			Severity string `json:"Severity"`
		} `json:"Misconfigurations"`
	} `json:"Results"`
}

func (t *Trivy) Name() string { return "trivy" }

func (t *Trivy) Probe(string) bool { return binaryExists("trivy") }

func (t *Trivy) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: t.Name(), Available: t.Probe(target)}
	if !res.Available {
		return res
	}

	elapsed := startClock()
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	mode := "fs"
	if t.Image {
		mode = "image"
	}

	stdout, stderr, _, err := runCommand(ctx, timeout, "",
		"trivy", mode, "--format", "json", "--severity", "CRITICAL,HIGH,MEDIUM", target)
	res.DurationMS = elapsed()
	res.RawOutput = capOutput(stdout, rawOutputCap)
	if err != nil {
		res.Error = errString(err, stderr)
		return res
	}

	var report trivyReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		res.Error = "failed to parse trivy JSON output"
		return res
	}

	res.Findings = parseTrivyReport(t.Name(), &report)
	return res
}

// parseTrivyReport converts a decoded Trivy report into findings.
func parseTrivyReport(scanner string, report *trivyReport) []Finding {
	var findings []Finding
	for _, result := range report.Results {
		for _, vuln := range result.Vulnerabilities {
			id := vuln.VulnerabilityID
			if id == "" {
				id = "?"
			}
			pkg := vuln.PkgName
			if pkg == "" {
				pkg = "?"
			}
			findings = append(findings, Finding{
				Scanner:  scanner,
				Severity: NormalizeSeverity(vuln.Severity),
				Title:    id + " in " + pkg,
				Detail:   vuln.Title,
				Location: result.Target,
			})
		}
		for _, mc := range result.Misconfigurations {
			title := mc.Title
			if title == "" {
				title = "Misconfiguration"
			}
			findings = append(findings, Finding{
				Scanner:  scanner,
				Severity: NormalizeSeverity(mc.Severity),
				Title:    title,
				Detail:   mc.Message,
				Location: result.Target,
			})
		}
	}
	return findings
}

// errString prefers the subprocess stderr when present.
func errString(err error, stderr string) string {
	if stderr != "" {
		return capOutput(stderr, 2000)
	}
	return err.Error()
}
