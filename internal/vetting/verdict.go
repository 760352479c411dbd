// ABOUTME: Verdict evaluation: a pure function of aggregated findings and policy
// ABOUTME: Any threshold breach is a hard fail; warn covers non-breaching high/injection signals

package vetting

import (
	"fmt"

	"github.com/global-mysterysnailrevolution/harness/internal/policy"
	"github.com/global-mysterysnailrevolution/harness/internal/scan"
)

// Verdict is the aggregate judgment for one vetting run.
type Verdict string

const (
	VerdictPending Verdict = "pending"
	VerdictPass    Verdict = "pass"
	VerdictWarn    Verdict = "warn"
	VerdictFail    Verdict = "fail"
)

// FindingCounts aggregates findings across all scan results.
type FindingCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`

	// Secrets counts findings from the secrets scanner.
	Secrets int `json:"secrets"`
	// Malware counts critical findings from the malware scanner.
	Malware int `json:"malware"`
	// Injections counts findings from the prompt injection scanner.
	Injections int `json:"injections"`
}

// CountFindings tallies findings by severity and by originating scanner.
func CountFindings(results []scan.ScanResult) FindingCounts {
	var c FindingCounts
	for _, sr := range results {
		for _, f := range sr.Findings {
			switch f.Severity {
			case scan.SeverityCritical:
				c.Critical++
			case scan.SeverityHigh:
				c.High++
			case scan.SeverityMedium:
				c.Medium++
			case scan.SeverityLow:
				c.Low++
			case scan.SeverityInfo:
				c.Info++
			}
			c.Total++

			switch sr.Scanner {
			case "gitleaks":
				c.Secrets++
			case "clamav":
				if f.Severity == scan.SeverityCritical {
					c.Malware++
				}
			case "prompt_injection":
				c.Injections++
			}
		}
	}
	return c
}

// Evaluate derives the verdict and reasons from aggregated findings.
// Any breached threshold fails the run outright; high or injection
// findings below their thresholds downgrade a pass to a warn.
func Evaluate(results []scan.ScanResult, pol *policy.VettingPolicy) (Verdict, []string) {
	c := CountFindings(results)

	var reasons []string
	if pol.AutoRejectOnMalware && c.Malware > pol.MaxMalware {
		reasons = append(reasons, fmt.Sprintf("Malware detected: %d", c.Malware))
	}
	if pol.AutoRejectOnCritical && c.Critical > pol.MaxCritical {
		reasons = append(reasons, fmt.Sprintf("Critical vulns: %d (max %d)", c.Critical, pol.MaxCritical))
	}
	if c.High > pol.MaxHigh {
		reasons = append(reasons, fmt.Sprintf("High vulns: %d (max %d)", c.High, pol.MaxHigh))
	}
	if c.Medium > pol.MaxMedium {
		reasons = append(reasons, fmt.Sprintf("Medium vulns: %d (max %d)", c.Medium, pol.MaxMedium))
	}
	if c.Secrets > pol.MaxSecrets {
		reasons = append(reasons, fmt.Sprintf("Secrets found: %d (max %d)", c.Secrets, pol.MaxSecrets))
	}
	if c.Injections > pol.MaxInjectionSignals {
		reasons = append(reasons, fmt.Sprintf("Injection signals: %d (max %d)", c.Injections, pol.MaxInjectionSignals))
	}

	switch {
	case len(reasons) > 0:
		return VerdictFail, reasons
	case c.High > 0 || c.Injections > 0:
		return VerdictWarn, reasons
	default:
		return VerdictPass, reasons
	}
}
