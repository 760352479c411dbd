// ABOUTME: VettingReport aggregation, Markdown rendering, and artifact persistence
// ABOUTME: Each run writes a findings JSON, a human-readable summary, and an optional SBOM

package vetting

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/global-mysterysnailrevolution/harness/internal/scan"
	"github.com/global-mysterysnailrevolution/harness/internal/store"
)

// maxFindingRows caps how many findings one scanner's table renders.
const maxFindingRows = 50

// Report aggregates every scanner's result for one target.
// Immutable once FinishedAt is set; the verdict is derived, never set
// directly.
type Report struct {
	ProposalID     string            `json:"proposal_id"`
	Target         string            `json:"target"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	Verdict        Verdict           `json:"verdict"`
	VerdictReasons []string          `json:"verdict_reasons"`
	Summary        FindingCounts     `json:"summary"`
	Results        []scan.ScanResult `json:"scanners"`
	SBOM           json.RawMessage   `json:"-"`
}

// Artifacts holds the paths written by Save.
type Artifacts struct {
	Findings string
	Report   string
	SBOM     string
}

// ToMarkdown renders the human-readable vetting summary.
func (r *Report) ToMarkdown() string {
	badge := map[Verdict]string{
		VerdictPass: "[PASS]",
		VerdictWarn: "[WARN]",
		VerdictFail: "[FAIL]",
	}[r.Verdict]
	if badge == "" {
		badge = "[???]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Tool Vetting Report %s\n\n", badge)
	fmt.Fprintf(&b, "**Proposal:** `%s`\n", r.ProposalID)
	fmt.Fprintf(&b, "**Target:** `%s`\n", r.Target)
	fmt.Fprintf(&b, "**Date:** %s\n", r.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Verdict:** %s\n\n", strings.ToUpper(string(r.Verdict)))

	if len(r.VerdictReasons) > 0 {
		b.WriteString("## Rejection Reasons\n\n")
		for _, reason := range r.VerdictReasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Severity | Count |\n")
	b.WriteString("|----------|-------|\n")
	fmt.Fprintf(&b, "| Critical | %d |\n", r.Summary.Critical)
	fmt.Fprintf(&b, "| High | %d |\n", r.Summary.High)
	fmt.Fprintf(&b, "| Medium | %d |\n", r.Summary.Medium)
	fmt.Fprintf(&b, "| Low | %d |\n", r.Summary.Low)
	fmt.Fprintf(&b, "| **Total** | **%d** |\n\n", r.Summary.Total)

	for _, sr := range r.Results {
		status := "available"
		if !sr.Available {
			status = "not installed"
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n", sr.Scanner, status)

		if !sr.Available {
			b.WriteString("*Scanner not installed - skipped*\n\n")
			continue
		}
		if sr.Error != "" {
			fmt.Fprintf(&b, "**Error:** %s\n\n", sr.Error)
		}
		fmt.Fprintf(&b, "Findings: %d | Duration: %dms\n\n", len(sr.Findings), sr.DurationMS)

		if len(sr.Findings) == 0 {
			continue
		}
		b.WriteString("| Severity | Title | Location |\n")
		b.WriteString("|----------|-------|----------|\n")
		shown := sr.Findings
		if len(shown) > maxFindingRows {
			shown = shown[:maxFindingRows]
		}
		for _, f := range shown {
			fmt.Fprintf(&b, "| %s | %s | %s |\n",
				f.Severity, truncate(f.Title, 80), truncate(f.Location, 60))
		}
		if extra := len(sr.Findings) - maxFindingRows; extra > 0 {
			fmt.Fprintf(&b, "| ... | *%d more* | ... |\n", extra)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Save writes the report artifacts into dir, keyed by proposal ID.
func (r *Report) Save(dir string) (Artifacts, error) {
	var a Artifacts

	a.Findings = filepath.Join(dir, r.ProposalID+"_FINDINGS.json")
	if err := store.WriteJSON(a.Findings, r); err != nil {
		return a, fmt.Errorf("saving findings: %w", err)
	}

	a.Report = filepath.Join(dir, r.ProposalID+"_VETTING.md")
	if err := store.WriteFileAtomic(a.Report, []byte(r.ToMarkdown())); err != nil {
		return a, fmt.Errorf("saving report: %w", err)
	}

	if len(r.SBOM) > 0 {
		a.SBOM = filepath.Join(dir, r.ProposalID+"_SBOM.json")
		if err := store.WriteFileAtomic(a.SBOM, r.SBOM); err != nil {
			return a, fmt.Errorf("saving sbom: %w", err)
		}
	}

	return a, nil
}

// LoadReport reads a persisted findings document back.
func LoadReport(dir, proposalID string) (*Report, error) {
	var r Report
	if err := store.ReadJSON(filepath.Join(dir, proposalID+"_FINDINGS.json"), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
