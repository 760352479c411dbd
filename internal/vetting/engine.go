// ABOUTME: Vetting engine: fans enabled scanners out over a bounded worker pool
// ABOUTME: Result order is fixed per scanner so reports are reproducible

package vetting

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/global-mysterysnailrevolution/harness/internal/policy"
	"github.com/global-mysterysnailrevolution/harness/internal/scan"
)

// Engine orchestrates scanner adapters over one target and derives a
// verdict from the aggregate findings.
type Engine struct {
	Logger *slog.Logger

	// Concurrency bounds the worker pool; 0 means min(GOMAXPROCS, 4).
	Concurrency int
	// ScannerTimeout bounds each adapter; zero keeps adapter defaults.
	ScannerTimeout time.Duration
	// OverallTimeout is the wall-clock budget for the whole run.
	OverallTimeout time.Duration

	// Classifier, when set, backs the prompt injection adapter.
	Classifier scan.Classifier

	// Adapters overrides the default scanner set. Tests use this; the
	// zero value selects the standard adapters for the target kind.
	Adapters []scan.Adapter
}

// Run vets a filesystem path or container image on behalf of a proposal.
// Scanners run concurrently but their results are appended in the fixed
// scanner order regardless of completion order.
func (e *Engine) Run(ctx context.Context, target, proposalID string, isImage bool, pol *policy.VettingPolicy) *Report {
	report := &Report{
		ProposalID: proposalID,
		Target:     target,
		StartedAt:  time.Now().UTC(),
		Verdict:    VerdictPending,
	}

	adapters := e.Adapters
	if adapters == nil {
		adapters = e.buildAdapters(pol, isImage)
	}

	runCtx := ctx
	if e.OverallTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.OverallTimeout)
		defer cancel()
	}

	results := make([]scan.ScanResult, len(adapters))
	g := new(errgroup.Group)
	g.SetLimit(e.poolSize())

	for i, adapter := range adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			if e.Logger != nil {
				e.Logger.Debug("running scanner", "scanner", adapter.Name(), "target", target)
			}
			res := adapter.Run(runCtx, target)
			// A scanner cancelled by the outer deadline is recorded as
			// timed out, never silently dropped.
			if runCtx.Err() != nil && res.Error == "" {
				res.Error = "timeout"
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	for _, adapter := range adapters {
		if gen, ok := adapter.(*scan.TrivySBOM); ok {
			report.SBOM = gen.SBOM()
		}
	}

	report.Verdict, report.VerdictReasons = Evaluate(results, pol)
	report.Summary = CountFindings(results)
	report.FinishedAt = time.Now().UTC()

	if e.Logger != nil {
		e.Logger.Info("vetting run finished",
			"proposal_id", proposalID,
			"target", target,
			"verdict", report.Verdict,
			"findings", report.Summary.Total,
		)
	}
	return report
}

// buildAdapters assembles the enabled scanners in their fixed order.
// Image targets only run image-capable scanners.
func (e *Engine) buildAdapters(pol *policy.VettingPolicy, isImage bool) []scan.Adapter {
	var adapters []scan.Adapter

	if pol.ScannerEnabled("trivy") {
		adapters = append(adapters, &scan.Trivy{Image: isImage, Timeout: e.ScannerTimeout})
	}
	if isImage {
		return adapters
	}

	if pol.ScannerEnabled("trivy") {
		adapters = append(adapters, &scan.TrivySBOM{Timeout: e.ScannerTimeout})
	}
	if pol.ScannerEnabled("gitleaks") {
		adapters = append(adapters, &scan.Gitleaks{Timeout: e.ScannerTimeout})
	}
	if pol.ScannerEnabled("clamav") {
		adapters = append(adapters, &scan.ClamAV{Timeout: e.ScannerTimeout})
	}
	if pol.ScannerEnabled("npm_audit") {
		adapters = append(adapters, &scan.NpmAudit{Timeout: e.ScannerTimeout})
	}
	if pol.ScannerEnabled("pip_audit") {
		adapters = append(adapters, &scan.PipAudit{Timeout: e.ScannerTimeout})
	}
	if pol.ScannerEnabled("semgrep") {
		adapters = append(adapters, &scan.Semgrep{Timeout: e.ScannerTimeout})
	}
	if pol.ScannerEnabled("prompt_injection") {
		adapters = append(adapters, &scan.PromptInjection{Classifier: e.Classifier})
	}
	return adapters
}

// poolSize returns the configured concurrency, defaulting to
// min(GOMAXPROCS, 4) to avoid resource exhaustion.
func (e *Engine) poolSize() int {
	if e.Concurrency > 0 {
		return e.Concurrency
	}
	n := runtime.GOMAXPROCS(0)
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}
