// ABOUTME: SBOM generation via Trivy's CycloneDX output
// ABOUTME: Produces no findings; the document is persisted alongside the report

package scan

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// TrivySBOM generates a CycloneDX software bill of materials for a
// filesystem target. It contributes no findings to the verdict.
type TrivySBOM struct {
	Timeout time.Duration

	mu   sync.Mutex
	sbom json.RawMessage
}

func (t *TrivySBOM) Name() string { return "trivy_sbom" }

func (t *TrivySBOM) Probe(string) bool { return binaryExists("trivy") }

func (t *TrivySBOM) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: t.Name(), Available: t.Probe(target)}
	if !res.Available {
		return res
	}

	elapsed := startClock()
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	stdout, stderr, _, err := runCommand(ctx, timeout, "",
		"trivy", "fs", "--format", "cyclonedx", target)
	res.DurationMS = elapsed()
	if err != nil {
		res.Error = errString(err, stderr)
		return res
	}

	if !json.Valid([]byte(stdout)) {
		res.Error = "failed to parse SBOM"
		return res
	}

	t.mu.Lock()
	t.sbom = json.RawMessage(stdout)
	t.mu.Unlock()
	return res
}

// SBOM returns the generated document, or nil if generation failed.
func (t *TrivySBOM) SBOM() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sbom
}
