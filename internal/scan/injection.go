// ABOUTME: Prompt injection scanner over documentation and source files
// ABOUTME: Uses a pluggable classifier when configured, regex heuristics otherwise

package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// maxDocFileSize skips files too large to plausibly be docs.
	maxDocFileSize = 500_000
	// maxDocFiles caps how many files one run inspects.
	maxDocFiles = 200
	// classifierChunkSize bounds the text handed to the classifier.
	classifierChunkSize = 4000
	// classifierChunkStride overlaps chunks so matches at boundaries survive.
	classifierChunkStride = 3500
)

// docExtensions are file suffixes worth scanning for injection content.
var docExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true,
}

// sourceExtensions are executable files whose embedded strings can
// carry injection payloads.
var sourceExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".mjs": true, ".cjs": true,
}

// docStems are extension-less names treated as documentation.
var docStems = map[string]bool{
	"readme": true, "description": true, "instructions": true,
	"help": true, "about": true, "config": true,
}

// injectionPatterns are the heuristic fallback used when no classifier
// is configured.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?prior\s+(instructions?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)(send|exfiltrate|transmit|post)\s+.*(secret|token|key|password|credential)`),
	regexp.MustCompile(`(?is)<!--.*?(ignore|override|system|instruction).*?-->`),
	regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{2060}\x{FEFF}]{3,}`),
}

// Classifier scores a chunk of text for prompt injection. A flagged
// chunk produces one finding with the given risk score.
type Classifier func(ctx context.Context, text string) (flagged bool, score float64, err error)

// PromptInjection scans doc and source files under a target for LLM
// manipulation content. It is always available: the regex heuristics
// need no external binary.
type PromptInjection struct {
	// Classifier is optional; nil selects the regex fallback.
	Classifier Classifier
}

func (p *PromptInjection) Name() string { return "prompt_injection" }

func (p *PromptInjection) Probe(string) bool { return true }

func (p *PromptInjection) Run(ctx context.Context, target string) ScanResult {
	res := ScanResult{Scanner: p.Name(), Available: true}
	if p.Classifier != nil {
		res.RawOutput = "backend: classifier"
	} else {
		res.RawOutput = "backend: regex heuristics"
	}

	elapsed := startClock()
	defer func() { res.DurationMS = elapsed() }()

	files, err := collectDocFiles(target)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	for _, path := range files {
		if ctx.Err() != nil {
			res.Error = "timeout"
			return res
		}

		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		rel := path
		if r, err := filepath.Rel(target, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}

		if p.Classifier != nil {
			p.classifyFile(ctx, &res, rel, string(content))
		} else {
			scanHeuristics(&res, rel, string(content))
		}
	}
	return res
}

// classifyFile runs the classifier over size-bounded chunks of one file.
func (p *PromptInjection) classifyFile(ctx context.Context, res *ScanResult, rel, content string) {
	chunks := chunkText(content)
	for i, chunk := range chunks {
		flagged, score, err := p.Classifier(ctx, chunk)
		if err != nil {
			// Classifier failure falls back to heuristics for this file.
			scanHeuristics(res, rel, content)
			return
		}
		if !flagged {
			continue
		}
		offset := i * classifierChunkStride
		line := 1
		if offset > 0 && offset <= len(content) {
			line = strings.Count(content[:offset], "\n") + 1
		}
		snippet := strings.ReplaceAll(capOutput(chunk, 120), "\n", " ")
		res.AddFinding(SeverityHigh,
			fmt.Sprintf("Prompt injection detected (score: %.2f)", score),
			"..."+snippet+"...",
			fmt.Sprintf("%s:%d", rel, line))
	}
}

// scanHeuristics applies the fallback regex patterns to one file.
func scanHeuristics(res *ScanResult, rel, content string) {
	for _, pattern := range injectionPatterns {
		for _, loc := range pattern.FindAllStringIndex(content, -1) {
			line := strings.Count(content[:loc[0]], "\n") + 1
			start := loc[0] - 40
			if start < 0 {
				start = 0
			}
			end := loc[1] + 40
			if end > len(content) {
				end = len(content)
			}
			snippet := strings.ReplaceAll(content[start:end], "\n", " ")
			res.AddFinding(SeverityHigh,
				"Prompt injection signal: "+capOutput(pattern.String(), 60),
				"..."+snippet+"...",
				fmt.Sprintf("%s:%d", rel, line))
		}
	}
}

// chunkText splits content into classifier-sized overlapping chunks.
func chunkText(content string) []string {
	if len(content) < classifierChunkSize {
		return []string{content}
	}
	var chunks []string
	for i := 0; i < len(content); i += classifierChunkStride {
		end := i + classifierChunkSize
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[i:end])
	}
	return chunks
}

// collectDocFiles enumerates scannable files under target, size- and
// count-capped. A file target is scanned as-is.
func collectDocFiles(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat target: %w", err)
	}
	if !info.IsDir() {
		return []string{target}, nil
	}

	var files []string
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if len(files) >= maxDocFiles {
			return filepath.SkipAll
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > maxDocFileSize {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if docExtensions[ext] || sourceExtensions[ext] || docStems[stem] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking target: %w", err)
	}
	return files, nil
}
