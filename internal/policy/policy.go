// ABOUTME: Vetting policy thresholds loaded from a JSON document
// ABOUTME: Falls back to hard-coded safe defaults when the file is absent or unreadable

package policy

import (
	"errors"
	"log/slog"

	"github.com/global-mysterysnailrevolution/harness/internal/store"
)

// VettingPolicy holds the thresholds a vetting run is judged against.
// A single document applies to every proposal.
type VettingPolicy struct {
	MaxCritical          int  `json:"max_critical"`
	MaxHigh              int  `json:"max_high"`
	MaxMedium            int  `json:"max_medium"`
	MaxSecrets           int  `json:"max_secrets"`
	MaxMalware           int  `json:"max_malware"`
	MaxInjectionSignals  int  `json:"max_injection_signals"`
	AutoRejectOnMalware  bool `json:"auto_reject_on_malware"`
	AutoRejectOnCritical bool `json:"auto_reject_on_critical"`

	ScannersEnabled map[string]bool `json:"scanners_enabled"`

	DangerousActionClasses []string `json:"dangerous_action_classes"`
}

// DefaultVettingPolicy returns the safe defaults used when no policy
// document exists.
func DefaultVettingPolicy() *VettingPolicy {
	return &VettingPolicy{
		MaxCritical:          0,
		MaxHigh:              2,
		MaxMedium:            10,
		MaxSecrets:           0,
		MaxMalware:           0,
		MaxInjectionSignals:  1,
		AutoRejectOnMalware:  true,
		AutoRejectOnCritical: true,
		ScannersEnabled: map[string]bool{
			"trivy":            true,
			"gitleaks":         true,
			"clamav":           true,
			"npm_audit":        true,
			"pip_audit":        true,
			"semgrep":          true,
			"prompt_injection": true,
		},
		DangerousActionClasses: []string{"exec", "credential", "network"},
	}
}

// ScannerEnabled reports whether the named scanner should run.
// Scanners missing from the map default to enabled.
func (p *VettingPolicy) ScannerEnabled(name string) bool {
	if p.ScannersEnabled == nil {
		return true
	}
	enabled, ok := p.ScannersEnabled[name]
	if !ok {
		return true
	}
	return enabled
}

// IsDangerousClass reports whether the action class is configured as dangerous.
func (p *VettingPolicy) IsDangerousClass(class string) bool {
	for _, c := range p.DangerousActionClasses {
		if c == class {
			return true
		}
	}
	return false
}

// LoadVettingPolicy reads the policy document at path. An absent or
// malformed document yields the defaults rather than an error: the
// pipeline must stay operable with a missing policy file.
func LoadVettingPolicy(path string, logger *slog.Logger) *VettingPolicy {
	var p VettingPolicy
	if err := store.ReadJSON(path, &p); err != nil {
		if logger != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("unreadable vetting policy, using defaults", "path", path, "error", err)
		}
		return DefaultVettingPolicy()
	}

	// A document may set only some fields. Missing sections inherit defaults.
	def := DefaultVettingPolicy()
	if p.ScannersEnabled == nil {
		p.ScannersEnabled = def.ScannersEnabled
	}
	if p.DangerousActionClasses == nil {
		p.DangerousActionClasses = def.DangerousActionClasses
	}
	return &p
}

// SaveVettingPolicy persists the policy document atomically.
func SaveVettingPolicy(path string, p *VettingPolicy) error {
	return store.WriteJSON(path, p)
}
