// ABOUTME: Proposal workflow: propose, vet, approve, reject with one-way transitions
// ABOUTME: A failing vetting run auto-rejects the proposal without human action

package proposal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/global-mysterysnailrevolution/harness/internal/audit"
	"github.com/global-mysterysnailrevolution/harness/internal/policy"
	"github.com/global-mysterysnailrevolution/harness/internal/store"
	"github.com/global-mysterysnailrevolution/harness/internal/vetting"
)

var (
	// ErrNotFound is returned when no proposal exists under an ID.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidState is returned for transitions out of a terminal or
	// wrong state.
	ErrInvalidState = errors.New("proposal is not pending")
	// ErrVettingRequired blocks approval of a proposal that was never
	// vetted, unless the caller overrides.
	ErrVettingRequired = errors.New("vetting has not been run")
	// ErrVettingFailed blocks approval after a failing vetting run,
	// unless the caller overrides.
	ErrVettingFailed = errors.New("vetting failed")
)

// Vetter runs the scanner pipeline. *vetting.Engine satisfies this;
// tests substitute fakes.
type Vetter interface {
	Run(ctx context.Context, target, proposalID string, isImage bool, pol *policy.VettingPolicy) *vetting.Report
}

// Workflow manages proposal records under one directory, invoking the
// vetting engine and recording every transition in the audit log.
type Workflow struct {
	Dir    string
	Policy *policy.VettingPolicy
	Engine Vetter
	Audit  *audit.Log
	Logger *slog.Logger
}

// ProposeRequest carries the fields of a new proposal.
type ProposeRequest struct {
	ServerName      string
	Source          string
	SourceID        string
	Version         string
	Digest          string
	Tools           []string
	SecretsRequired []string
	ProposedBy      string

	// SourcePath, when set, triggers vetting immediately after the
	// proposal is created.
	SourcePath string
	IsImage    bool
}

// Propose creates a proposal record. Re-proposing an identical server
// returns the existing record instead of resetting its state.
func (w *Workflow) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	if req.ServerName == "" || req.Source == "" || req.SourceID == "" {
		return nil, fmt.Errorf("server_name, source, and source_id are required")
	}

	id := ComputeID(req.ServerName, req.Source, req.SourceID, req.Version)
	if existing, err := w.Get(id); err == nil {
		w.logf("proposal already exists", "proposal_id", id, "status", existing.Status)
		return existing, nil
	}

	proposedBy := req.ProposedBy
	if proposedBy == "" {
		proposedBy = "system"
	}
	p := &Proposal{
		ID:              id,
		ServerName:      req.ServerName,
		Source:          req.Source,
		SourceID:        req.SourceID,
		Version:         req.Version,
		Digest:          req.Digest,
		Tools:           req.Tools,
		SecretsRequired: req.SecretsRequired,
		Status:          StatusPending,
		VettingStatus:   VettingNone,
		ProposedBy:      proposedBy,
		ProposedAt:      time.Now().UTC(),
	}
	if p.Tools == nil {
		p.Tools = []string{}
	}
	if p.SecretsRequired == nil {
		p.SecretsRequired = []string{}
	}

	if err := w.save(p); err != nil {
		return nil, err
	}
	w.audit(&audit.Entry{
		Event:  audit.EventProposalCreated,
		ToolID: p.ServerName,
		Detail: map[string]any{
			"proposal_id": p.ID,
			"source":      p.Source,
			"source_id":   p.SourceID,
			"proposed_by": p.ProposedBy,
		},
	})
	w.logf("proposal created", "proposal_id", p.ID, "server", p.ServerName, "source", p.Source)

	if req.SourcePath != "" {
		return w.Vet(ctx, p.ID, req.SourcePath, req.IsImage)
	}
	return p, nil
}

// Vet runs the vetting engine against target and records the verdict.
// A fail verdict rejects the proposal immediately.
func (w *Workflow) Vet(ctx context.Context, id, target string, isImage bool) (*Proposal, error) {
	p, err := w.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("proposal %s is %s: %w", id, p.Status, ErrInvalidState)
	}

	p.VettingStatus = VettingRunning
	if err := w.save(p); err != nil {
		return nil, err
	}
	w.audit(&audit.Entry{
		Event:  audit.EventVettingStarted,
		ToolID: p.ServerName,
		Detail: map[string]any{"proposal_id": p.ID, "target": target, "is_image": isImage},
	})

	report := w.Engine.Run(ctx, target, p.ID, isImage, w.Policy)
	artifacts, err := report.Save(w.Dir)
	if err != nil {
		return nil, fmt.Errorf("persisting vetting report: %w", err)
	}
	p.VettingReportRef = filepath.Base(artifacts.Findings)

	switch report.Verdict {
	case vetting.VerdictPass:
		p.VettingStatus = VettingPass
	case vetting.VerdictWarn:
		p.VettingStatus = VettingWarn
	case vetting.VerdictFail:
		p.VettingStatus = VettingFail
	}

	w.audit(&audit.Entry{
		Event:  audit.EventVettingVerdict,
		ToolID: p.ServerName,
		Detail: map[string]any{
			"proposal_id": p.ID,
			"verdict":     string(report.Verdict),
			"reasons":     report.VerdictReasons,
			"findings":    report.Summary.Total,
		},
	})

	if report.Verdict == vetting.VerdictFail {
		now := time.Now().UTC()
		p.Status = StatusRejected
		p.RejectedBy = RejectedByPipeline
		p.RejectedAt = &now
		p.RejectionReason = strings.Join(report.VerdictReasons, "; ")
		w.audit(&audit.Entry{
			Event:  audit.EventProposalRejected,
			ToolID: p.ServerName,
			Detail: map[string]any{
				"proposal_id": p.ID,
				"rejected_by": RejectedByPipeline,
				"reason":      p.RejectionReason,
			},
		})
		w.logf("proposal auto-rejected by vetting", "proposal_id", p.ID, "reasons", p.RejectionReason)
	}

	if err := w.save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Approve transitions a pending proposal to approved. Approval demands
// a vetting verdict unless overrideVetting is set; the override is
// recorded on the proposal.
func (w *Workflow) Approve(ctx context.Context, id, approvedBy string, overrideVetting bool) (*Proposal, error) {
	p, err := w.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("proposal %s is %s: %w", id, p.Status, ErrInvalidState)
	}

	if !overrideVetting {
		switch p.VettingStatus {
		case VettingNone, VettingRunning:
			return nil, fmt.Errorf("proposal %s: %w", id, ErrVettingRequired)
		case VettingFail:
			return nil, fmt.Errorf("proposal %s: %w", id, ErrVettingFailed)
		}
	}

	now := time.Now().UTC()
	p.Status = StatusApproved
	p.ApprovedBy = approvedBy
	p.ApprovedAt = &now
	p.ApprovalOverride = overrideVetting
	if overrideVetting && p.RiskAssessment == "" {
		p.RiskAssessment = fmt.Sprintf("approved by %s with vetting override (vetting_status=%s)", approvedBy, p.VettingStatus)
	}
	if err := w.save(p); err != nil {
		return nil, err
	}

	w.audit(&audit.Entry{
		Event:  audit.EventProposalApproved,
		ToolID: p.ServerName,
		Detail: map[string]any{
			"proposal_id": p.ID,
			"approved_by": approvedBy,
			"override":    overrideVetting,
		},
	})
	w.logf("proposal approved", "proposal_id", p.ID, "approved_by", approvedBy, "override", overrideVetting)
	return p, nil
}

// Reject transitions a pending proposal to rejected with a reason.
func (w *Workflow) Reject(ctx context.Context, id, rejectedBy, reason string) (*Proposal, error) {
	p, err := w.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("proposal %s is %s: %w", id, p.Status, ErrInvalidState)
	}

	now := time.Now().UTC()
	p.Status = StatusRejected
	p.RejectedBy = rejectedBy
	p.RejectedAt = &now
	p.RejectionReason = reason
	if err := w.save(p); err != nil {
		return nil, err
	}

	w.audit(&audit.Entry{
		Event:  audit.EventProposalRejected,
		ToolID: p.ServerName,
		Detail: map[string]any{
			"proposal_id": p.ID,
			"rejected_by": rejectedBy,
			"reason":      reason,
		},
	})
	w.logf("proposal rejected", "proposal_id", p.ID, "rejected_by", rejectedBy)
	return p, nil
}

// Get loads one proposal by ID.
func (w *Workflow) Get(id string) (*Proposal, error) {
	var p Proposal
	if err := store.ReadJSON(w.path(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPending returns all pending proposals sorted by proposal time.
func (w *Workflow) ListPending() ([]*Proposal, error) {
	all, err := w.list()
	if err != nil {
		return nil, err
	}
	var pending []*Proposal
	for _, p := range all {
		if p.Status == StatusPending {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ProposedAt.Before(pending[j].ProposedAt)
	})
	return pending, nil
}

// IsApproved reports whether a matching approved proposal exists.
// An empty version matches any approved version.
func (w *Workflow) IsApproved(serverName, source, sourceID, version string) (bool, error) {
	all, err := w.list()
	if err != nil {
		return false, err
	}
	for _, p := range all {
		if p.Status == StatusApproved &&
			p.ServerName == serverName &&
			p.Source == source &&
			p.SourceID == sourceID &&
			(version == "" || p.Version == version) {
			return true, nil
		}
	}
	return false, nil
}

func (w *Workflow) list() ([]*Proposal, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading proposal dir: %w", err)
	}

	var out []*Proposal
	for _, entry := range entries {
		name := entry.Name()
		// Artifact files share the directory; proposal records are
		// bare {id}.json with no underscore suffix.
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.Contains(name, "_") {
			continue
		}
		var p Proposal
		if err := store.ReadJSON(filepath.Join(w.Dir, name), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (w *Workflow) save(p *Proposal) error {
	return store.WriteJSON(w.path(p.ID), p)
}

func (w *Workflow) path(id string) string {
	return filepath.Join(w.Dir, id+".json")
}

func (w *Workflow) audit(e *audit.Entry) {
	if w.Audit == nil {
		return
	}
	if err := w.Audit.Append(e); err != nil && w.Logger != nil {
		w.Logger.Warn("audit append failed", "event", e.Event, "error", err)
	}
}

func (w *Workflow) logf(msg string, args ...any) {
	if w.Logger != nil {
		w.Logger.Info(msg, args...)
	}
}
