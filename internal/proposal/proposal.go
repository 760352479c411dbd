// ABOUTME: Proposal entity for tool-server installation requests
// ABOUTME: IDs are content hashes so duplicate proposals resolve to one record

package proposal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the top-level proposal lifecycle state. Approved and
// rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// VettingStatus tracks the vetting sub-state orthogonally to Status.
type VettingStatus string

const (
	VettingNone    VettingStatus = "none"
	VettingRunning VettingStatus = "running"
	VettingPass    VettingStatus = "pass"
	VettingWarn    VettingStatus = "warn"
	VettingFail    VettingStatus = "fail"
)

// Recognized proposal sources.
const (
	SourceDockerImage = "docker_image"
	SourceGitHubRepo  = "github_repo"
	SourceNpmPackage  = "npm_package"
	SourceOpenAPI     = "openapi"
)

// RejectedByPipeline marks rejections produced by a failing vetting
// run rather than a human reviewer.
const RejectedByPipeline = "vetting_pipeline"

// Proposal is a requested tool-server installation.
type Proposal struct {
	ID              string   `json:"id"`
	ServerName      string   `json:"server_name"`
	Source          string   `json:"source"`
	SourceID        string   `json:"source_id"`
	Version         string   `json:"version,omitempty"`
	Digest          string   `json:"digest,omitempty"`
	Tools           []string `json:"tools"`
	SecretsRequired []string `json:"secrets_required"`

	Status           Status        `json:"status"`
	VettingStatus    VettingStatus `json:"vetting_status"`
	VettingReportRef string        `json:"vetting_report_ref,omitempty"`

	ProposedBy string     `json:"proposed_by"`
	ProposedAt time.Time  `json:"proposed_at"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedBy string     `json:"rejected_by,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`

	RejectionReason  string `json:"rejection_reason,omitempty"`
	RiskAssessment   string `json:"risk_assessment,omitempty"`
	ApprovalOverride bool   `json:"approval_override,omitempty"`
}

// Terminal reports whether the proposal can no longer transition.
func (p *Proposal) Terminal() bool {
	return p.Status == StatusApproved || p.Status == StatusRejected
}

// ComputeID derives the deterministic proposal ID from the identifying
// fields. The same server proposed twice yields the same ID.
func ComputeID(serverName, source, sourceID, version string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", serverName, source, sourceID, version)))
	return hex.EncodeToString(sum[:])[:16]
}
