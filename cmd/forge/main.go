// ABOUTME: CLI for the tool vetting and approval pipeline
// ABOUTME: Subcommands cover vetting, proposals, approvals, reports, and gated calls

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/global-mysterysnailrevolution/harness/internal/allowlist"
	"github.com/global-mysterysnailrevolution/harness/internal/audit"
	"github.com/global-mysterysnailrevolution/harness/internal/config"
	"github.com/global-mysterysnailrevolution/harness/internal/gate"
	"github.com/global-mysterysnailrevolution/harness/internal/policy"
	"github.com/global-mysterysnailrevolution/harness/internal/proposal"
	"github.com/global-mysterysnailrevolution/harness/internal/vetting"
)

const banner = `
  __
 / _| ___  _ __ __ _  ___
| |_ / _ \| '__/ _' |/ _ \
|  _| (_) | | | (_| |  __/
|_|  \___/|_|  \__, |\___|
               |___/
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cmd := args[0]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return 0
	}

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v", err)
		return 1
	}
	logger := newLogger(cfg.Logging)

	a, err := newApp(cfg, logger)
	if err != nil {
		color.Red("Error: %v", err)
		return 1
	}
	defer a.close()

	var code int
	switch cmd {
	case "vet":
		code, err = a.cmdVet(args[1:])
	case "propose":
		err = a.cmdPropose(args[1:])
	case "approve":
		err = a.cmdApprove(args[1:])
	case "reject":
		err = a.cmdReject(args[1:])
	case "pending":
		err = a.cmdPending(args[1:])
	case "report":
		err = a.cmdReport(args[1:])
	case "call":
		code, err = a.cmdCall(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		return 1
	}

	if err != nil {
		color.Red("Error: %v", err)
		return 1
	}
	return code
}

func printUsage() {
	fmt.Print(banner)
	fmt.Println(`Usage: forge <command> [flags]

Commands:
  vet       Run the scanner pipeline against a path or image
  propose   Propose a new tool server installation
  approve   Approve a pending proposal
  reject    Reject a pending proposal
  pending   List pending proposals and approval requests
  report    Show a stored vetting report
  call      Invoke a tool through the runtime policy gate
  help      Show this message

Environment:
  FORGE_CONFIG     Path to a YAML config file
  FORGE_STATE_DIR  State directory when no config file is set (default: forge-state)`)
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("FORGE_CONFIG"); path != "" {
		return config.Load(path)
	}
	dir := os.Getenv("FORGE_STATE_DIR")
	if dir == "" {
		dir = "forge-state"
	}
	return config.Default(dir), nil
}

// app wires the stores and engines shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	auditLog  *audit.Log
	vetPolicy *policy.VettingPolicy
	secPolicy *policy.SecurityPolicy
	allow     *allowlist.Manager
	approvals *allowlist.Approvals
	workflow  *proposal.Workflow
	engine    *vetting.Engine
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	log, err := audit.Open(cfg.State.AuditLog, logger)
	if err != nil {
		return nil, err
	}

	allow, err := allowlist.NewManager(filepath.Join(cfg.State.Dir, "allowlists.json"), logger)
	if err != nil {
		return nil, err
	}
	approvals, err := allowlist.NewApprovals(
		filepath.Join(cfg.State.Dir, "pending_approvals.json"),
		cfg.Gate.ApprovalTTL, allow, logger)
	if err != nil {
		return nil, err
	}

	vetPolicy := policy.LoadVettingPolicy(cfg.Vetting.PolicyPath, logger)
	engine := &vetting.Engine{
		Logger:         logger,
		Concurrency:    cfg.Vetting.Concurrency,
		ScannerTimeout: cfg.Vetting.ScannerTimeout,
		OverallTimeout: cfg.Vetting.OverallTimeout,
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		auditLog:  log,
		vetPolicy: vetPolicy,
		secPolicy: policy.LoadSecurityPolicy(cfg.Gate.PolicyPath, logger),
		allow:     allow,
		approvals: approvals,
		engine:    engine,
		workflow: &proposal.Workflow{
			Dir:    cfg.State.ApprovalsDir,
			Policy: vetPolicy,
			Engine: engine,
			Audit:  log,
			Logger: logger,
		},
	}, nil
}

// newLogger builds the slog logger from config. Logs go to stderr so
// command output on stdout stays clean.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func (a *app) close() {
	_ = a.auditLog.Close()
}

func (a *app) cmdVet(args []string) (int, error) {
	fs := flag.NewFlagSet("vet", flag.ExitOnError)
	source := fs.String("source", "", "Filesystem path or container image")
	proposalID := fs.String("proposal-id", "", "Proposal ID the run belongs to")
	isImage := fs.Bool("image", false, "Target is a container image")
	outputDir := fs.String("output-dir", a.cfg.State.ApprovalsDir, "Artifact output directory")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if *source == "" || *proposalID == "" {
		return 1, errors.New("vet requires --source and --proposal-id")
	}

	report := a.engine.Run(context.Background(), *source, *proposalID, *isImage, a.vetPolicy)
	artifacts, err := report.Save(*outputDir)
	if err != nil {
		return 1, err
	}
	_ = a.auditLog.Append(&audit.Entry{
		Event:  audit.EventVettingVerdict,
		ToolID: *proposalID,
		Detail: map[string]any{
			"target":   *source,
			"verdict":  string(report.Verdict),
			"findings": report.Summary.Total,
		},
	})

	if *asJSON {
		if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
			return 1, err
		}
	} else {
		printVerdict(report.Verdict)
		for _, reason := range report.VerdictReasons {
			fmt.Printf("  - %s\n", reason)
		}
		fmt.Printf("Findings: %d  Report: %s\n", report.Summary.Total, artifacts.Report)
		if artifacts.SBOM != "" {
			fmt.Printf("SBOM: %s\n", artifacts.SBOM)
		}
	}

	if report.Verdict == vetting.VerdictFail {
		return 1, nil
	}
	return 0, nil
}

func (a *app) cmdPropose(args []string) error {
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	name := fs.String("name", "", "Server name")
	source := fs.String("source", "", "Source kind: docker_image | github_repo | npm_package | openapi")
	sourceID := fs.String("source-id", "", "Image name, repo URL, or package name")
	version := fs.String("version", "", "Version or tag")
	digest := fs.String("digest", "", "Content digest, if known")
	tools := fs.String("tools", "", "Comma-separated tool IDs the server provides")
	secrets := fs.String("secrets", "", "Comma-separated secret names the server needs")
	by := fs.String("by", "system", "Proposer identity")
	path := fs.String("path", "", "Local source path; triggers vetting immediately")
	isImage := fs.Bool("image", false, "Vet target is a container image (with --path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := a.workflow.Propose(context.Background(), proposal.ProposeRequest{
		ServerName:      *name,
		Source:          *source,
		SourceID:        *sourceID,
		Version:         *version,
		Digest:          *digest,
		Tools:           splitList(*tools),
		SecretsRequired: splitList(*secrets),
		ProposedBy:      *by,
		SourcePath:      *path,
		IsImage:         *isImage,
	})
	if err != nil {
		return err
	}

	color.Green("Proposal %s created", p.ID)
	fmt.Printf("  Server:  %s (%s %s)\n", p.ServerName, p.Source, p.SourceID)
	fmt.Printf("  Status:  %s  Vetting: %s\n", p.Status, p.VettingStatus)
	if p.Status == proposal.StatusRejected {
		color.Red("  Rejected: %s", p.RejectionReason)
	}
	return nil
}

func (a *app) cmdApprove(args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	id := fs.String("id", "", "Proposal ID")
	by := fs.String("by", "", "Approver identity")
	override := fs.Bool("override-vetting", false, "Approve even without a passing vetting run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *by == "" {
		return errors.New("approve requires --id and --by")
	}

	p, err := a.workflow.Approve(context.Background(), *id, *by, *override)
	if err != nil {
		return err
	}
	color.Green("Proposal %s approved by %s", p.ID, p.ApprovedBy)
	if p.ApprovalOverride {
		color.Yellow("  Vetting override recorded")
	}
	return nil
}

func (a *app) cmdReject(args []string) error {
	fs := flag.NewFlagSet("reject", flag.ExitOnError)
	id := fs.String("id", "", "Proposal ID")
	by := fs.String("by", "", "Rejecter identity")
	reason := fs.String("reason", "", "Rejection reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *by == "" || *reason == "" {
		return errors.New("reject requires --id, --by, and --reason")
	}

	p, err := a.workflow.Reject(context.Background(), *id, *by, *reason)
	if err != nil {
		return err
	}
	color.Yellow("Proposal %s rejected: %s", p.ID, p.RejectionReason)
	return nil
}

func (a *app) cmdPending(args []string) error {
	fs := flag.NewFlagSet("pending", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	proposals, err := a.workflow.ListPending()
	if err != nil {
		return err
	}
	requests, err := a.approvals.Pending()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Println("Pending proposals:")
	if len(proposals) == 0 {
		fmt.Println("  (none)")
	} else {
		fmt.Fprintln(w, "  ID\tSERVER\tSOURCE\tVETTING\tPROPOSED BY")
		for _, p := range proposals {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
				p.ID, p.ServerName, p.Source, p.VettingStatus, p.ProposedBy)
		}
		w.Flush()
	}

	fmt.Println("\nPending approval requests:")
	if len(requests) == 0 {
		fmt.Println("  (none)")
	} else {
		fmt.Fprintln(w, "  ID\tAGENT\tTOOL\tEXPIRES")
		for _, r := range requests {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
				r.ID, r.AgentID, r.ToolID, r.ExpiresAt.Format("15:04:05"))
		}
		w.Flush()
	}
	return nil
}

func (a *app) cmdReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	proposalID := fs.String("proposal-id", "", "Proposal ID")
	asHTML := fs.Bool("html", false, "Render the report as HTML")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *proposalID == "" {
		return errors.New("report requires --proposal-id")
	}

	report, err := vetting.LoadReport(a.cfg.State.ApprovalsDir, *proposalID)
	if err != nil {
		return fmt.Errorf("no vetting report for proposal %s: %w", *proposalID, err)
	}

	md := report.ToMarkdown()
	if !*asHTML {
		fmt.Print(md)
		return nil
	}

	renderer := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(md), &buf); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	htmlPath := filepath.Join(a.cfg.State.ApprovalsDir, *proposalID+"_VETTING.html")
	if err := os.WriteFile(htmlPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing html report: %w", err)
	}
	fmt.Println(htmlPath)
	return nil
}

func (a *app) cmdCall(args []string) (int, error) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	toolID := fs.String("tool-id", "", "Tool to invoke")
	agentID := fs.String("agent-id", "", "Calling agent")
	rawArgs := fs.String("args", "{}", "Tool arguments as JSON")
	tokens := fs.Int64("tokens", 0, "Projected token cost")
	cost := fs.Float64("cost", 0, "Projected dollar cost")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if *toolID == "" || *agentID == "" {
		return 1, errors.New("call requires --tool-id and --agent-id")
	}

	var callArgs map[string]any
	if err := json.Unmarshal([]byte(*rawArgs), &callArgs); err != nil {
		return 1, fmt.Errorf("parsing --args: %w", err)
	}

	g := &gate.Gate{
		Allowlist: a.allow,
		Approvals: a.approvals,
		Policy:    a.secPolicy,
		Vetting:   a.vetPolicy,
		Limiter:   gate.NewRateLimiter(filepath.Join(a.cfg.State.Dir, "call_history.json")),
		Budget:    gate.NewBudgetTracker(filepath.Join(a.cfg.State.Dir, "usage.json")),
		Validator: &gate.Validator{Policy: a.secPolicy, WorkspaceRoot: a.cfg.Gate.WorkspaceRoot},
		Transport: echoTransport{},
		Audit:     a.auditLog,
	}

	res, err := g.Call(context.Background(), *agentID, *toolID, callArgs,
		gate.Cost{Tokens: *tokens, CostUSD: *cost})
	if err != nil {
		var denial *gate.Denial
		if errors.As(err, &denial) {
			color.Red("Blocked: %s", denial.Reason)
			if denial.ApprovalRequestID != "" {
				fmt.Printf("Approval request: %s\n", denial.ApprovalRequestID)
			}
			return 1, nil
		}
		return 1, err
	}

	color.Green("Allowed (%s)", res.ActionClass)
	out, err := json.MarshalIndent(res.Payload, "", "  ")
	if err != nil {
		return 1, err
	}
	fmt.Println(string(out))
	return 0, nil
}

// echoTransport stands in for the external execution transport: it
// reflects the call back instead of dispatching it.
type echoTransport struct{}

func (echoTransport) Call(ctx context.Context, toolID string, args map[string]any) (map[string]any, error) {
	return map[string]any{"tool_id": toolID, "echo": args}, nil
}

func printVerdict(v vetting.Verdict) {
	switch v {
	case vetting.VerdictPass:
		color.Green("Verdict: PASS")
	case vetting.VerdictWarn:
		color.Yellow("Verdict: WARN")
	case vetting.VerdictFail:
		color.Red("Verdict: FAIL")
	default:
		fmt.Printf("Verdict: %s\n", v)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
