// ABOUTME: Configuration loading and parsing for the tool broker harness
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete harness configuration.
type Config struct {
	State   StateConfig   `yaml:"state"`
	Vetting VettingConfig `yaml:"vetting"`
	Gate    GateConfig    `yaml:"gate"`
	Logging LoggingConfig `yaml:"logging"`
}

// StateConfig holds the on-disk layout. Every store lives under Dir.
type StateConfig struct {
	Dir          string `yaml:"dir"`
	ApprovalsDir string `yaml:"approvals_dir"` // default: <dir>/forge_approvals
	AuditLog     string `yaml:"audit_log"`     // default: <dir>/audit.jsonl
}

// VettingConfig holds vetting engine tuning.
type VettingConfig struct {
	PolicyPath  string `yaml:"policy_path"` // default: <state.dir>/vetting_policy.json
	Concurrency int    `yaml:"concurrency"` // 0 = min(GOMAXPROCS, 4)

	ScannerTimeout time.Duration `yaml:"-"`
	OverallTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ScannerTimeoutRaw string `yaml:"scanner_timeout"`
	OverallTimeoutRaw string `yaml:"overall_timeout"`
}

// GateConfig holds runtime call policy settings.
type GateConfig struct {
	PolicyPath    string `yaml:"policy_path"` // default: <state.dir>/security_policy.json
	WorkspaceRoot string `yaml:"workspace_root"`

	ApprovalTTL time.Duration `yaml:"-"`

	ApprovalTTLRaw string `yaml:"approval_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config rooted at dir with every tunable at its
// safe default. Used when no config file exists.
func Default(dir string) *Config {
	cfg := &Config{}
	cfg.State.Dir = dir
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	if c.Vetting.Concurrency < 0 {
		return fmt.Errorf("vetting.concurrency must not be negative")
	}
	return nil
}

// applyDefaults fills derived paths and zero-value tunables.
func (c *Config) applyDefaults() {
	if c.State.ApprovalsDir == "" {
		c.State.ApprovalsDir = filepath.Join(c.State.Dir, "forge_approvals")
	}
	if c.State.AuditLog == "" {
		c.State.AuditLog = filepath.Join(c.State.Dir, "audit.jsonl")
	}
	if c.Vetting.PolicyPath == "" {
		c.Vetting.PolicyPath = filepath.Join(c.State.Dir, "vetting_policy.json")
	}
	if c.Gate.PolicyPath == "" {
		c.Gate.PolicyPath = filepath.Join(c.State.Dir, "security_policy.json")
	}
	if c.Gate.WorkspaceRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Gate.WorkspaceRoot = wd
		}
	}
	if c.Vetting.ScannerTimeout == 0 {
		c.Vetting.ScannerTimeout = 2 * time.Minute
	}
	if c.Vetting.OverallTimeout == 0 {
		c.Vetting.OverallTimeout = 15 * time.Minute
	}
	if c.Gate.ApprovalTTL == 0 {
		c.Gate.ApprovalTTL = 30 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Vetting.ScannerTimeoutRaw != "" {
		cfg.Vetting.ScannerTimeout, err = time.ParseDuration(cfg.Vetting.ScannerTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing scanner_timeout %q: %w", cfg.Vetting.ScannerTimeoutRaw, err)
		}
	}

	if cfg.Vetting.OverallTimeoutRaw != "" {
		cfg.Vetting.OverallTimeout, err = time.ParseDuration(cfg.Vetting.OverallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing overall_timeout %q: %w", cfg.Vetting.OverallTimeoutRaw, err)
		}
	}

	if cfg.Gate.ApprovalTTLRaw != "" {
		cfg.Gate.ApprovalTTL, err = time.ParseDuration(cfg.Gate.ApprovalTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing approval_ttl %q: %w", cfg.Gate.ApprovalTTLRaw, err)
		}
	}

	return nil
}
