// Package config loads the deployer's environment ladder and policy
// configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slipway-sh/deployer/internal/model"
)

// LockPolicy decides what happens when a promotion request arrives while the
// (application, environment) lock is held.
type LockPolicy string

const (
	// LockPolicyReject fails the incoming request immediately.
	LockPolicyReject LockPolicy = "reject"
	// LockPolicyAbortRestart aborts the in-flight ramp and restarts with the
	// incoming request.
	LockPolicyAbortRestart LockPolicy = "abort-and-restart"
)

// RuleType is the kind of ref matcher evaluated by the resolver.
type RuleType string

const (
	RuleExact  RuleType = "exact"
	RulePrefix RuleType = "prefix"
	RuleGlob   RuleType = "glob"
	RuleTag    RuleType = "tag"
)

// Duration wraps time.Duration with YAML unmarshalling from strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MatchRule is one ordered ref-matching rule for an environment.
type MatchRule struct {
	Type    RuleType `yaml:"type"`
	Value   string   `yaml:"value,omitempty"`
	Pattern string   `yaml:"pattern,omitempty"`
}

// CanaryConfig holds per-environment traffic ramp parameters.
type CanaryConfig struct {
	InitialWeight    int      `yaml:"initialWeight"`
	StepSize         int      `yaml:"stepSize"`
	StepInterval     Duration `yaml:"stepInterval"`
	FailureThreshold int      `yaml:"failureThreshold"`
}

// ApproverConfig is the two-tier authorization source for a protected
// environment: an explicit allow-list and an identity-provider group.
type ApproverConfig struct {
	Allow []string `yaml:"allow,omitempty"`
	Group string   `yaml:"group,omitempty"`
}

// Environment is one rung of the deployment ladder.
type Environment struct {
	Name              string               `yaml:"name"`
	Rules             []MatchRule          `yaml:"rules"`
	Cluster           model.ClusterBinding `yaml:"cluster"`
	Protected         bool                 `yaml:"protected"`
	RequiredApprovals int                  `yaml:"requiredApprovals"`
	ApprovalTimeout   Duration             `yaml:"approvalTimeout"`
	Approvers         ApproverConfig       `yaml:"approvers"`
	Canary            CanaryConfig         `yaml:"canary"`
}

// ScannerConfig enables one external quality scanner and bounds its findings.
type ScannerConfig struct {
	Name       string                 `yaml:"name"`
	Enabled    bool                   `yaml:"enabled"`
	Thresholds map[model.Severity]int `yaml:"thresholds,omitempty"`
}

// Config is the full deployer configuration for one application.
type Config struct {
	Application  string          `yaml:"application"`
	Environments []Environment   `yaml:"environments"`
	Scanners     []ScannerConfig `yaml:"scanners"`
	GraceWindow  Duration        `yaml:"graceWindow"`
	LockPolicy   LockPolicy      `yaml:"lockPolicy"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LockPolicy == "" {
		c.LockPolicy = LockPolicyAbortRestart
	}
	if c.GraceWindow.Duration == 0 {
		c.GraceWindow.Duration = 15 * time.Minute
	}
	for i := range c.Environments {
		env := &c.Environments[i]
		if env.Canary.InitialWeight == 0 {
			env.Canary.InitialWeight = 10
		}
		if env.Canary.StepSize == 0 {
			env.Canary.StepSize = 10
		}
		if env.Canary.StepInterval.Duration == 0 {
			env.Canary.StepInterval.Duration = 30 * time.Second
		}
		if env.Canary.FailureThreshold == 0 {
			env.Canary.FailureThreshold = 3
		}
		if env.Protected && env.RequiredApprovals == 0 {
			env.RequiredApprovals = 1
		}
		if env.Protected && env.ApprovalTimeout.Duration == 0 {
			env.ApprovalTimeout.Duration = 4 * time.Hour
		}
	}
}

// Validate checks structural consistency of the configuration.
func (c *Config) Validate() error {
	if c.Application == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Environments) == 0 {
		return fmt.Errorf("at least one environment is required")
	}
	seen := make(map[string]struct{}, len(c.Environments))
	for _, env := range c.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment name is required")
		}
		if _, dup := seen[env.Name]; dup {
			return fmt.Errorf("duplicate environment %q", env.Name)
		}
		seen[env.Name] = struct{}{}

		for _, rule := range env.Rules {
			switch rule.Type {
			case RuleExact, RulePrefix:
				if rule.Value == "" {
					return fmt.Errorf("environment %q: %s rule requires a value", env.Name, rule.Type)
				}
			case RuleGlob, RuleTag:
				if rule.Pattern == "" {
					return fmt.Errorf("environment %q: %s rule requires a pattern", env.Name, rule.Type)
				}
			default:
				return fmt.Errorf("environment %q: unknown rule type %q", env.Name, rule.Type)
			}
		}

		if env.Canary.InitialWeight < 0 || env.Canary.InitialWeight > model.MaxCanaryWeight {
			return fmt.Errorf("environment %q: initialWeight must be within [0,%d]", env.Name, model.MaxCanaryWeight)
		}
		if env.Canary.StepSize <= 0 {
			return fmt.Errorf("environment %q: stepSize must be positive", env.Name)
		}
		if env.Protected && env.RequiredApprovals < 1 {
			return fmt.Errorf("environment %q: protected environments require at least one approval", env.Name)
		}
	}

	switch c.LockPolicy {
	case LockPolicyReject, LockPolicyAbortRestart:
	default:
		return fmt.Errorf("unknown lock policy %q", c.LockPolicy)
	}
	return nil
}

// Environment returns the named environment, if configured.
func (c *Config) Environment(name string) (Environment, bool) {
	for _, env := range c.Environments {
		if env.Name == name {
			return env, true
		}
	}
	return Environment{}, false
}

// Scanner returns the named scanner configuration, if present.
func (c *Config) Scanner(name string) (ScannerConfig, bool) {
	for _, s := range c.Scanners {
		if s.Name == name {
			return s, true
		}
	}
	return ScannerConfig{}, false
}
