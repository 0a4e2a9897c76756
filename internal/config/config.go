package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models intentgate.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Limits struct {
		MaxTimeMinutes           int     `yaml:"max_time_minutes"`
		MaxActions               int     `yaml:"max_actions"`
		MaxCostUSD               float64 `yaml:"max_cost_usd"`
		MaxIterationsBeforePause int     `yaml:"max_iterations_before_pause"`
	} `yaml:"limits"`
	Policy struct {
		NoModificationSignals []string `yaml:"no_modification_signals"`
		AlterationVerbs       []string `yaml:"alteration_verbs"`
		NoRemovalSignals      []string `yaml:"no_removal_signals"`
		DeletionVerbs         []string `yaml:"deletion_verbs"`
		HighRiskTerms         []string `yaml:"high_risk_terms"`
	} `yaml:"policy"`
	Workflow struct {
		Steps []string `yaml:"steps"`
	} `yaml:"workflow"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ig config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Limits.MaxTimeMinutes <= 0 {
		return fmt.Errorf("config.limits.max_time_minutes must be positive")
	}
	if c.Limits.MaxActions <= 0 {
		return fmt.Errorf("config.limits.max_actions must be positive")
	}
	if c.Limits.MaxCostUSD <= 0 {
		return fmt.Errorf("config.limits.max_cost_usd must be positive")
	}
	if c.Limits.MaxIterationsBeforePause <= 0 {
		return fmt.Errorf("config.limits.max_iterations_before_pause must be positive")
	}
	if len(c.Policy.NoModificationSignals) == 0 {
		return fmt.Errorf("config.policy.no_modification_signals is required")
	}
	if len(c.Policy.AlterationVerbs) == 0 {
		return fmt.Errorf("config.policy.alteration_verbs is required")
	}
	if len(c.Policy.NoRemovalSignals) == 0 {
		return fmt.Errorf("config.policy.no_removal_signals is required")
	}
	if len(c.Policy.DeletionVerbs) == 0 {
		return fmt.Errorf("config.policy.deletion_verbs is required")
	}
	if len(c.Policy.HighRiskTerms) == 0 {
		return fmt.Errorf("config.policy.high_risk_terms is required")
	}
	if len(c.Workflow.Steps) == 0 {
		return fmt.Errorf("config.workflow.steps is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Workflow.Steps {
		if s == "" {
			return fmt.Errorf("config.workflow.steps contains an empty step kind")
		}
		if seen[s] {
			return fmt.Errorf("config.workflow.steps repeats step kind %s", s)
		}
		seen[s] = true
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "intentgate.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: ""

limits:
  max_time_minutes: 30
  max_actions: 50
  max_cost_usd: 5.0
  max_iterations_before_pause: 10

policy:
  no_modification_signals:
    - no modification
    - do not modify
    - must not modify
    - do not change
    - immutable
  alteration_verbs:
    - modify
    - change
    - alter
    - rewrite
    - replace
    - edit
  no_removal_signals:
    - no removal
    - do not remove
    - must not remove
    - do not delete
    - must not delete
  deletion_verbs:
    - remove
    - delete
    - drop
    - disable
    - strip
  high_risk_terms:
    - deploy
    - publish
    - production
    - drop table
    - truncate
    - force push
    - wipe

workflow:
  steps:
    - interpret_requirement
    - create_plan
    - validate_plan
    - generate_code
    - create_tests
    - run_tests
    - build
    - deploy
    - monitor

webhooks: []
`
