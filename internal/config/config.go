package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models warboard.yml.
type Config struct {
	Board struct {
		ID              string `yaml:"id"`
		ApprovalChannel string `yaml:"approval_channel"`
		DigestChannel   string `yaml:"digest_channel"`
	} `yaml:"board"`
	Tracker struct {
		BaseURL       string `yaml:"base_url"`
		Token         string `yaml:"token"`
		TeamID        string `yaml:"team_id"`
		SpaceID       string `yaml:"space_id"`
		WebhookSecret string `yaml:"webhook_secret"`
		PageSize      int    `yaml:"page_size"`
	} `yaml:"tracker"`
	ClientBoard struct {
		Containers map[string]string `yaml:"containers"`
	} `yaml:"client_board"`
	Notify struct {
		BaseURL       string `yaml:"base_url"`
		Token         string `yaml:"token"`
		SigningSecret string `yaml:"signing_secret"`
		SkewTolerance int    `yaml:"skew_tolerance_seconds"`
	} `yaml:"notify"`
	Classifier struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
		Model   string `yaml:"model"`
	} `yaml:"classifier"`
	Projects map[string]ProjectAliases `yaml:"projects"`
	Coaching struct {
		MaxNudgesPerDay int `yaml:"max_nudges_per_day"`
	} `yaml:"coaching"`
	Stalled struct {
		BusinessDays int `yaml:"business_days"`
	} `yaml:"stalled"`
	Billing struct {
		BudgetThreshold float64            `yaml:"budget_threshold"`
		Budgets         map[string]float64 `yaml:"budgets"`
	} `yaml:"billing"`
	// SyncIngest processes webhook events inline instead of on a
	// background goroutine. Used by tests.
	SyncIngest bool `yaml:"sync_ingest"`
}

// ProjectAliases lists alternate names a tracker folder may carry for
// one project id.
type ProjectAliases struct {
	Label   string   `yaml:"label"`
	Aliases []string `yaml:"aliases"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with wb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Board.ID == "" {
		return fmt.Errorf("config.board.id is required")
	}
	if c.Tracker.PageSize <= 0 {
		return fmt.Errorf("config.tracker.page_size must be positive")
	}
	if c.Coaching.MaxNudgesPerDay <= 0 {
		return fmt.Errorf("config.coaching.max_nudges_per_day must be positive")
	}
	if c.Stalled.BusinessDays <= 0 {
		return fmt.Errorf("config.stalled.business_days must be positive")
	}
	if c.Billing.BudgetThreshold <= 0 || c.Billing.BudgetThreshold > 1 {
		return fmt.Errorf("config.billing.budget_threshold must be in (0,1]")
	}
	if c.Notify.SkewTolerance <= 0 {
		return fmt.Errorf("config.notify.skew_tolerance_seconds must be positive")
	}
	for id, p := range c.Projects {
		if id == "" {
			return fmt.Errorf("config.projects contains empty project id")
		}
		for _, a := range p.Aliases {
			if a == "" {
				return fmt.Errorf("project %s has empty alias", id)
			}
		}
	}
	for client, container := range c.ClientBoard.Containers {
		if client == "" || container == "" {
			return fmt.Errorf("config.client_board.containers entries need client and container ids")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "warboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(boardID string) string {
	return fmt.Sprintf(defaultTemplate, boardID)
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

// Default returns the default Config struct for a board.
func Default(boardID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, boardID))).Decode(&cfg)
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

const defaultTemplate = `board:
  id: %s
  approval_channel: ""
  digest_channel: ""

tracker:
  base_url: https://api.clickup.com/api/v2
  token: ""
  team_id: ""
  space_id: ""
  webhook_secret: ""
  page_size: 100

client_board:
  containers: {}

notify:
  base_url: https://slack.com/api
  token: ""
  signing_secret: ""
  skew_tolerance_seconds: 300

classifier:
  base_url: ""
  token: ""
  model: ""

projects: {}

coaching:
  max_nudges_per_day: 3

stalled:
  business_days: 4

billing:
  budget_threshold: 0.85
  budgets: {}
`
