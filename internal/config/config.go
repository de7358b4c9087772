package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models carepool.yml.
type Config struct {
	Facility struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"facility" json:"facility"`
	Thresholds struct {
		ExpiringSoonDays    int `yaml:"expiring_soon_days" json:"expiring_soon_days"`
		DefaultReorderLevel int `yaml:"default_reorder_level" json:"default_reorder_level"`
		BloodShelfLifeDays  int `yaml:"blood_shelf_life_days" json:"blood_shelf_life_days"`
	} `yaml:"thresholds" json:"thresholds"`
	Allocation struct {
		RetryLimit        int `yaml:"retry_limit" json:"retry_limit"`
		PendingTTLMinutes int `yaml:"pending_ttl_minutes" json:"pending_ttl_minutes"`
	} `yaml:"allocation" json:"allocation"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig describes one alert sink endpoint.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Levels         []string `yaml:"levels,omitempty" json:"levels,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cpl facility config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Facility.ID == "" {
		return fmt.Errorf("config.facility.id is required")
	}
	if c.Thresholds.ExpiringSoonDays <= 0 {
		return fmt.Errorf("config.thresholds.expiring_soon_days must be positive")
	}
	if c.Thresholds.DefaultReorderLevel < 0 {
		return fmt.Errorf("config.thresholds.default_reorder_level cannot be negative")
	}
	if c.Thresholds.BloodShelfLifeDays <= 0 {
		return fmt.Errorf("config.thresholds.blood_shelf_life_days must be positive")
	}
	if c.Allocation.RetryLimit < 1 {
		return fmt.Errorf("config.allocation.retry_limit must be at least 1")
	}
	if c.Allocation.PendingTTLMinutes <= 0 {
		return fmt.Errorf("config.allocation.pending_ttl_minutes must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, lvl := range hook.Levels {
			switch lvl {
			case "low", "out", "expiring_soon":
			default:
				return fmt.Errorf("config.webhooks[%d] has unknown level %s", i, lvl)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "carepool.yml")
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

// GenerateDefault returns default config YAML.
func GenerateDefault(facilityID string) string {
	return fmt.Sprintf(defaultTemplate, facilityID)
}

// Default returns the default Config struct for a facility.
func Default(facilityID string) *Config {
	var cfg Config
	cfg.Facility.ID = facilityID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, facilityID))).Decode(&cfg)
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

const defaultTemplate = `facility:
  id: %s
  name: ""

thresholds:
  # Perishable stock raises expiring_soon this many days before expiry.
  expiring_soon_days: 30
  # Used when a stock unit is registered without its own reorder level.
  default_reorder_level: 10
  # Blood units without a recorded expiry get one this far from collection.
  blood_shelf_life_days: 35

allocation:
  # Bounded optimistic-concurrency retries before surfacing busy.
  retry_limit: 3
  # Pending slot requests older than this are eligible for the sweep.
  pending_ttl_minutes: 30
`
