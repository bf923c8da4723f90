package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultCloudURL          = "https://cloud.firewalla.com/bone/api/v1"
	DefaultCheckInInterval   = time.Hour
	DefaultStartupDelay      = 5 * time.Second
	DefaultCloudTimeout      = 30 * time.Second
	DefaultReadyPollInterval = 10 * time.Second
	DefaultListen            = "127.0.0.1:8834"
	DefaultConsumer          = "FireApi"
)

// AgentConfig agent config file structure
type AgentConfig struct {
	Name        string         `yaml:"name" json:"name"`
	Version     string         `yaml:"version" json:"version"`
	LicenseFile string         `yaml:"license_file" json:"license_file"`
	Listen      string         `yaml:"listen" json:"listen"`
	LogLevel    string         `yaml:"log_level" json:"log_level"`
	Consumer    string         `yaml:"consumer" json:"consumer"` // event target tag for DDNS updates
	Cloud       CloudConfig    `yaml:"cloud" json:"cloud"`
	CheckIn     CheckInConfig  `yaml:"check_in" json:"check_in"`
	Database    DatabaseConfig `yaml:"database" json:"database"`
	Store       StoreConfig    `yaml:"store" json:"store"`
}

// CloudConfig remote coordination service settings
type CloudConfig struct {
	URL               string        `yaml:"url" json:"url"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	ReadyPollInterval time.Duration `yaml:"ready_poll_interval" json:"ready_poll_interval"`
}

// CheckInConfig check-in schedule
type CheckInConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval"`
	StartupDelay time.Duration `yaml:"startup_delay" json:"startup_delay"`
}

// DatabaseConfig state store location
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// StoreConfig selects the state store backend. With RedisURL set the state
// keys live in redis, where other processes on the box read them; otherwise
// they go to the sqlite database.
type StoreConfig struct {
	RedisURL string `yaml:"redis_url" json:"redis_url"`
}

// UsesRedis reports whether the redis backend is selected.
func (c *AgentConfig) UsesRedis() bool {
	return strings.TrimSpace(c.Store.RedisURL) != ""
}

// Default returns a config with every field set, rooted at dataDir.
func Default(dataDir string) *AgentConfig {
	cfg := &AgentConfig{}
	cfg.applyDefaults(dataDir)
	return cfg
}

func (c *AgentConfig) applyDefaults(dataDir string) {
	if dataDir == "" {
		dataDir = "."
	}
	if c.Name == "" {
		if name, err := os.Hostname(); err == nil {
			c.Name = name
		} else {
			c.Name = "unknown"
		}
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.LicenseFile == "" {
		c.LicenseFile = filepath.Join(dataDir, "license")
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Consumer == "" {
		c.Consumer = DefaultConsumer
	}
	if c.Cloud.URL == "" {
		c.Cloud.URL = DefaultCloudURL
	}
	if c.Cloud.Timeout <= 0 {
		c.Cloud.Timeout = DefaultCloudTimeout
	}
	if c.Cloud.ReadyPollInterval <= 0 {
		c.Cloud.ReadyPollInterval = DefaultReadyPollInterval
	}
	if c.CheckIn.Interval <= 0 {
		c.CheckIn.Interval = DefaultCheckInInterval
	}
	if c.CheckIn.StartupDelay <= 0 {
		c.CheckIn.StartupDelay = DefaultStartupDelay
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(dataDir, "boneagent.db")
	}
}

// Load reads the YAML config at path. A missing file yields the defaults.
func Load(path, dataDir string) (*AgentConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(dataDir), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults(dataDir)

	return &cfg, nil
}

// Save writes cfg to path, keeping a .backup of the previous file.
func Save(path string, cfg *AgentConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Cloud.URL) == "" {
		return fmt.Errorf("cloud url cannot be empty")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".backup"); err != nil {
			return fmt.Errorf("failed to backup config file: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
