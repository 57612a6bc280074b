// Package config loads the gateway's static configuration: upstream
// accounts, caller API keys, and server timeouts.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// defaultRequestTimeoutSeconds matches the UpstreamClient default in the
// component design.
const defaultRequestTimeoutSeconds = 600

// Account is one upstream credential set the AccountPool can select.
type Account struct {
	ID        string   `yaml:"id"`
	Type      string   `yaml:"type"` // "openai" or "openai-responses"
	APIKey    string   `yaml:"api_key"`
	BaseAPI   string   `yaml:"base_api"`
	UserAgent string   `yaml:"user_agent"`
	ProxyURL  string   `yaml:"proxy_url"`
	Models    []string `yaml:"models"`
}

// APIKeyConfig is a caller-facing key and the permissions attached to it.
type APIKeyConfig struct {
	ID                string   `yaml:"id"`
	Key               string   `yaml:"key"`
	Permissions       []string `yaml:"permissions"`
	ModelRestrictions []string `yaml:"model_restrictions"`
}

// Config is the top-level gateway configuration.
type Config struct {
	ServerPort            int            `yaml:"server_port"`
	RequestTimeoutSeconds int            `yaml:"request_timeout_seconds"`
	Accounts              []Account      `yaml:"accounts"`
	APIKeys               []APIKeyConfig `yaml:"api_keys"`

	mu sync.RWMutex
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = 8089
	}

	return &cfg, nil
}

// FindAPIKey looks up a caller API key by its raw value.
func (c *Config) FindAPIKey(key string) (*APIKeyConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.APIKeys {
		if c.APIKeys[i].Key == key {
			return &c.APIKeys[i], true
		}
	}
	return nil, false
}

// AccountsSnapshot returns a copy of the configured accounts, safe to range
// over without holding the config lock.
func (c *Config) AccountsSnapshot() []Account {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Account, len(c.Accounts))
	copy(out, c.Accounts)
	return out
}
