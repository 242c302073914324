package sgrbridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// configFile is the top-level structure of bridge.yaml.
type configFile struct {
	Upstream struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"upstream"`
	Defaults struct {
		Agent         string `yaml:"agent"`
		Timeout       string `yaml:"timeout"`
		ShowToolCalls *bool  `yaml:"show_tool_calls"`
		RegistryTTL   string `yaml:"registry_ttl"`
	} `yaml:"defaults"`
	APIKey string `yaml:"api_key"`
}

// LoadConfigFile reads bridge.yaml and overlays it onto cfg. Values the
// file does not set are left untouched, so flag and env defaults survive.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if file.Upstream.BaseURL != "" {
		cfg.UpstreamURL = file.Upstream.BaseURL
	}
	if file.Upstream.APIKey != "" {
		cfg.UpstreamKey = file.Upstream.APIKey
	}
	if file.APIKey != "" {
		cfg.APIKey = file.APIKey
	}
	if file.Defaults.Agent != "" {
		cfg.DefaultAgent = file.Defaults.Agent
	}
	if file.Defaults.ShowToolCalls != nil {
		cfg.ShowToolCalls = *file.Defaults.ShowToolCalls
	}
	if file.Defaults.Timeout != "" {
		d, err := time.ParseDuration(file.Defaults.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", file.Defaults.Timeout, err)
		}
		cfg.Timeout = d
	}
	if file.Defaults.RegistryTTL != "" {
		d, err := time.ParseDuration(file.Defaults.RegistryTTL)
		if err != nil {
			return fmt.Errorf("invalid registry_ttl %q: %w", file.Defaults.RegistryTTL, err)
		}
		cfg.RegistryTTL = d
	}
	return nil
}
