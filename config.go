package sgrbridge

import (
	"errors"
	"time"
)

// Config is the validated runtime configuration the bridge core consumes.
// Parsing flags, environment variables and config files happens in cmd/;
// the core only sees this struct.
type Config struct {
	// UpstreamURL is the base URL of the SGR agent API.
	UpstreamURL string
	// UpstreamKey is an optional bearer token for the agent API.
	UpstreamKey string
	// APIKey, when set, is required as a bearer token on inbound requests.
	APIKey string
	// DefaultAgent is used when a request names no model.
	DefaultAgent string
	// Timeout is the maximum duration of one turn. Research runs are slow,
	// so the default is generous.
	Timeout time.Duration
	// ShowToolCalls toggles tool annotations in the output stream.
	ShowToolCalls bool
	// RegistryTTL bounds how long the cached agent list is served as fresh.
	RegistryTTL time.Duration
}

// DefaultConfig returns a Config with the standard deployment defaults.
func DefaultConfig() *Config {
	return &Config{
		UpstreamURL:   "http://localhost:8010",
		DefaultAgent:  "sgr_tool_calling_agent",
		Timeout:       300 * time.Second,
		ShowToolCalls: true,
		RegistryTTL:   30 * time.Second,
	}
}

// Validate checks the config and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("upstream URL must be set")
	}
	if c.DefaultAgent == "" {
		c.DefaultAgent = "sgr_tool_calling_agent"
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.RegistryTTL <= 0 {
		c.RegistryTTL = 30 * time.Second
	}
	return nil
}
