package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all application configuration
type Config struct {
	Port                int    `json:"port"`
	BindRetries         int    `json:"bind_retries"`
	StreamingHost       string `json:"streaming_host"`
	APIHost             string `json:"api_host"`
	ShowMyRetweet       bool   `json:"show_my_retweet"`
	AuxStreaming        bool   `json:"aux_streaming"`
	AuxPort             int    `json:"aux_port"`
	CookiePath          string `json:"cookie_path"`
	FallbackPollSeconds int    `json:"fallback_poll_seconds"`
	CACert              string `json:"ca_cert"`
	CAKey               string `json:"ca_key"`
	LogFile             string `json:"log_file"`
	Verbose             bool   `json:"verbose"`
}

// CLIOptions represents command-line options
type CLIOptions struct {
	Port       int
	AuxPort    int
	CookiePath string
	LogFile    string
	Verbose    bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Port:                8811,
		BindRetries:         10,
		StreamingHost:       "userstream.twitter.com",
		APIHost:             "api.twitter.com",
		ShowMyRetweet:       true,
		AuxStreaming:        false,
		AuxPort:             8812,
		CookiePath:          "cookies.dat",
		FallbackPollSeconds: 15,
		Verbose:             false,
	}
}

// Load loads configuration from file and merges with CLI options
func Load(configFile string, cliOpts CLIOptions) (*Config, error) {
	cfg := DefaultConfig()

	// Load from file if provided
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with CLI options
	if cliOpts.Port != 0 {
		cfg.Port = cliOpts.Port
	}
	if cliOpts.AuxPort != 0 {
		cfg.AuxPort = cliOpts.AuxPort
	}
	if cliOpts.CookiePath != "" {
		cfg.CookiePath = cliOpts.CookiePath
	}
	if cliOpts.LogFile != "" {
		cfg.LogFile = cliOpts.LogFile
	}
	if cliOpts.Verbose {
		cfg.Verbose = cliOpts.Verbose
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}

	if c.BindRetries < 0 {
		return fmt.Errorf("bind_retries must not be negative: %d", c.BindRetries)
	}

	if c.StreamingHost == "" || c.APIHost == "" {
		return fmt.Errorf("streaming_host and api_host must not be empty")
	}

	if c.AuxStreaming {
		if c.AuxPort < 1 || c.AuxPort > 65535 {
			return fmt.Errorf("invalid aux port number: %d", c.AuxPort)
		}
		if c.AuxPort == c.Port {
			return fmt.Errorf("aux_port must differ from port")
		}
	}

	if c.CACert != "" && c.CAKey == "" {
		return fmt.Errorf("ca_cert requires ca_key")
	}

	if c.FallbackPollSeconds < 1 {
		return fmt.Errorf("fallback_poll_seconds must be at least 1")
	}

	return nil
}

// Save writes the configuration to a file
func (c *Config) Save(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
