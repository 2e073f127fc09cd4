// Package config provides configuration management for compliance-ai.
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (COMPLIANCE_* prefix, plus the provider API
//     key variables)
//  2. YAML config file (default: /etc/compliance-ai/config.yaml)
//  3. Built-in defaults
package config

import "context"

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port int
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// NSO RESTCONF connector
	NSO struct {
		Protocol   string
		Host       string
		Port       int
		Username   string
		Password   string
		HostHeader string
		Timeout    int // seconds
	}

	// NSO CLI connector (SSH)
	NSOCLI struct {
		Host     string
		Port     int
		Username string
		Password string
		Timeout  int // seconds
	}

	// CWM workflow manager
	CWM struct {
		Host     string
		Port     int
		Username string
		Password string
	}

	// LLM provider configuration
	LLM struct {
		Provider  string
		APIKey    string
		Model     string
		BaseURL   string
		MaxTokens int
		Timeout   int // seconds
	}

	// Report retrieval
	Reports struct {
		ScratchDir   string
		WorkflowName string // CWM workflow carrying remediation batches
	}

	// Session engine
	Session struct {
		TurnTimeout   int // seconds
		MaxAgentTurns int
		ParallelTools bool
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string // "json" | "console"
		File       string // empty means stdout only
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default
// config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/compliance-ai/config.yaml")
}
