package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	v          *viper.Viper
	configPath string
	config     *Config
	watchChan  chan Config
	watching   bool
}

// Load loads configuration from file, environment, and defaults.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("COMPLIANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m.setDefaults(v)

	// Config file is optional; env and defaults are enough to run.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
		}
	}

	cfg := DefaultConfig()
	m.unmarshalConfig(v, cfg)
	m.applyEnvOverrides(cfg)

	m.v = v
	m.config = cfg

	return m.validateLocked()
}

func (m *viperConfigManager) setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.allowed_origins", def.Server.AllowedOrigins)

	v.SetDefault("nso.protocol", def.NSO.Protocol)
	v.SetDefault("nso.host", def.NSO.Host)
	v.SetDefault("nso.port", def.NSO.Port)
	v.SetDefault("nso.username", def.NSO.Username)
	v.SetDefault("nso.host_header", def.NSO.HostHeader)
	v.SetDefault("nso.timeout", def.NSO.Timeout)

	v.SetDefault("nso_cli.host", def.NSOCLI.Host)
	v.SetDefault("nso_cli.port", def.NSOCLI.Port)
	v.SetDefault("nso_cli.username", def.NSOCLI.Username)
	v.SetDefault("nso_cli.timeout", def.NSOCLI.Timeout)

	v.SetDefault("cwm.host", def.CWM.Host)
	v.SetDefault("cwm.port", def.CWM.Port)
	v.SetDefault("cwm.username", def.CWM.Username)

	v.SetDefault("llm.provider", def.LLM.Provider)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", def.LLM.MaxTokens)
	v.SetDefault("llm.timeout", def.LLM.Timeout)

	v.SetDefault("reports.scratch_dir", def.Reports.ScratchDir)
	v.SetDefault("reports.workflow_name", def.Reports.WorkflowName)

	v.SetDefault("session.turn_timeout", def.Session.TurnTimeout)
	v.SetDefault("session.max_agent_turns", def.Session.MaxAgentTurns)
	v.SetDefault("session.parallel_tools", def.Session.ParallelTools)

	v.SetDefault("database.sqlite_path", def.Database.SQLitePath)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.max_size_mb", def.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", def.Logging.MaxAgeDays)
}

func (m *viperConfigManager) unmarshalConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")

	cfg.NSO.Protocol = v.GetString("nso.protocol")
	cfg.NSO.Host = v.GetString("nso.host")
	cfg.NSO.Port = v.GetInt("nso.port")
	cfg.NSO.Username = v.GetString("nso.username")
	cfg.NSO.Password = v.GetString("nso.password")
	cfg.NSO.HostHeader = v.GetString("nso.host_header")
	cfg.NSO.Timeout = v.GetInt("nso.timeout")

	cfg.NSOCLI.Host = v.GetString("nso_cli.host")
	cfg.NSOCLI.Port = v.GetInt("nso_cli.port")
	cfg.NSOCLI.Username = v.GetString("nso_cli.username")
	cfg.NSOCLI.Password = v.GetString("nso_cli.password")
	cfg.NSOCLI.Timeout = v.GetInt("nso_cli.timeout")

	cfg.CWM.Host = v.GetString("cwm.host")
	cfg.CWM.Port = v.GetInt("cwm.port")
	cfg.CWM.Username = v.GetString("cwm.username")
	cfg.CWM.Password = v.GetString("cwm.password")

	cfg.LLM.Provider = v.GetString("llm.provider")
	cfg.LLM.APIKey = v.GetString("llm.api_key")
	cfg.LLM.Model = v.GetString("llm.model")
	cfg.LLM.BaseURL = v.GetString("llm.base_url")
	cfg.LLM.MaxTokens = v.GetInt("llm.max_tokens")
	cfg.LLM.Timeout = v.GetInt("llm.timeout")

	cfg.Reports.ScratchDir = v.GetString("reports.scratch_dir")
	cfg.Reports.WorkflowName = v.GetString("reports.workflow_name")

	cfg.Session.TurnTimeout = v.GetInt("session.turn_timeout")
	cfg.Session.MaxAgentTurns = v.GetInt("session.max_agent_turns")
	cfg.Session.ParallelTools = v.GetBool("session.parallel_tools")

	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
}

// applyEnvOverrides handles the well-known environment variables that do not
// carry the COMPLIANCE_ prefix.
func (m *viperConfigManager) applyEnvOverrides(cfg *Config) {
	switch cfg.LLM.Provider {
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if pw := os.Getenv("NSO_PASSWORD"); pw != "" {
		cfg.NSO.Password = pw
		if cfg.NSOCLI.Password == "" {
			cfg.NSOCLI.Password = pw
		}
	}
	if pw := os.Getenv("NSO_CLI_PASSWORD"); pw != "" {
		cfg.NSOCLI.Password = pw
	}
	if pw := os.Getenv("CWM_PASSWORD"); pw != "" {
		cfg.CWM.Password = pw
	}
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates the loaded configuration.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validateLocked()
}

func (m *viperConfigManager) validateLocked() error {
	cfg := m.config
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.NSO.Protocol != "http" && cfg.NSO.Protocol != "https" {
		errs = append(errs, fmt.Errorf("nso.protocol must be http or https, got %q", cfg.NSO.Protocol))
	}
	if cfg.NSO.Host == "" {
		errs = append(errs, errors.New("nso.host is required"))
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	case "":
		errs = append(errs, errors.New("llm.provider is required"))
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be anthropic or openai, got %q", cfg.LLM.Provider))
	}
	if cfg.LLM.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive, got %d", cfg.LLM.MaxTokens))
	}
	if cfg.Session.MaxAgentTurns < 1 {
		errs = append(errs, fmt.Errorf("session.max_agent_turns must be positive, got %d", cfg.Session.MaxAgentTurns))
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

// Watch watches the config file for changes and emits reloaded configs.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watching || m.v == nil {
		return m.watchChan
	}
	m.watching = true

	m.v.OnConfigChange(func(in fsnotify.Event) {
		if err := m.Reload(ctx); err != nil {
			return
		}
		m.mu.RLock()
		cfg := *m.config
		m.mu.RUnlock()
		select {
		case m.watchChan <- cfg:
		default:
			// Drop the update if nobody is draining the channel.
		}
	})
	m.v.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	return m.Load(ctx)
}
