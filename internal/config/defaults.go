package config

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = []string{"*"}

	cfg.NSO.Protocol = "https"
	cfg.NSO.Host = "localhost"
	cfg.NSO.Port = 8888
	cfg.NSO.Username = "admin"
	cfg.NSO.HostHeader = ""
	cfg.NSO.Timeout = 30

	cfg.NSOCLI.Host = "localhost"
	cfg.NSOCLI.Port = 2024
	cfg.NSOCLI.Username = "admin"
	cfg.NSOCLI.Timeout = 30

	cfg.CWM.Host = "localhost"
	cfg.CWM.Port = 443
	cfg.CWM.Username = "admin"

	cfg.LLM.Provider = "anthropic"
	cfg.LLM.MaxTokens = 4096
	cfg.LLM.Timeout = 120

	cfg.Reports.ScratchDir = "/tmp/compliance-reports"
	cfg.Reports.WorkflowName = "remediation_batch_exec"

	cfg.Session.TurnTimeout = 300
	cfg.Session.MaxAgentTurns = 20
	cfg.Session.ParallelTools = true

	cfg.Database.SQLitePath = "/var/lib/compliance-ai/history.db"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30

	return cfg
}
