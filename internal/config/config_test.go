package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Path does not exist; env and defaults must be enough.
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https", cfg.NSO.Protocol)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, "remediation_batch_exec", cfg.Reports.WorkflowName)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
nso:
  host: nso.example.com
  port: 8443
  username: ops
llm:
  provider: openai
  model: gpt-4o
  base_url: http://litellm.internal:4000/v1
session:
  turn_timeout: 120
`)

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "nso.example.com", cfg.NSO.Host)
	assert.Equal(t, 8443, cfg.NSO.Port)
	assert.Equal(t, "ops", cfg.NSO.Username)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "http://litellm.internal:4000/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 120, cfg.Session.TurnTimeout)
	// Unset sections keep their defaults.
	assert.Equal(t, "https", cfg.NSO.Protocol)
}

func TestProviderAPIKeyFromEnv(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: openai\n")
	t.Setenv("OPENAI_API_KEY", "sk-test-key")

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	assert.Equal(t, "sk-test-key", mgr.Get(context.Background()).LLM.APIKey)
}

func TestNSOPasswordFromEnv(t *testing.T) {
	path := writeConfig(t, "nso:\n  username: admin\n")
	t.Setenv("NSO_PASSWORD", "secret")

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, "secret", cfg.NSO.Password)
	// CLI password falls back to the RESTCONF one when unset.
	assert.Equal(t, "secret", cfg.NSOCLI.Password)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "server:\n  port: 99999\n", "server.port"},
		{"bad protocol", "nso:\n  protocol: ftp\n", "nso.protocol"},
		{"bad provider", "llm:\n  provider: cohere\n", "llm.provider"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := NewConfigManager(writeConfig(t, tt.yaml))
			require.NoError(t, err)
			err = mgr.Load(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, 9090, mgr.Get(context.Background()).Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))
	require.NoError(t, mgr.Reload(context.Background()))
	assert.Equal(t, 9191, mgr.Get(context.Background()).Server.Port)
}
