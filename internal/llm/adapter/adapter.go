// Package adapter provides a unified interface over the supported LLM
// providers so the session engine never speaks a provider wire format.
//
// Supported providers:
//  1. Anthropic: direct Messages API
//  2. OpenAI: chat completions, including any OpenAI-compatible gateway
//     (LiteLLM, vLLM, LocalAI) via base_url
//
// Tool calling is normalized by the providers themselves: both present
// tools as types.Tool and return calls as types.ToolCall with parsed
// argument maps.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devnet-ops/compliance-ai/internal/llm/provider/anthropic"
	"github.com/devnet-ops/compliance-ai/internal/llm/provider/openai"
	"github.com/devnet-ops/compliance-ai/internal/llm/types"
)

// ProviderType identifies which LLM provider is configured.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
)

// Config holds provider configuration, normally sourced from the llm
// section of the service config.
type Config struct {
	Provider  string        `mapstructure:"provider"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LLMAdapter is the unified interface the session engine programs against.
type LLMAdapter interface {
	// Complete sends messages and optional tools, returning the full
	// completion with any tool calls the model made.
	Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.CompletionResponse, error)

	// CompleteStructured asks for a response conforming to a JSON schema
	// and returns the raw JSON for the caller to unmarshal.
	CompleteStructured(ctx context.Context, messages []types.Message, name string, schema map[string]interface{}) (json.RawMessage, error)

	// CompleteWithTools runs the multi-turn agentic loop, executing tool
	// calls through executor and streaming events until a final answer.
	CompleteWithTools(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.AgentConfig) (<-chan types.AgentStreamEvent, error)

	// Name returns the provider name for logging and metrics.
	Name() string

	// Model returns the configured model id.
	Model() string
}

// New creates an adapter from configuration.
func New(cfg Config) (LLMAdapter, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderAnthropic:
		return anthropic.NewClient(anthropic.Options{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		})
	case ProviderOpenAI:
		return openai.NewClient(openai.Options{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		})
	case "":
		return nil, fmt.Errorf("llm provider not configured")
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: anthropic, openai)", cfg.Provider)
	}
}
