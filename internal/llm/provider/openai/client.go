// Package openai implements the LLM provider interface against
// OpenAI-compatible chat-completions endpoints. This is also the path for
// LiteLLM-style gateways that front other models behind the same API, so
// the base URL is always configurable.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/devnet-ops/compliance-ai/internal/llm/types"
	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 120 * time.Second
)

// Options configures the client.
type Options struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
	Timeout   time.Duration
}

// Client implements the provider for OpenAI-compatible APIs.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an OpenAI-compatible client.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
		baseURL:    opts.BaseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// OpenAI API structures
type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaTool struct {
	Type     string        `json:"type"`
	Function oaFunctionDef `json:"function"`
}

type oaFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaResponseFormat struct {
	Type       string                 `json:"type"`
	JSONSchema map[string]interface{} `json:"json_schema,omitempty"`
}

type oaChatRequest struct {
	Model          string            `json:"model"`
	Messages       []oaMessage       `json:"messages"`
	Tools          []oaTool          `json:"tools,omitempty"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat *oaResponseFormat `json:"response_format,omitempty"`
}

type oaChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string       `json:"role"`
			Content   string       `json:"content"`
			ToolCalls []oaToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements non-streaming completion with optional tools.
func (c *Client) Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.CompletionResponse, error) {
	req := oaChatRequest{
		Model:     c.model,
		Messages:  convertMessages(messages),
		Tools:     convertTools(types.CapToolsForAPI(tools)),
		MaxTokens: c.maxTokens,
	}
	resp, err := c.makeRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice := resp.Choices[0]

	out := &types.CompletionResponse{
		Content: choice.Message.Content,
		Usage: types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool call arguments: %w", err)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// CompleteStructured requests a strict JSON response conforming to schema
// via the response_format API and returns the raw JSON.
func (c *Client) CompleteStructured(ctx context.Context, messages []types.Message, name string, schema map[string]interface{}) (json.RawMessage, error) {
	req := oaChatRequest{
		Model:     c.model,
		Messages:  convertMessages(messages),
		MaxTokens: c.maxTokens,
		ResponseFormat: &oaResponseFormat{
			Type: "json_schema",
			JSONSchema: map[string]interface{}{
				"name":   name,
				"strict": true,
				"schema": schema,
			},
		},
	}
	resp, err := c.makeRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("model returned invalid JSON for %q", name)
	}
	return json.RawMessage(content), nil
}

// Name identifies the provider for logging and metrics.
func (c *Client) Name() string { return "openai" }

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

func convertMessages(messages []types.Message) []oaMessage {
	out := make([]oaMessage, len(messages))
	for i, m := range messages {
		out[i] = oaMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func convertTools(tools []types.Tool) []oaTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]oaTool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out[i] = oaTool{
			Type: "function",
			Function: oaFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func (c *Client) makeRequest(ctx context.Context, req oaChatRequest) (*oaChatResponse, error) {
	start := time.Now()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("openai", c.model, "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		metrics.LLMRequestsTotal.WithLabelValues("openai", c.model, strconv.Itoa(httpResp.StatusCode)).Inc()
		return nil, fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp oaChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	metrics.LLMRequestsTotal.WithLabelValues("openai", c.model, "ok").Inc()
	metrics.LLMRequestDuration.WithLabelValues("openai", c.model).Observe(time.Since(start).Seconds())
	metrics.LLMTokensUsed.WithLabelValues("openai", c.model, "input").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues("openai", c.model, "output").Add(float64(resp.Usage.CompletionTokens))
	return &resp, nil
}

// SetBaseURL overrides the API base URL.  Used in tests.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }
