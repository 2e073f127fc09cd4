// Package anthropic implements the LLM provider interface against the
// Anthropic messages API, including streaming tool use and a forced
// tool-choice mode for structured output.
package anthropic

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

// Anthropic API constants
const (
	DefaultBaseURL    = "https://api.anthropic.com/v1"
	DefaultModel      = "claude-sonnet-4-20250514"
	DefaultMaxTokens  = 4096
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 120 * time.Second
)

// Options configures the client.
type Options struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
	Timeout   time.Duration
}

// Client implements the provider against the Anthropic messages API.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an Anthropic client.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
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

// anthMessage represents an Anthropic API message
type anthMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock can be text or tool_use or tool_result
type ContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"` // for tool_result
}

// anthTool represents an Anthropic tool definition
type anthTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// anthToolChoice forces the model to call a specific tool.
type anthToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// anthRequest represents an Anthropic API request
type anthRequest struct {
	Model      string          `json:"model"`
	MaxTokens  int             `json:"max_tokens"`
	Messages   []anthMessage   `json:"messages"`
	Tools      []anthTool      `json:"tools,omitempty"`
	ToolChoice *anthToolChoice `json:"tool_choice,omitempty"`
	System     string          `json:"system,omitempty"`
	Stream     bool            `json:"stream,omitempty"`
}

// anthResponse represents an Anthropic API response
type anthResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthUsage      `json:"usage"`
}

// anthUsage tracks token usage
type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SSE event types from Anthropic streaming API
type sseEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	Delta        *sseDelta     `json:"delta,omitempty"`
	Usage        *anthUsage    `json:"usage,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
}

type sseDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// Complete implements non-streaming completion.
func (c *Client) Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.CompletionResponse, error) {
	system, filtered := extractSystem(messages)

	req := anthRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  convertMessages(filtered),
		Tools:     convertTools(types.CapToolsForAPI(tools)),
		System:    system,
		Stream:    false,
	}

	resp, err := c.makeRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &types.CompletionResponse{
		Usage: types.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return out, nil
}

// CompleteStructured forces the model to call a single synthetic tool
// whose input schema is the desired output shape, and returns the raw
// arguments for the caller to unmarshal. This is the structured-output
// path used by report analysis.
func (c *Client) CompleteStructured(ctx context.Context, messages []types.Message, name string, schema map[string]interface{}) (json.RawMessage, error) {
	system, filtered := extractSystem(messages)

	req := anthRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  convertMessages(filtered),
		Tools: []anthTool{{
			Name:        name,
			Description: "Record the structured result of the analysis.",
			InputSchema: schema,
		}},
		ToolChoice: &anthToolChoice{Type: "tool", Name: name},
		System:     system,
	}

	resp, err := c.makeRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == name {
			return json.Marshal(block.Input)
		}
	}
	return nil, fmt.Errorf("model did not produce structured output for %q (stop_reason %s)", name, resp.StopReason)
}

// Name identifies the provider for logging and metrics.
func (c *Client) Name() string { return "anthropic" }

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// extractSystem pulls out any system message and returns it separately,
// along with the remaining messages (Anthropic requires system as a
// top-level field).
func extractSystem(messages []types.Message) (string, []types.Message) {
	var system string
	filtered := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
		} else {
			filtered = append(filtered, m)
		}
	}
	return system, filtered
}

// convertMessages converts []types.Message to Anthropic format.
func convertMessages(messages []types.Message) []anthMessage {
	result := make([]anthMessage, 0, len(messages))
	for _, m := range messages {
		result = append(result, anthMessage{
			Role: m.Role,
			Content: []ContentBlock{
				{Type: "text", Text: m.Content},
			},
		})
	}
	return result
}

// convertTools converts []types.Tool to Anthropic format.
func convertTools(tools []types.Tool) []anthTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthTool, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		result = append(result, anthTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return result
}

// makeRequest makes a non-streaming HTTP request to the Anthropic API.
func (c *Client) makeRequest(ctx context.Context, req anthRequest) (*anthResponse, error) {
	start := time.Now()
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", DefaultAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("anthropic", c.model, "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		metrics.LLMRequestsTotal.WithLabelValues("anthropic", c.model, strconv.Itoa(httpResp.StatusCode)).Inc()
		return nil, fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body))
	}

	var resp anthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	metrics.LLMRequestsTotal.WithLabelValues("anthropic", c.model, "ok").Inc()
	metrics.LLMRequestDuration.WithLabelValues("anthropic", c.model).Observe(time.Since(start).Seconds())
	metrics.LLMTokensUsed.WithLabelValues("anthropic", c.model, "input").Add(float64(resp.Usage.InputTokens))
	metrics.LLMTokensUsed.WithLabelValues("anthropic", c.model, "output").Add(float64(resp.Usage.OutputTokens))
	return &resp, nil
}

// SetBaseURL overrides the Anthropic API base URL.  Used in tests.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }
