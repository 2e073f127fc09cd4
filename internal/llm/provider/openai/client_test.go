package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/devnet-ops/compliance-ai/internal/llm/types"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	c, err := NewClient(Options{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("model = %q, want default %q", c.model, DefaultModel)
	}
	if c.maxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", c.maxTokens, DefaultMaxTokens)
	}
}

func TestConvertToolsDefaultsSchema(t *testing.T) {
	out := convertTools([]types.Tool{{Name: "check_sync", Description: "d"}})
	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Type != "function" {
		t.Errorf("type = %q", out[0].Type)
	}
	if out[0].Function.Parameters["type"] != "object" {
		t.Errorf("nil schema not defaulted: %v", out[0].Function.Parameters)
	}
}

func chatResponse(content string, toolCalls []oaToolCall) map[string]interface{} {
	msg := map[string]interface{}{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return map[string]interface{}{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []map[string]interface{}{
			{"index": 0, "message": msg, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		var req oaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}

		tc := oaToolCall{ID: "call_1", Type: "function"}
		tc.Function.Name = "check_device_sync"
		tc.Function.Arguments = `{"device_name":"core-rtr-01"}`
		json.NewEncoder(w).Encode(chatResponse("Checking sync state.", []oaToolCall{tc}))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "sk-test"})
	c.SetBaseURL(srv.URL)

	resp, err := c.Complete(context.Background(), []types.Message{
		{Role: "system", Content: "You are a network assistant."},
		{Role: "user", Content: "is core-rtr-01 in sync?"},
	}, []types.Tool{{Name: "check_device_sync"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Checking sync state." {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "check_device_sync" {
		t.Errorf("tool name = %q", resp.ToolCalls[0].Name)
	}
	if resp.ToolCalls[0].Arguments["device_name"] != "core-rtr-01" {
		t.Errorf("arguments not parsed from JSON string: %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Errorf("response_format = %+v", req.ResponseFormat)
		}
		if req.ResponseFormat.JSONSchema["name"] != "analysis" {
			t.Errorf("schema name = %v", req.ResponseFormat.JSONSchema["name"])
		}
		json.NewEncoder(w).Encode(chatResponse(`{"summary":"3 devices out of sync"}`, nil))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "sk-test"})
	c.SetBaseURL(srv.URL)

	raw, err := c.CompleteStructured(context.Background(), []types.Message{
		{Role: "user", Content: "analyze"},
	}, "analysis", map[string]interface{}{"type": "object"})
	if err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	var got struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Summary != "3 devices out of sync" {
		t.Errorf("summary = %q", got.Summary)
	}
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(name string, args map[string]interface{}) (string, error)
}

func (e *recordingExecutor) Execute(_ context.Context, name string, args map[string]interface{}) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.mu.Unlock()
	return e.fn(name, args)
}

func TestCompleteWithToolsLoop(t *testing.T) {
	var turns int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		turns++
		if turns == 1 {
			tc := oaToolCall{ID: "call_1", Type: "function"}
			tc.Function.Name = "sync_device"
			tc.Function.Arguments = `{"device":"edge-01"}`
			json.NewEncoder(w).Encode(chatResponse("", []oaToolCall{tc}))
			return
		}
		// Second turn must carry the assistant tool_calls and the tool result.
		last := req.Messages[len(req.Messages)-1]
		if last.Role != "tool" || last.ToolCallID != "call_1" {
			t.Errorf("last message = %+v, want tool result for call_1", last)
		}
		if !strings.Contains(last.Content, "in-sync") {
			t.Errorf("tool result content = %q", last.Content)
		}
		json.NewEncoder(w).Encode(chatResponse("Device edge-01 is in sync.", nil))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "sk-test"})
	c.SetBaseURL(srv.URL)

	exec := &recordingExecutor{fn: func(name string, args map[string]interface{}) (string, error) {
		return `{"result":"in-sync"}`, nil
	}}

	evtCh, err := c.CompleteWithTools(context.Background(), []types.Message{
		{Role: "user", Content: "sync edge-01"},
	}, []types.Tool{{Name: "sync_device"}}, exec, types.DefaultAgentConfig())
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}

	var text strings.Builder
	var phases []string
	var done bool
	for evt := range evtCh {
		if evt.Err != nil {
			t.Fatalf("stream error: %v", evt.Err)
		}
		text.WriteString(evt.TextToken)
		if evt.ToolEvent != nil {
			phases = append(phases, evt.ToolEvent.Phase)
		}
		if evt.Done {
			done = true
		}
	}
	if !done {
		t.Error("never saw Done event")
	}
	if text.String() != "Device edge-01 is in sync." {
		t.Errorf("text = %q", text.String())
	}
	if len(exec.calls) != 1 || exec.calls[0] != "sync_device" {
		t.Errorf("executor calls = %v", exec.calls)
	}
	if len(phases) != 2 || phases[0] != "calling" || phases[1] != "result" {
		t.Errorf("phases = %v", phases)
	}
	if turns != 2 {
		t.Errorf("API turns = %d, want 2", turns)
	}
}

func TestCompleteWithToolsExecutorErrorFedBack(t *testing.T) {
	var turns int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		turns++
		if turns == 1 {
			tc := oaToolCall{ID: "call_err", Type: "function"}
			tc.Function.Name = "sync_device"
			tc.Function.Arguments = `{}`
			json.NewEncoder(w).Encode(chatResponse("", []oaToolCall{tc}))
			return
		}
		last := req.Messages[len(req.Messages)-1]
		if !strings.Contains(last.Content, "failed") {
			t.Errorf("error not fed back as tool content: %q", last.Content)
		}
		json.NewEncoder(w).Encode(chatResponse("The sync could not be completed.", nil))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "sk-test"})
	c.SetBaseURL(srv.URL)

	exec := &recordingExecutor{fn: func(name string, args map[string]interface{}) (string, error) {
		return "", fmt.Errorf("device unreachable")
	}}

	evtCh, err := c.CompleteWithTools(context.Background(), []types.Message{
		{Role: "user", Content: "sync"},
	}, []types.Tool{{Name: "sync_device"}}, exec, types.DefaultAgentConfig())
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}

	var sawErrorPhase bool
	for evt := range evtCh {
		if evt.Err != nil {
			t.Fatalf("executor error must not abort the loop: %v", evt.Err)
		}
		if evt.ToolEvent != nil && evt.ToolEvent.Phase == "error" {
			sawErrorPhase = true
		}
	}
	if !sawErrorPhase {
		t.Error("expected an error-phase tool event")
	}
	if turns != 2 {
		t.Errorf("API turns = %d, want 2", turns)
	}
}
