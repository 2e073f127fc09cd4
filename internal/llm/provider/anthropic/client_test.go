package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/devnet-ops/compliance-ai/internal/llm/types"
)

func TestNewClientValidation(t *testing.T) {
	// Empty API key should fail
	if _, err := NewClient(Options{}); err == nil {
		t.Error("Expected error for empty API key")
	}

	client, err := NewClient(Options{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.model != DefaultModel {
		t.Errorf("Expected default model %s, got %s", DefaultModel, client.model)
	}
	if client.maxTokens != DefaultMaxTokens {
		t.Errorf("Expected default max tokens %d, got %d", DefaultMaxTokens, client.maxTokens)
	}
	if client.baseURL != DefaultBaseURL {
		t.Errorf("Expected default base URL %s, got %s", DefaultBaseURL, client.baseURL)
	}
}

func TestExtractSystem(t *testing.T) {
	messages := []types.Message{
		{Role: "system", Content: "You are a network compliance assistant"},
		{Role: "user", Content: "Run the weekly audit"},
	}
	system, filtered := extractSystem(messages)
	if system != "You are a network compliance assistant" {
		t.Errorf("system = %q", system)
	}
	if len(filtered) != 1 || filtered[0].Role != "user" {
		t.Errorf("filtered = %v", filtered)
	}
}

func TestConvertTools(t *testing.T) {
	tools := []types.Tool{
		{Name: "sync_device", Description: "Sync a device"},
	}
	anthTools := convertTools(tools)
	if len(anthTools) != 1 {
		t.Fatalf("Expected 1 tool, got %d", len(anthTools))
	}
	// Nil parameters get a default empty object schema.
	if anthTools[0].InputSchema["type"] != "object" {
		t.Errorf("schema = %v", anthTools[0].InputSchema)
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req anthRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.System == "" {
			t.Error("system prompt not lifted to top-level field")
		}
		json.NewEncoder(w).Encode(anthResponse{
			Content: []ContentBlock{
				{Type: "text", Text: "The audit found 2 violations."},
				{Type: "tool_use", ID: "tu_1", Name: "run_report", Input: map[string]interface{}{"report_name": "weekly"}},
			},
			StopReason: "tool_use",
			Usage:      anthUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "test-key"})
	c.SetBaseURL(srv.URL)

	resp, err := c.Complete(context.Background(), []types.Message{
		{Role: "system", Content: "assistant"},
		{Role: "user", Content: "audit"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "The audit found 2 violations." {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "run_report" {
		t.Errorf("tool calls = %v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteStructuredForcesToolChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ToolChoice == nil || req.ToolChoice.Type != "tool" || req.ToolChoice.Name != "record_analysis" {
			t.Errorf("tool_choice = %+v", req.ToolChoice)
		}
		json.NewEncoder(w).Encode(anthResponse{
			Content: []ContentBlock{
				{Type: "tool_use", ID: "tu_1", Name: "record_analysis",
					Input: map[string]interface{}{"summary": "2 devices out of sync"}},
			},
			StopReason: "tool_use",
		})
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "test-key"})
	c.SetBaseURL(srv.URL)

	raw, err := c.CompleteStructured(context.Background(),
		[]types.Message{{Role: "user", Content: "analyze"}},
		"record_analysis",
		map[string]interface{}{"type": "object"})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.Summary != "2 devices out of sync" {
		t.Errorf("summary = %q", out.Summary)
	}
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	out   string
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, toolName string, args map[string]interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, toolName)
	return r.out, r.err
}

// sseBody renders one streamed turn as Anthropic SSE events.
func sseBody(events ...string) string {
	out := ""
	for _, e := range events {
		out += e + "\n\n"
	}
	return out
}

func TestCompleteWithToolsLoop(t *testing.T) {
	turns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		turns++
		w.Header().Set("Content-Type", "text/event-stream")
		if turns == 1 {
			// First turn: the model calls a tool.
			fmt.Fprint(w, sseBody(
				`event: content_block_start`+"\n"+`data: {"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_1","name":"check_sync"}}`,
				`event: content_block_delta`+"\n"+`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"device\":\"r1\"}"}}`,
				`event: content_block_stop`+"\n"+`data: {"type":"content_block_stop"}`,
				`event: message_stop`+"\n"+`data: {"type":"message_stop"}`,
			))
			return
		}
		// Second turn: final text answer.
		fmt.Fprint(w, sseBody(
			`event: content_block_delta`+"\n"+`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Device r1 is in sync."}}`,
			`event: message_stop`+"\n"+`data: {"type":"message_stop"}`,
		))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "test-key"})
	c.SetBaseURL(srv.URL)

	exec := &recordingExecutor{out: `{"success": true, "in_sync": true}`}
	evtCh, err := c.CompleteWithTools(context.Background(),
		[]types.Message{{Role: "user", Content: "is r1 in sync?"}},
		[]types.Tool{{Name: "check_sync"}},
		exec, types.DefaultAgentConfig())
	if err != nil {
		t.Fatal(err)
	}

	var text string
	var toolPhases []string
	var done bool
	for evt := range evtCh {
		if evt.Err != nil {
			t.Fatal(evt.Err)
		}
		text += evt.TextToken
		if evt.ToolEvent != nil {
			toolPhases = append(toolPhases, evt.ToolEvent.Phase)
		}
		if evt.Done {
			done = true
		}
	}

	if !done {
		t.Error("loop did not signal Done")
	}
	if text != "Device r1 is in sync." {
		t.Errorf("text = %q", text)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "check_sync" {
		t.Errorf("executor calls = %v", exec.calls)
	}
	wantPhases := []string{"calling", "result"}
	if len(toolPhases) != 2 || toolPhases[0] != wantPhases[0] || toolPhases[1] != wantPhases[1] {
		t.Errorf("tool phases = %v", toolPhases)
	}
	if turns != 2 {
		t.Errorf("API turns = %d, want 2", turns)
	}
}

func TestCompleteWithToolsExecutorErrorFedBack(t *testing.T) {
	turns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		turns++
		w.Header().Set("Content-Type", "text/event-stream")
		if turns == 1 {
			fmt.Fprint(w, sseBody(
				`event: content_block_start`+"\n"+`data: {"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_1","name":"sync_device"}}`,
				`event: content_block_stop`+"\n"+`data: {"type":"content_block_stop"}`,
				`event: message_stop`+"\n"+`data: {"type":"message_stop"}`,
			))
			return
		}
		// Verify the tool failure text (not an exception) came back as result.
		var req anthRequest
		json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1]
		if last.Content[0].Type != "tool_result" {
			t.Errorf("last message = %+v", last)
		}
		fmt.Fprint(w, sseBody(
			`event: content_block_delta`+"\n"+`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"The sync failed."}}`,
			`event: message_stop`+"\n"+`data: {"type":"message_stop"}`,
		))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "test-key"})
	c.SetBaseURL(srv.URL)

	exec := &recordingExecutor{err: fmt.Errorf("NSO unreachable")}
	evtCh, err := c.CompleteWithTools(context.Background(),
		[]types.Message{{Role: "user", Content: "sync r1"}},
		[]types.Tool{{Name: "sync_device"}},
		exec, types.AgentConfig{MaxTurns: 3})
	if err != nil {
		t.Fatal(err)
	}

	var sawToolError bool
	for evt := range evtCh {
		if evt.Err != nil {
			t.Fatalf("loop error: %v", evt.Err)
		}
		if evt.ToolEvent != nil && evt.ToolEvent.Phase == "error" {
			sawToolError = true
		}
	}
	if !sawToolError {
		t.Error("expected a tool error event")
	}
}
