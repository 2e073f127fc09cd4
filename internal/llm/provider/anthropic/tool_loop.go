package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devnet-ops/compliance-ai/internal/llm/types"
	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// CompleteWithTools runs the multi-turn agentic loop over the streaming
// messages API. Each turn the model's tool_use blocks are executed and fed
// back as tool_result blocks on a user message, until a turn arrives with
// no tool calls. Text deltas stream to the channel as they are decoded.
func (c *Client) CompleteWithTools(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.AgentConfig) (<-chan types.AgentStreamEvent, error) {
	if executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg = types.DefaultAgentConfig()
	}

	evtCh := make(chan types.AgentStreamEvent, 64)
	go func() {
		defer close(evtCh)
		if err := c.runAgentLoop(ctx, messages, tools, executor, cfg, evtCh); err != nil {
			evtCh <- types.AgentStreamEvent{Err: err}
		}
	}()
	return evtCh, nil
}

func (c *Client) runAgentLoop(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.AgentConfig, evtCh chan<- types.AgentStreamEvent) error {
	system, filtered := extractSystem(messages)
	conv := convertMessages(filtered)
	anthTools := convertTools(types.CapToolsForAPI(tools))

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		assistant, err := c.streamTurn(ctx, anthRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			Messages:  conv,
			Tools:     anthTools,
			System:    system,
			Stream:    true,
		}, evtCh)
		if err != nil {
			return fmt.Errorf("turn %d: %w", turn, err)
		}

		calls := toolUseBlocks(assistant)
		if len(calls) == 0 {
			evtCh <- types.AgentStreamEvent{Done: true}
			return nil
		}

		conv = append(conv, anthMessage{Role: "assistant", Content: assistant})
		results, err := c.executeTools(ctx, calls, executor, cfg.ParallelTools, turn, evtCh)
		if err != nil {
			return err
		}
		conv = append(conv, anthMessage{Role: "user", Content: results})
	}

	return fmt.Errorf("agent loop exceeded max turns (%d)", cfg.MaxTurns)
}

// streamTurn makes one streaming call and reassembles the assistant message
// from SSE frames. Text deltas stream out immediately; a tool_use block's
// input arrives as partial JSON fragments and is decoded when the block
// closes. The reassembled blocks are what gets echoed back on the next
// request, so they must round-trip through the API schema.
func (c *Client) streamTurn(ctx context.Context, req anthRequest, evtCh chan<- types.AgentStreamEvent) ([]ContentBlock, error) {
	stream, err := c.openStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var (
		blocks []ContentBlock
		text   strings.Builder
		call   *ContentBlock // tool_use block under assembly
		input  strings.Builder
		name   string
	)

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	stop := false
	for !stop && scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			name = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			// Keep-alive and unknown frames.
			continue
		}

		switch name {
		case "content_block_start":
			if cb := ev.ContentBlock; cb != nil && cb.Type == "tool_use" {
				call = &ContentBlock{Type: "tool_use", ID: cb.ID, Name: cb.Name}
				input.Reset()
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			if ev.Delta.Text != "" {
				text.WriteString(ev.Delta.Text)
				select {
				case evtCh <- types.AgentStreamEvent{TextToken: ev.Delta.Text}:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if ev.Delta.PartialJSON != "" {
				input.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if call == nil {
				continue
			}
			if s := input.String(); s != "" {
				_ = json.Unmarshal([]byte(s), &call.Input)
			}
			blocks = append(blocks, *call)
			call = nil
		case "message_stop":
			stop = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	if text.Len() > 0 {
		blocks = append([]ContentBlock{{Type: "text", Text: text.String()}}, blocks...)
	}
	return blocks, nil
}

// openStream issues the streaming request and hands back the SSE body. The
// shared client carries a per-request timeout sized for one-shot calls,
// which would cut long streams short, so streams rely on ctx alone.
func (c *Client) openStream(ctx context.Context, req anthRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", DefaultAPIVersion)

	resp, err := (&http.Client{}).Do(httpReq)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("anthropic", c.model, "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.LLMRequestsTotal.WithLabelValues("anthropic", c.model, strconv.Itoa(resp.StatusCode)).Inc()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}
	metrics.LLMRequestsTotal.WithLabelValues("anthropic", c.model, "ok").Inc()
	return resp.Body, nil
}

func toolUseBlocks(blocks []ContentBlock) []ContentBlock {
	var calls []ContentBlock
	for _, b := range blocks {
		if b.Type == "tool_use" {
			calls = append(calls, b)
		}
	}
	return calls
}

func (c *Client) executeTools(ctx context.Context, calls []ContentBlock, executor types.ToolExecutor, parallel bool, turn int, evtCh chan<- types.AgentStreamEvent) ([]ContentBlock, error) {
	results := make([]ContentBlock, len(calls))

	if !parallel || len(calls) == 1 {
		for i, call := range calls {
			results[i] = c.executeSingleTool(ctx, call, executor, turn, evtCh)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ContentBlock) {
			defer wg.Done()
			results[i] = c.executeSingleTool(ctx, call, executor, turn, evtCh)
		}(i, call)
	}
	wg.Wait()
	return results, ctx.Err()
}

// executeSingleTool runs one tool_use block and returns the tool_result
// block to echo back. Executor failures become tool output, not loop
// errors; the model decides how to recover.
func (c *Client) executeSingleTool(ctx context.Context, call ContentBlock, executor types.ToolExecutor, turn int, evtCh chan<- types.AgentStreamEvent) ContentBlock {
	emit := func(evt types.AgentStreamEvent) {
		select {
		case evtCh <- evt:
		case <-ctx.Done():
		}
	}

	emit(types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
		Phase:     "calling",
		CallID:    call.ID,
		ToolName:  call.Name,
		Args:      call.Input,
		TurnIndex: turn,
	}})

	start := time.Now()
	result, err := executor.Execute(ctx, call.Name, call.Input)
	metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

	content := result
	if err != nil {
		content = fmt.Sprintf("Tool %q failed: %v", call.Name, err)
		metrics.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		emit(types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
			Phase:     "error",
			CallID:    call.ID,
			ToolName:  call.Name,
			Error:     content,
			TurnIndex: turn,
		}})
	} else {
		metrics.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
		emit(types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
			Phase:     "result",
			CallID:    call.ID,
			ToolName:  call.Name,
			Result:    result,
			TurnIndex: turn,
		}})
	}

	return ContentBlock{Type: "tool_result", ToolUseID: call.ID, Content: content}
}
