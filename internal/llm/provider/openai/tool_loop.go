package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devnet-ops/compliance-ai/internal/llm/types"
	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// CompleteWithTools runs a multi-turn agentic loop: the model is called,
// any tool calls it makes are executed, and their results are fed back as
// tool messages until the model produces a final text answer. Gateways
// fronted by this provider do not all support SSE tool deltas, so the loop
// works on complete responses and emits whole assistant messages as text
// events.
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
	conv := convertMessages(messages)
	oaTools := convertTools(types.CapToolsForAPI(tools))

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.makeRequest(ctx, oaChatRequest{
			Model:     c.model,
			Messages:  conv,
			Tools:     oaTools,
			MaxTokens: c.maxTokens,
		})
		if err != nil {
			return fmt.Errorf("turn %d: %w", turn, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("turn %d: no choices in response", turn)
		}
		msg := resp.Choices[0].Message

		if msg.Content != "" {
			evtCh <- types.AgentStreamEvent{TextToken: msg.Content}
		}

		if len(msg.ToolCalls) == 0 {
			evtCh <- types.AgentStreamEvent{Done: true}
			return nil
		}

		conv = append(conv, oaMessage{
			Role:      "assistant",
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})

		results, err := c.executeTools(ctx, msg.ToolCalls, executor, cfg.ParallelTools, turn, evtCh)
		if err != nil {
			return err
		}
		conv = append(conv, results...)
	}

	return fmt.Errorf("agent loop exceeded max turns (%d)", cfg.MaxTurns)
}

func (c *Client) executeTools(ctx context.Context, calls []oaToolCall, executor types.ToolExecutor, parallel bool, turn int, evtCh chan<- types.AgentStreamEvent) ([]oaMessage, error) {
	results := make([]oaMessage, len(calls))

	if !parallel || len(calls) == 1 {
		for i, call := range calls {
			msg, err := c.executeSingleTool(ctx, call, executor, turn, evtCh)
			if err != nil {
				return nil, err
			}
			results[i] = msg
		}
		return results, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call oaToolCall) {
			defer wg.Done()
			msg, err := c.executeSingleTool(ctx, call, executor, turn, evtCh)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
				return
			}
			results[i] = msg
		}(i, call)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (c *Client) executeSingleTool(ctx context.Context, call oaToolCall, executor types.ToolExecutor, turn int, evtCh chan<- types.AgentStreamEvent) (oaMessage, error) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		args = map[string]interface{}{}
	}

	evtCh <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
		Phase:     "calling",
		CallID:    call.ID,
		ToolName:  call.Function.Name,
		Args:      args,
		TurnIndex: turn,
	}}

	start := time.Now()
	result, err := executor.Execute(ctx, call.Function.Name, args)
	metrics.ToolDuration.WithLabelValues(call.Function.Name).Observe(time.Since(start).Seconds())

	content := result
	if err != nil {
		// Executor failures go back to the model as tool output, not as
		// fatal loop errors. The model decides how to recover.
		content = fmt.Sprintf("Tool %q failed: %v", call.Function.Name, err)
		metrics.ToolCalls.WithLabelValues(call.Function.Name, "error").Inc()
		evtCh <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
			Phase:     "error",
			CallID:    call.ID,
			ToolName:  call.Function.Name,
			Error:     err.Error(),
			TurnIndex: turn,
		}}
	} else {
		metrics.ToolCalls.WithLabelValues(call.Function.Name, "ok").Inc()
		evtCh <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
			Phase:     "result",
			CallID:    call.ID,
			ToolName:  call.Function.Name,
			Result:    result,
			TurnIndex: turn,
		}}
	}

	return oaMessage{
		Role:       "tool",
		Content:    content,
		ToolCallID: call.ID,
	}, nil
}
