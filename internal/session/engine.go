package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/llm/adapter"
	"github.com/devnet-ops/compliance-ai/internal/llm/types"
	"github.com/devnet-ops/compliance-ai/internal/metrics"
	"github.com/devnet-ops/compliance-ai/internal/toolresult"
)

const turnWarning = "Something went wrong while processing that request. The session is intact, please try again."

// Engine runs session turns: chat with tool dispatch, then routing into
// analyze and plan when a tool result carries a fresh report artifact.
// One Engine serves all sessions; per-key serialization lives in the Store.
type Engine struct {
	store    *Store
	llm      adapter.LLMAdapter
	tools    []types.Tool
	executor types.ToolExecutor
	analyzer *Analyzer
	planner  *Planner
	log      *zap.Logger

	turnTimeout time.Duration
	agentCfg    types.AgentConfig
}

// EngineOptions configures turn processing.
type EngineOptions struct {
	TurnTimeout time.Duration
	AgentConfig types.AgentConfig
}

// NewEngine wires the session engine.
func NewEngine(store *Store, llm adapter.LLMAdapter, tools []types.Tool, executor types.ToolExecutor, analyzer *Analyzer, planner *Planner, log *zap.Logger, opts EngineOptions) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.AgentConfig.MaxTurns <= 0 {
		opts.AgentConfig = types.DefaultAgentConfig()
	}
	return &Engine{
		store:       store,
		llm:         llm,
		tools:       tools,
		executor:    executor,
		analyzer:    analyzer,
		planner:     planner,
		log:         log,
		turnTimeout: opts.TurnTimeout,
		agentCfg:    opts.AgentConfig,
	}
}

// SubmitTurn processes one user turn and returns the complete assistant
// reply. Blocking variant of StreamTurn.
func (e *Engine) SubmitTurn(ctx context.Context, key, userText string) (string, error) {
	var reply strings.Builder
	for ev := range e.StreamTurn(ctx, key, userText) {
		if ev.Status == StatusStreaming || ev.Status == StatusError {
			reply.WriteString(ev.Text)
		}
	}
	return reply.String(), nil
}

// StreamTurn processes one user turn, emitting phase-tagged events as the
// reply is produced. The channel is closed when the turn completes; a
// transport-level failure surfaces as a single error-status event and the
// session remains usable.
func (e *Engine) StreamTurn(ctx context.Context, key, userText string) <-chan StreamEvent {
	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		sess, release := e.store.Acquire(key)
		defer release()

		if e.turnTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.turnTimeout)
			defer cancel()
		}
		e.runTurn(ctx, sess, userText, func(ev StreamEvent) { out <- ev })
	}()
	return out
}

func (e *Engine) runTurn(ctx context.Context, sess *Session, userText string, emit func(StreamEvent)) {
	start := time.Now()
	status := "ok"
	terminal := StateChat
	defer func() {
		metrics.SessionTurnsTotal.WithLabelValues(string(terminal), status).Inc()
		metrics.PhaseDuration.WithLabelValues(string(terminal)).Observe(time.Since(start).Seconds())
	}()

	sess.Append(RoleUser, userText)

	emit(StreamEvent{Phase: string(StateChat), Status: StatusStart})
	chatText, toolResults, err := e.chatPhase(ctx, sess, emit)
	if err != nil {
		// Caught at the phase boundary: one warning line, session stays in
		// chat for the next turn.
		e.log.Warn("chat phase failed", zap.String("session", sess.Key), zap.Error(err))
		status = "error"
		emit(StreamEvent{Phase: string(StateChat), Status: StatusError, Text: turnWarning})
		sess.Append(RoleAssistant, turnWarning)
		return
	}
	emit(StreamEvent{Phase: string(StateChat), Status: StatusEnd})

	e.applyExecutionOutcomes(sess, toolResults)

	reply := chatText
	result, route := e.routeToAnalyze(sess, toolResults)
	if !route && len(toolResults) == 0 && !sess.AnalysisComplete && wantsAnalysis(userText) {
		// Explicit analyze request with nothing fetched this turn: the
		// analyzer falls back to in-session references and prior user text.
		route = true
	}
	if route {
		if result != nil {
			ArtifactFields(sess, result)
		}
		phaseText, errored := e.analyzeAndPlan(ctx, sess, emit)
		if errored {
			terminal, status = StateAnalyze, "error"
		} else {
			terminal = StatePlan
		}
		if phaseText != "" {
			if reply != "" {
				reply += "\n\n"
			}
			reply += phaseText
			if !errored {
				emit(StreamEvent{Phase: string(StatePlan), Status: StatusStreaming, Text: phaseText})
			}
		}
	}

	if reply == "" {
		reply = "No response."
	}
	sess.Append(RoleAssistant, reply)
}

// chatPhase runs the tool-calling loop and collects tool results for
// routing. Tool failures are fed back to the model by the provider loop;
// only transport failures surface here.
func (e *Engine) chatPhase(ctx context.Context, sess *Session, emit func(StreamEvent)) (string, []toolOutcome, error) {
	evtCh, err := e.llm.CompleteWithTools(ctx, e.conversation(sess), e.tools, e.executor, e.agentCfg)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var results []toolOutcome
	for ev := range evtCh {
		if ev.Err != nil {
			return "", nil, ev.Err
		}
		if ev.TextToken != "" {
			text.WriteString(ev.TextToken)
			emit(StreamEvent{Phase: string(StateChat), Status: StatusStreaming, Text: ev.TextToken})
		}
		if te := ev.ToolEvent; te != nil {
			switch te.Phase {
			case "calling":
				emit(StreamEvent{Phase: "tools", Status: StatusStart, Text: "Calling tool: " + te.ToolName})
			case "result":
				sess.AppendToolResult(te.ToolName, te.Result)
				results = append(results, toolOutcome{name: te.ToolName, raw: te.Result})
				emit(StreamEvent{Phase: "tools", Status: StatusEnd, Text: te.ToolName})
			case "error":
				sess.AppendToolResult(te.ToolName, te.Error)
				emit(StreamEvent{Phase: "tools", Status: StatusEnd, Text: te.ToolName})
			}
		}
	}
	return text.String(), results, nil
}

type toolOutcome struct {
	name string
	raw  string
}

// applyExecutionOutcomes folds dispatch results back onto the plan. Once an
// execution or schedule call has gone out the confirmation is consumed, and
// item statuses follow the tagged per-action results.
func (e *Engine) applyExecutionOutcomes(sess *Session, results []toolOutcome) {
	if len(sess.RemediationPlan) == 0 {
		return
	}
	for _, r := range results {
		switch r.name {
		case "execute_remediation_plan":
			m, ok := toolresult.Normalize(r.raw)
			if !ok {
				continue
			}
			sess.ApplyBatchOutcome(m)
			e.log.Info("batch outcome applied",
				zap.String("session", sess.Key),
				zap.Bool("pending_confirmation", sess.PendingConfirmation))
		case "execute_cwm_workflow":
			m, ok := toolresult.Normalize(r.raw)
			if !ok {
				continue
			}
			if success, _ := m["success"].(bool); success {
				sess.ApplyScheduleOutcome()
				e.log.Info("plan handed off to workflow engine", zap.String("session", sess.Key))
			}
		}
	}
}

// routeToAnalyze checks tool results, most recent first, against the
// analyze condition.
func (e *Engine) routeToAnalyze(sess *Session, results []toolOutcome) (map[string]interface{}, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		normalized, ok := toolresult.Normalize(results[i].raw)
		if !ok {
			e.log.Debug("tool result not normalizable",
				zap.String("tool", results[i].name),
				zap.String("raw", toolresult.Truncate(results[i].raw)))
			continue
		}
		next := Transition(StateAwaitingTool, Event{
			ToolResult:       normalized,
			AnalysisComplete: sess.AnalysisComplete,
		})
		if next == StateAnalyze {
			return normalized, true
		}
	}
	return nil, false
}

// analyzeAndPlan runs the analyze phase and, unconditionally after it, the
// plan phase. Failures degrade to a warning and the table of whatever
// state the session already holds.
func (e *Engine) analyzeAndPlan(ctx context.Context, sess *Session, emit func(StreamEvent)) (string, bool) {
	emit(StreamEvent{Phase: string(StateAnalyze), Status: StatusStart})
	summary, err := e.analyzer.Run(ctx, sess)
	if err != nil {
		e.log.Warn("analyze phase failed", zap.String("session", sess.Key), zap.Error(err))
		emit(StreamEvent{Phase: string(StateAnalyze), Status: StatusError, Text: turnWarning})
		return turnWarning, true
	}
	emit(StreamEvent{Phase: string(StateAnalyze), Status: StatusEnd})

	emit(StreamEvent{Phase: string(StatePlan), Status: StatusStart})
	planText := e.planner.Run(sess)
	emit(StreamEvent{Phase: string(StatePlan), Status: StatusEnd})

	if !sess.AnalysisComplete {
		// No plan to render: the analyzer's guidance (or summary) is the
		// user-facing message.
		if summary != "" {
			return summary, false
		}
	}
	if planText == "" {
		return summary, false
	}
	return planText, false
}

func wantsAnalysis(userText string) bool {
	lower := strings.ToLower(userText)
	return strings.Contains(lower, "analyze") || strings.Contains(lower, "analyse") || strings.Contains(lower, "analysis")
}

// conversation builds the model message list from the session record. Tool
// turns are elided: within a turn the provider loop carries tool results
// itself, and across turns the analysis fields hold what matters.
func (e *Engine) conversation(sess *Session) []types.Message {
	msgs := make([]types.Message, 0, len(sess.Turns)+1)
	msgs = append(msgs, types.Message{Role: "system", Content: SystemPrompt})
	for _, turn := range sess.Turns {
		switch turn.Role {
		case RoleUser:
			msgs = append(msgs, types.Message{Role: "user", Content: turn.Content})
		case RoleAssistant:
			msgs = append(msgs, types.Message{Role: "assistant", Content: turn.Content})
		}
	}
	return msgs
}
