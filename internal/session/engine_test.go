package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devnet-ops/compliance-ai/internal/llm/types"
	"github.com/devnet-ops/compliance-ai/internal/metrics"
	"github.com/devnet-ops/compliance-ai/internal/report"
)

// fakeLLM scripts both the chat loop and the structured analysis call.
type fakeLLM struct {
	chatText   string
	toolName   string // tool dispatched when toolResult is set; defaults to fetch_report
	toolResult string
	structured json.RawMessage
	structErr  error
}

func (f *fakeLLM) Complete(context.Context, []types.Message, []types.Tool) (*types.CompletionResponse, error) {
	return &types.CompletionResponse{Content: f.chatText}, nil
}

func (f *fakeLLM) CompleteStructured(context.Context, []types.Message, string, map[string]interface{}) (json.RawMessage, error) {
	return f.structured, f.structErr
}

func (f *fakeLLM) CompleteWithTools(ctx context.Context, _ []types.Message, _ []types.Tool, executor types.ToolExecutor, _ types.AgentConfig) (<-chan types.AgentStreamEvent, error) {
	ch := make(chan types.AgentStreamEvent, 8)
	go func() {
		defer close(ch)
		if f.toolResult != "" {
			name := f.toolName
			if name == "" {
				name = "fetch_report"
			}
			ch <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{Phase: "calling", ToolName: name}}
			result, err := executor.Execute(ctx, name, map[string]interface{}{})
			if err != nil {
				ch <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{Phase: "error", ToolName: name, Error: err.Error()}}
			} else {
				ch <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{Phase: "result", ToolName: name, Result: result}}
			}
		}
		if f.chatText != "" {
			ch <- types.AgentStreamEvent{TextToken: f.chatText}
		}
		ch <- types.AgentStreamEvent{Done: true}
	}()
	return ch, nil
}

func (f *fakeLLM) Name() string  { return "fake" }
func (f *fakeLLM) Model() string { return "fake-1" }

type scriptedExecutor struct {
	result string
}

func (s *scriptedExecutor) Execute(context.Context, string, map[string]interface{}) (string, error) {
	return s.result, nil
}

type failingResolver struct {
	refs []string
}

func (r *failingResolver) Resolve(_ context.Context, ref string) (string, string, error) {
	r.refs = append(r.refs, ref)
	return "", "", fmt.Errorf("report %q not found", ref)
}

type contentResolver struct {
	content string
}

func (r *contentResolver) Resolve(context.Context, string) (string, string, error) {
	return "", r.content, nil
}

func newEngine(t *testing.T, llm *fakeLLM, resolver ArtifactResolver, toolResult string) (*Engine, *Store) {
	t.Helper()
	store := NewStore()
	analyzer := NewAnalyzer(llm, resolver, report.NewNormalizer(nil), nil)
	eng := NewEngine(store, llm, nil, &scriptedExecutor{result: toolResult}, analyzer, NewPlanner(nil), nil, EngineOptions{})
	return eng, store
}

func analysisJSON(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(AnalysisResult{
		Summary:             "1 of 3 devices non-compliant.",
		TotalDevices:        3,
		CompliantDevices:    2,
		NonCompliantDevices: 1,
		Violations: []Violation{
			{Device: "Core-R01", Rule: "ospf-auth", Severity: "critical", Message: "OSPF authentication missing"},
		},
		RemediationItems: []RemediationItem{
			{ID: 1, Critical: true, Action: "apply-template", Target: "Core-R01", Details: "Template: 'OSPF_Auth'"},
		},
	})
	require.NoError(t, err)
	return data
}

func TestTurnWithoutReportStaysInChat(t *testing.T) {
	llm := &fakeLLM{chatText: "Hello, how can I help?"}
	eng, store := newEngine(t, llm, &failingResolver{}, "")

	reply, err := eng.SubmitTurn(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello, how can I help?", reply)

	sess, ok := store.Peek("s1")
	require.True(t, ok)
	assert.False(t, sess.AnalysisComplete)
	assert.Len(t, sess.Turns, 2)
}

func TestToolResultRoutesToAnalyzeAndPlan(t *testing.T) {
	toolResult := `{"success": True, "report_id": "5", "location": "http://nso/report_5.html"}`
	llm := &fakeLLM{toolResult: toolResult, structured: analysisJSON(t)}
	eng, store := newEngine(t, llm, &contentResolver{content: "Device Core-R01 violation: out-of-sync"}, toolResult)

	reply, err := eng.SubmitTurn(context.Background(), "s1", "run the weekly audit")
	require.NoError(t, err)
	assert.Contains(t, reply, "| 1 | Yes | apply-template | Core-R01 |")
	assert.Contains(t, reply, "approve")

	sess, _ := store.Peek("s1")
	assert.True(t, sess.AnalysisComplete)
	assert.True(t, sess.PendingConfirmation)
	assert.Equal(t, "5", sess.ReportID)
	assert.NotEmpty(t, sess.RemediationPlanEncoded)
}

func TestCompletedAnalysisDoesNotRetrigger(t *testing.T) {
	toolResult := `{"success": true, "report_id": "5"}`
	llm := &fakeLLM{chatText: "Report fetched again.", toolResult: toolResult, structured: analysisJSON(t)}
	eng, store := newEngine(t, llm, &contentResolver{content: "x"}, toolResult)

	_, err := eng.SubmitTurn(context.Background(), "s1", "run it")
	require.NoError(t, err)
	sess, _ := store.Peek("s1")
	require.True(t, sess.AnalysisComplete)
	planBefore := sess.RemediationPlanEncoded

	reply, err := eng.SubmitTurn(context.Background(), "s1", "fetch the report once more")
	require.NoError(t, err)
	assert.NotContains(t, reply, "| # | Critical |", "no fresh plan table on re-fetch")

	sess, _ = store.Peek("s1")
	assert.Equal(t, planBefore, sess.RemediationPlanEncoded)
}

func seedConfirmedPlan(t *testing.T, store *Store, key string) {
	t.Helper()
	sess, release := store.Acquire(key)
	sess.AnalysisComplete = true
	sess.PendingConfirmation = true
	sess.RemediationPlan = []RemediationItem{
		{ID: 1, Critical: true, Action: "apply-template", Target: "Core-R01", Status: StatusPending},
		{ID: 2, Action: "sync-to", Target: "Edge-R02", Status: StatusPending},
		{ID: 3, Action: "re-deploy", Target: "Edge-R03", Status: StatusPending},
	}
	release()
}

func TestBatchExecutionConsumesConfirmation(t *testing.T) {
	batchResult := `{"success": false, "total_actions": 2, "results": [{"id": 1, "success": true}, {"id": 2, "success": false, "error": "device locked"}]}`
	llm := &fakeLLM{chatText: "Executed the approved actions.", toolName: "execute_remediation_plan", toolResult: batchResult}
	eng, store := newEngine(t, llm, &failingResolver{}, batchResult)
	seedConfirmedPlan(t, store, "s1")

	_, err := eng.SubmitTurn(context.Background(), "s1", "yes, execute items 1 and 2")
	require.NoError(t, err)

	sess, _ := store.Peek("s1")
	assert.False(t, sess.PendingConfirmation, "confirmation consumed by the dispatch")
	assert.Equal(t, StatusExecuted, sess.RemediationPlan[0].Status)
	assert.Equal(t, StatusApproved, sess.RemediationPlan[1].Status, "dispatched but failed actions stay approved")
	assert.Equal(t, StatusRejected, sess.RemediationPlan[2].Status, "items left out of the dispatch were declined")
}

func TestWorkflowScheduleConsumesConfirmation(t *testing.T) {
	scheduleResult := `{"success": true, "job_id": "wf-42", "status": "scheduled"}`
	llm := &fakeLLM{chatText: "Scheduled for tonight.", toolName: "execute_cwm_workflow", toolResult: scheduleResult}
	eng, store := newEngine(t, llm, &failingResolver{}, scheduleResult)
	seedConfirmedPlan(t, store, "s1")

	_, err := eng.SubmitTurn(context.Background(), "s1", "schedule the whole plan for tonight")
	require.NoError(t, err)

	sess, _ := store.Peek("s1")
	assert.False(t, sess.PendingConfirmation)
	for _, item := range sess.RemediationPlan {
		assert.Equal(t, StatusApproved, item.Status)
	}
}

func TestFailedWorkflowScheduleKeepsConfirmation(t *testing.T) {
	scheduleResult := `{"success": false, "error": "workflow engine unreachable"}`
	llm := &fakeLLM{chatText: "Scheduling failed.", toolName: "execute_cwm_workflow", toolResult: scheduleResult}
	eng, store := newEngine(t, llm, &failingResolver{}, scheduleResult)
	seedConfirmedPlan(t, store, "s1")

	_, err := eng.SubmitTurn(context.Background(), "s1", "schedule it")
	require.NoError(t, err)

	sess, _ := store.Peek("s1")
	assert.True(t, sess.PendingConfirmation, "nothing was handed off, approval still open")
	assert.Equal(t, StatusPending, sess.RemediationPlan[0].Status)
}

func TestAnalyzeReportByUserReference(t *testing.T) {
	resolver := &failingResolver{}
	llm := &fakeLLM{}
	eng, store := newEngine(t, llm, resolver, "")

	reply, err := eng.SubmitTurn(context.Background(), "s1", "analyze report 5")
	require.NoError(t, err)

	require.Equal(t, []string{"5"}, resolver.refs, "numeric reference scanned from user text")
	assert.Contains(t, reply, "Run a compliance report first")
	assert.Contains(t, reply, "report id")

	sess, _ := store.Peek("s1")
	assert.False(t, sess.AnalysisComplete)
}

func TestAnalysisFailureFallsBackToChatWarning(t *testing.T) {
	llm := &fakeLLM{structErr: fmt.Errorf("model unavailable")}
	eng, store := newEngine(t, llm, &contentResolver{content: "report body"}, "")

	sess, release := store.Acquire("s1")
	sess.ReportContent = "report body"
	release()

	reply, err := eng.SubmitTurn(context.Background(), "s1", "analyze the report")
	require.NoError(t, err)
	assert.Contains(t, reply, "Something went wrong")
	assert.NotContains(t, reply, "model unavailable", "internal errors are not exposed verbatim")

	sess2, _ := store.Peek("s1")
	assert.False(t, sess2.AnalysisComplete)
	assert.Len(t, sess2.Turns, 2, "session remains usable")
}

func TestStreamTurnEmitsPhaseEvents(t *testing.T) {
	toolResult := `{"success": true, "report_id": "5"}`
	llm := &fakeLLM{toolResult: toolResult, structured: analysisJSON(t)}
	eng, _ := newEngine(t, llm, &contentResolver{content: "body"}, toolResult)

	var phases []string
	var text strings.Builder
	for ev := range eng.StreamTurn(context.Background(), "s1", "run the audit") {
		phases = append(phases, ev.Phase+":"+ev.Status)
		if ev.Status == StatusStreaming {
			text.WriteString(ev.Text)
		}
	}

	joined := strings.Join(phases, " ")
	assert.Contains(t, joined, "chat:start")
	assert.Contains(t, joined, "tools:start")
	assert.Contains(t, joined, "analyze:start")
	assert.Contains(t, joined, "analyze:end")
	assert.Contains(t, joined, "plan:end")
	assert.Contains(t, text.String(), "apply-template")
}

func TestTurnCounterLabelsTerminalPhase(t *testing.T) {
	toolResult := `{"success": true, "report_id": "5"}`
	llm := &fakeLLM{toolResult: toolResult, structured: analysisJSON(t)}
	eng, _ := newEngine(t, llm, &contentResolver{content: "body"}, toolResult)

	chatBefore := testutil.ToFloat64(metrics.SessionTurnsTotal.WithLabelValues(string(StateChat), "ok"))
	planBefore := testutil.ToFloat64(metrics.SessionTurnsTotal.WithLabelValues(string(StatePlan), "ok"))

	_, err := eng.SubmitTurn(context.Background(), "s1", "run the audit")
	require.NoError(t, err)

	assert.Equal(t, chatBefore, testutil.ToFloat64(metrics.SessionTurnsTotal.WithLabelValues(string(StateChat), "ok")),
		"turn that reached planning is not counted as chat")
	assert.Equal(t, planBefore+1, testutil.ToFloat64(metrics.SessionTurnsTotal.WithLabelValues(string(StatePlan), "ok")))
}

func TestStoreSerializesSameKey(t *testing.T) {
	store := NewStore()
	var order []int
	var mu sync.Mutex

	sess, release := store.Acquire("s1")
	_ = sess

	done := make(chan struct{})
	go func() {
		s2, rel2 := store.Acquire("s1")
		_ = s2
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		rel2()
		close(done)
	}()

	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	release()
	<-done

	assert.Equal(t, []int{1, 2}, order, "second turn waits for the first to release")
	assert.Equal(t, 1, store.Len())
}
