package session

import "strconv"

// State names one stage of the per-turn state machine.
type State string

const (
	StateChat         State = "chat"
	StateAwaitingTool State = "awaiting-tool"
	StateAnalyze      State = "analyze"
	StatePlan         State = "plan"
)

// Event carries the facts a transition decision depends on. Exactly the
// fields relevant to the current state are consulted.
type Event struct {
	// ToolCallRequested is set when the model's output asked for one or
	// more tool invocations.
	ToolCallRequested bool

	// ToolResult is the most recent tool result after normalization, nil
	// when normalization failed.
	ToolResult map[string]interface{}

	// AnalysisComplete mirrors the session flag at decision time.
	AnalysisComplete bool

	// PhaseDone is set when the current phase produced its output.
	PhaseDone bool
}

// Transition is the pure state-transition function. It never mutates the
// session; callers apply side effects per the state they land in.
func Transition(state State, ev Event) State {
	switch state {
	case StateChat:
		if ev.ToolCallRequested {
			return StateAwaitingTool
		}
		return StateChat
	case StateAwaitingTool:
		if ShouldAnalyze(ev.ToolResult, ev.AnalysisComplete) {
			return StateAnalyze
		}
		return StateChat
	case StateAnalyze:
		// Unconditional: plan turns the analysis outcome, success or the
		// no-report-found message, into the user-facing reply.
		return StatePlan
	case StatePlan:
		if ev.ToolCallRequested {
			return StateAwaitingTool
		}
		return StateChat
	default:
		return StateChat
	}
}

// ShouldAnalyze decides whether a normalized tool result triggers the
// analyze phase: the result parsed, reported success, references a report
// artifact, and the session has not already analyzed one. Re-running a
// report fetch after analysis completed must not re-trigger analysis.
func ShouldAnalyze(result map[string]interface{}, analysisComplete bool) bool {
	if result == nil || analysisComplete {
		return false
	}
	if ok, isBool := result["success"].(bool); !isBool || !ok {
		return false
	}
	return hasReportRef(result)
}

func hasReportRef(result map[string]interface{}) bool {
	for _, key := range []string{"report_id", "report_url", "content"} {
		if v, ok := result[key]; ok && v != nil {
			if s, isStr := v.(string); isStr && s == "" {
				continue
			}
			return true
		}
	}
	return false
}

// ArtifactFields copies any report references from a normalized tool result
// onto the session so the analyze phase can locate the artifact.
func ArtifactFields(sess *Session, result map[string]interface{}) {
	if v, ok := result["report_id"].(string); ok && v != "" {
		sess.ReportID = v
	}
	// Some connectors return numeric ids.
	if v, ok := result["report_id"].(float64); ok {
		sess.ReportID = formatReportID(v)
	}
	if v, ok := result["report_url"].(string); ok && v != "" {
		sess.ReportURL = v
	}
	if v, ok := result["location"].(string); ok && v != "" && sess.ReportURL == "" {
		sess.ReportURL = v
	}
	if v, ok := result["file_path"].(string); ok && v != "" {
		sess.ReportFilePath = v
	}
	if v, ok := result["content"].(string); ok && v != "" {
		sess.ReportContent = v
	}
}

func formatReportID(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}
