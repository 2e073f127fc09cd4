// Package session owns the per-conversation workflow record and the state
// machine that routes turns between free-form chat, report analysis, and
// remediation planning.
package session

import (
	"strconv"
	"time"
)

// TurnRole tags a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// Turn is one entry in a session's append-only conversation record.
type Turn struct {
	Role     TurnRole  `json:"role"`
	Content  string    `json:"content"`
	ToolName string    `json:"tool_name,omitempty"`
	At       time.Time `json:"at"`
}

// Violation is a single compliance finding. Produced by analysis, never
// mutated afterward.
type Violation struct {
	Device   string `json:"device"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Remediation item statuses.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
	StatusExecuted = "Executed"
)

// RemediationItem is one proposed corrective action with an approval
// lifecycle. Items are never deleted; a new analysis replaces the whole
// plan.
type RemediationItem struct {
	ID       int    `json:"id"`
	Critical bool   `json:"critical"`
	Action   string `json:"action"`
	Target   string `json:"target"`
	Details  string `json:"details"`
	Schedule string `json:"schedule"`
	Status   string `json:"status"`
}

// AnalysisResult is the structured output of one report analysis. It is
// folded into Session fields immediately and not retained.
type AnalysisResult struct {
	Summary             string            `json:"summary"`
	TotalDevices        int               `json:"total_devices"`
	CompliantDevices    int               `json:"compliant_devices"`
	NonCompliantDevices int               `json:"non_compliant_devices"`
	Violations          []Violation       `json:"violations"`
	RemediationItems    []RemediationItem `json:"remediation_items"`
}

// AnalysisSchema is the JSON schema handed to the model for structured
// analysis output.
func AnalysisSchema() map[string]interface{} {
	stringProp := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	intProp := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "integer", "description": desc}
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary":               stringProp("Executive summary of the compliance analysis"),
			"total_devices":         intProp("Total number of devices in the report"),
			"compliant_devices":     intProp("Number of compliant devices"),
			"non_compliant_devices": intProp("Number of non-compliant devices"),
			"violations": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"device":   stringProp("Device where the violation was found"),
						"rule":     stringProp("Compliance rule that was violated"),
						"severity": map[string]interface{}{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
						"message":  stringProp("Description of the violation"),
					},
					"required": []string{"device", "rule", "severity", "message"},
				},
			},
			"remediation_items": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":       intProp("Unique identifier within the plan"),
						"critical": map[string]interface{}{"type": "boolean"},
						"action":   map[string]interface{}{"type": "string", "enum": []string{"sync-to", "re-deploy", "apply-template"}},
						"target":   stringProp("Target device or resource"),
						"details":  stringProp("Action details, e.g. template name or service path"),
					},
					"required": []string{"id", "critical", "action", "target", "details"},
				},
			},
		},
		"required": []string{"summary", "total_devices", "compliant_devices", "non_compliant_devices", "violations", "remediation_items"},
	}
}

// Session is the per-key conversation and workflow record. Mutated only by
// the single worker holding the store lease for its key.
type Session struct {
	Key   string `json:"key"`
	Turns []Turn `json:"turns"`

	ReportID       string `json:"report_id,omitempty"`
	ReportURL      string `json:"report_url,omitempty"`
	ReportFilePath string `json:"report_file_path,omitempty"`
	ReportContent  string `json:"report_content,omitempty"`

	Summary                string            `json:"summary,omitempty"`
	RemediationPlan        []RemediationItem `json:"remediation_plan,omitempty"`
	RemediationPlanEncoded string            `json:"remediation_plan_encoded,omitempty"`
	PendingConfirmation    bool              `json:"pending_confirmation"`
	AnalysisComplete       bool              `json:"analysis_complete"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds a turn to the conversation record.
func (s *Session) Append(role TurnRole, content string) {
	now := time.Now().UTC()
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, At: now})
	s.UpdatedAt = now
}

// AppendToolResult records a tool invocation's output.
func (s *Session) AppendToolResult(toolName, content string) {
	now := time.Now().UTC()
	s.Turns = append(s.Turns, Turn{Role: RoleTool, ToolName: toolName, Content: content, At: now})
	s.UpdatedAt = now
}

// ApplyAnalysis folds a structured analysis result into the session.
// Schedule defaults from criticality when the model leaves it blank, and
// every new item starts out pending. The analysis is considered complete
// only once a non-empty plan exists.
func (s *Session) ApplyAnalysis(res *AnalysisResult) {
	s.Summary = res.Summary

	items := make([]RemediationItem, len(res.RemediationItems))
	for i, item := range res.RemediationItems {
		if item.Schedule == "" {
			if item.Critical {
				item.Schedule = "Immediate"
			} else {
				item.Schedule = "Scheduled"
			}
		}
		if item.Status == "" {
			item.Status = StatusPending
		}
		items[i] = item
	}
	s.RemediationPlan = items
	s.AnalysisComplete = len(items) > 0
	s.UpdatedAt = time.Now().UTC()
}

// ApplyBatchOutcome folds a batch execution result back onto the plan. The
// confirmation is consumed the moment a dispatch went out, whatever its
// outcome. Per item: a tagged successful action becomes executed, a tagged
// failed action stays approved (it was dispatched with consent and can be
// re-sent), and a still-pending item absent from the dispatched set was
// left out by the user, which is a rejection.
func (s *Session) ApplyBatchOutcome(result map[string]interface{}) {
	s.PendingConfirmation = false

	dispatched := make(map[int]bool)
	raw, _ := result["results"].([]interface{})
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := actionID(m["id"])
		if !ok {
			continue
		}
		dispatched[id] = true
		success, _ := m["success"].(bool)
		for i := range s.RemediationPlan {
			if s.RemediationPlan[i].ID != id {
				continue
			}
			if success {
				s.RemediationPlan[i].Status = StatusExecuted
			} else {
				s.RemediationPlan[i].Status = StatusApproved
			}
		}
	}

	for i := range s.RemediationPlan {
		if !dispatched[s.RemediationPlan[i].ID] && s.RemediationPlan[i].Status == StatusPending {
			s.RemediationPlan[i].Status = StatusRejected
		}
	}
	s.UpdatedAt = time.Now().UTC()
}

// ApplyScheduleOutcome marks the plan as handed off to the workflow engine:
// the confirmation is consumed and pending items become approved. They are
// executed later, on the workflow's schedule, not here.
func (s *Session) ApplyScheduleOutcome() {
	s.PendingConfirmation = false
	for i := range s.RemediationPlan {
		if s.RemediationPlan[i].Status == StatusPending {
			s.RemediationPlan[i].Status = StatusApproved
		}
	}
	s.UpdatedAt = time.Now().UTC()
}

func actionID(v interface{}) (int, bool) {
	switch id := v.(type) {
	case float64:
		return int(id), true
	case int:
		return id, true
	case string:
		n, err := strconv.Atoi(id)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
