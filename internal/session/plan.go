package session

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// Planner renders the remediation plan deterministically: a markdown table
// for the user and, in parallel, the execution-action JSON handed to the
// batch executor once the user confirms. No model call is involved.
type Planner struct {
	log *zap.Logger
}

// NewPlanner creates the plan phase.
func NewPlanner(log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{log: log}
}

// Run produces the plan-phase output for sess. A non-empty, analyzed plan
// yields the table plus a confirmation request and sets
// pendingConfirmation; otherwise the current summary or a placeholder is
// returned with confirmation cleared.
func (p *Planner) Run(sess *Session) string {
	start := time.Now()
	defer func() {
		metrics.PhaseDuration.WithLabelValues(string(StatePlan)).Observe(time.Since(start).Seconds())
	}()

	if !sess.AnalysisComplete || len(sess.RemediationPlan) == 0 {
		sess.PendingConfirmation = false
		if sess.Summary != "" {
			return sess.Summary
		}
		return "The compliance analysis is still pending. Run a report and I will build a remediation plan from it."
	}

	encoded, err := encodePlanActions(sess.RemediationPlan)
	if err != nil {
		// Only reachable if an item holds an unencodable value, which the
		// schema rules out. Degrade to the summary rather than fail the turn.
		p.log.Error("failed to encode remediation plan", zap.Error(err))
		sess.PendingConfirmation = false
		return sess.Summary
	}
	sess.RemediationPlanEncoded = encoded
	sess.PendingConfirmation = true

	var b strings.Builder
	if sess.Summary != "" {
		b.WriteString(sess.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString(renderPlanTable(sess.RemediationPlan))
	b.WriteString("\n\nReview the plan above. Tell me which items to approve and whether to run them immediately or on a schedule.")
	return b.String()
}

func renderPlanTable(items []RemediationItem) string {
	var b strings.Builder
	b.WriteString("| # | Critical | Action | Target | Details | Schedule | Status |\n")
	b.WriteString("|---|----------|--------|--------|---------|----------|--------|\n")
	for _, item := range items {
		critical := "No"
		if item.Critical {
			critical = "Yes"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %s |\n",
			item.ID, critical, item.Action, item.Target, item.Details, item.Schedule, item.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// encodePlanActions builds the execution JSON, one entry per item, shaped
// by action kind.
func encodePlanActions(items []RemediationItem) (string, error) {
	actions := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		actions = append(actions, planActionEntry(item))
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func planActionEntry(item RemediationItem) map[string]interface{} {
	entry := map[string]interface{}{
		"id":     item.ID,
		"action": item.Action,
	}
	switch item.Action {
	case "re-deploy":
		serviceType, instance := splitServicePath(item.Details, item.Target)
		entry["service_type"] = serviceType
		entry["service_instance"] = instance
	case "apply-template":
		entry["template_name"] = templateNameFromDetails(item.Details)
		entry["target"] = map[string]interface{}{"device_name": item.Target}
	default: // sync-to and anything else targeting a device
		entry["target"] = map[string]interface{}{"device_name": item.Target}
	}
	return entry
}

// splitServicePath splits a service path on its last separator into
// service type and instance. Details without a separator are taken as the
// service type with the item's target as the instance.
func splitServicePath(details, target string) (serviceType, instance string) {
	if idx := strings.LastIndex(details, "/"); idx >= 0 {
		return details[:idx], details[idx+1:]
	}
	return details, target
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// templateNameFromDetails pulls the template name out of a details string
// like "Template: 'OSPF_Auth'", falling back to the raw details.
func templateNameFromDetails(details string) string {
	if m := quotedName.FindStringSubmatch(details); m != nil {
		return m[1]
	}
	return strings.TrimSpace(strings.TrimPrefix(details, "Template:"))
}
