package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// Executor runs a serialized remediation plan action by action. Actions
// are independent: one failure never stops the rest, and results preserve
// input order.
type Executor struct {
	dispatcher *Dispatcher
	log        *zap.Logger
}

// NewExecutor creates a batch executor over d.
func NewExecutor(d *Dispatcher, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{dispatcher: d, log: log}
}

// planAction is one parsed descriptor from the plan JSON. Unknown fields
// are tolerated; required fields are validated per action kind.
type planAction struct {
	ID              interface{} `json:"id"`
	Action          string      `json:"action"`
	Target          Target      `json:"target"`
	ServiceType     string      `json:"service_type"`
	ServiceInstance string      `json:"service_instance"`
	TemplateName    string      `json:"template_name"`
}

// ExecuteBatch parses planJSON and dispatches every action in it.
//
// A JSON parse failure fails the whole batch with zero actions processed.
// A single object is treated as a one-element list. Per-action validation
// failures are recorded against that action's id and the batch continues;
// the batch succeeds only when no action failed.
func (e *Executor) ExecuteBatch(ctx context.Context, planJSON string) BatchResult {
	actions, err := parsePlan(planJSON)
	if err != nil {
		e.log.Error("remediation plan unparseable", zap.Error(err))
		metrics.RemediationBatchesTotal.WithLabelValues("failed").Inc()
		return BatchResult{
			Success:      false,
			TotalActions: 0,
			Results:      []ActionResult{},
			Error:        fmt.Sprintf("Invalid JSON format: %v", err),
			Errors:       []string{fmt.Sprintf("JSON parse error: %v", err)},
		}
	}

	results := make([]ActionResult, 0, len(actions))
	var errors []string

	for _, action := range actions {
		id := action.ID
		if id == nil {
			id = "unknown"
		}
		kind := strings.ToLower(action.Action)
		e.log.Info("processing remediation action",
			zap.Any("id", id),
			zap.String("action", kind),
		)

		res, err := e.dispatch(ctx, kind, action)
		if err != nil {
			msg := fmt.Sprintf("Action %v failed: %v", id, err)
			e.log.Error(msg)
			errors = append(errors, msg)
			results = append(results, failedResult(id, kind, err.Error()))
			continue
		}
		res.ID = id
		if !res.Success {
			msg := fmt.Sprintf("Action %v failed: %s", id, res.Error)
			errors = append(errors, msg)
		}
		results = append(results, res)
	}

	failed := len(errors)
	success := failed == 0
	status := "success"
	switch {
	case failed == len(actions) && failed > 0:
		status = "failed"
	case failed > 0:
		status = "partial"
	}
	metrics.RemediationBatchesTotal.WithLabelValues(status).Inc()

	return BatchResult{
		Success:           success,
		TotalActions:      len(actions),
		SuccessfulActions: len(actions) - failed,
		FailedActions:     failed,
		Results:           results,
		Errors:            errors,
		Message:           summaryMessage(len(actions), failed),
	}
}

func (e *Executor) dispatch(ctx context.Context, kind string, action planAction) (ActionResult, error) {
	switch kind {
	case "sync-to":
		if action.Target.Empty() {
			return ActionResult{}, fmt.Errorf("sync-to action requires 'target' with device_names, device_group, or device_name")
		}
		return e.dispatcher.SyncTo(ctx, action.Target), nil

	case "re-deploy":
		if action.ServiceType == "" || action.ServiceInstance == "" {
			return ActionResult{}, fmt.Errorf("re-deploy action requires 'service_type' and 'service_instance'")
		}
		instance := action.ServiceInstance
		// Planners sometimes hand over "type/path/instance" in the
		// instance field; the real instance name is the last segment.
		if strings.Contains(instance, "/") {
			parts := strings.Split(instance, "/")
			instance = parts[len(parts)-1]
			e.log.Info("extracted instance name from path", zap.String("instance", instance))
		}
		return e.dispatcher.Redeploy(ctx, action.ServiceType, instance), nil

	case "apply-template":
		if action.TemplateName == "" {
			return ActionResult{}, fmt.Errorf("apply-template action requires 'template_name'")
		}
		if action.Target.Empty() {
			return ActionResult{}, fmt.Errorf("apply-template action requires 'target' with device_names, device_group, or device_name")
		}
		return e.dispatcher.ApplyTemplate(ctx, action.TemplateName, action.Target), nil

	default:
		return ActionResult{}, fmt.Errorf("unknown action type: %q, must be one of: sync-to, re-deploy, apply-template", kind)
	}
}

// parsePlan decodes the plan JSON, wrapping a single object in a list.
func parsePlan(planJSON string) ([]planAction, error) {
	trimmed := strings.TrimSpace(planJSON)
	var actions []planAction
	if err := json.Unmarshal([]byte(trimmed), &actions); err == nil {
		return actions, nil
	}
	var single planAction
	if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
		return nil, err
	}
	return []planAction{single}, nil
}
