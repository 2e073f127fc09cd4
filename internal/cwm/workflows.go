package cwm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// ScheduleType selects how a remediation workflow run is timed.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleOnce      ScheduleType = "once"
	SchedulePeriodic  ScheduleType = "periodic"
)

// ScheduleSpec pairs a schedule type with its value: "now" for immediate,
// an ISO-8601 timestamp for once, a cron expression for periodic.
type ScheduleSpec struct {
	Type  ScheduleType `json:"type"`
	Value string       `json:"value"`
}

// ExecutionResult reports the outcome of submitting a workflow to CWM.
type ExecutionResult struct {
	Success        bool         `json:"success"`
	JobID          string       `json:"job_id"`
	Status         string       `json:"status"`
	Message        string       `json:"message"`
	ItemsProcessed int          `json:"items_processed"`
	WorkflowName   string       `json:"workflow_name"`
	Schedule       ScheduleSpec `json:"schedule_info"`
}

// JobStatus reports the current state of a job or schedule.
type JobStatus struct {
	Success     bool   `json:"success"`
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress,omitempty"`
	Message     string `json:"message,omitempty"`
	NextRun     string `json:"next_run,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// ListWorkflows returns the raw workflow definitions known to CWM.
func (c *Client) ListWorkflows(ctx context.Context) ([]map[string]interface{}, error) {
	body, status, err := c.do(ctx, http.MethodGet, "crosswork/cwm/v2/workflow", nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("CWM workflow list returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	var workflows []map[string]interface{}
	if err := json.Unmarshal(body, &workflows); err != nil {
		// Some CWM builds wrap the list in an object.
		var wrapped struct {
			Workflows []map[string]interface{} `json:"workflows"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decoding workflow list: %w", err)
		}
		workflows = wrapped.Workflows
	}
	return workflows, nil
}

// ExecuteWorkflow submits a remediation workflow with the given items and
// schedule. Immediate runs create a job; once and periodic runs create a
// schedule.
func (c *Client) ExecuteWorkflow(ctx context.Context, workflowName string, spec ScheduleSpec, items []map[string]interface{}) (ExecutionResult, error) {
	res := ExecutionResult{WorkflowName: workflowName, Schedule: spec, ItemsProcessed: len(items)}

	switch spec.Type {
	case ScheduleImmediate, ScheduleOnce, SchedulePeriodic:
	default:
		metrics.CWMWorkflowsTotal.WithLabelValues(string(spec.Type), "rejected").Inc()
		return res, fmt.Errorf("invalid schedule type %q: must be immediate, once, or periodic", spec.Type)
	}

	c.log.Info("submitting CWM workflow",
		zap.String("workflow", workflowName),
		zap.String("schedule_type", string(spec.Type)),
		zap.Int("items", len(items)),
	)

	var err error
	if spec.Type == ScheduleImmediate {
		res, err = c.createJob(ctx, res, workflowName, items)
	} else {
		res, err = c.createSchedule(ctx, res, workflowName, spec, items)
	}
	if err != nil {
		metrics.CWMWorkflowsTotal.WithLabelValues(string(spec.Type), "error").Inc()
		return res, err
	}
	metrics.CWMWorkflowsTotal.WithLabelValues(string(spec.Type), "ok").Inc()
	return res, nil
}

func (c *Client) createJob(ctx context.Context, res ExecutionResult, workflowName string, items []map[string]interface{}) (ExecutionResult, error) {
	payload := map[string]interface{}{
		"jobName":         fmt.Sprintf("%s-%s", workflowName, time.Now().Format("20060102-150405")),
		"workflowName":    workflowName,
		"workflowVersion": "1.0",
		"data":            map[string]interface{}{"items": items},
		"tags":            []string{"remediation", "ai"},
	}
	body, status, err := c.do(ctx, http.MethodPost, "crosswork/cwm/v2/job", payload)
	if err != nil {
		return res, err
	}
	if status >= 300 {
		return res, fmt.Errorf("CWM job creation returned %d: %s", status, strings.TrimSpace(string(body)))
	}

	res.Success = true
	res.JobID = extractID(body, "JOB")
	res.Status = "Success"
	res.Message = fmt.Sprintf("Workflow executed immediately. %d items processed.", len(items))
	return res, nil
}

func (c *Client) createSchedule(ctx context.Context, res ExecutionResult, workflowName string, spec ScheduleSpec, items []map[string]interface{}) (ExecutionResult, error) {
	cron := spec.Value
	if spec.Type == ScheduleOnce {
		cron = timestampToCron(spec.Value)
	}
	// Schedule ids must be unique per submission; CWM rejects reuse.
	scheduleID := fmt.Sprintf("AI-%s-%02d-%s", time.Now().Format("20060102"), rand.Intn(100), workflowName)

	payload := map[string]interface{}{
		"scheduleId":         scheduleID,
		"workflowName":       workflowName,
		"workflowVersion":    "1.0",
		"jobName":            fmt.Sprintf("%s-scheduled", workflowName),
		"spec":               map[string]interface{}{"cronExpressions": []string{cron}, "timeZoneName": "UTC"},
		"overlap":            1,
		"pauseOnFailure":     true,
		"paused":             false,
		"triggerImmediately": false,
		"tags":               []string{"remediation", "ai"},
		"note":               fmt.Sprintf("%d remediation items", len(items)),
		"data":               map[string]interface{}{"items": items},
	}
	body, status, err := c.do(ctx, http.MethodPost, "crosswork/cwm/v2/schedule", payload)
	if err != nil {
		return res, err
	}
	if status >= 300 {
		return res, fmt.Errorf("CWM schedule creation returned %d: %s", status, strings.TrimSpace(string(body)))
	}

	res.Success = true
	prefix := "SCHED"
	if spec.Type == SchedulePeriodic {
		prefix = "PERIODIC"
	}
	res.JobID = extractID(body, prefix)
	res.Status = "Scheduled"
	if spec.Type == ScheduleOnce {
		res.Message = fmt.Sprintf("Workflow scheduled for %s. %d items queued.", spec.Value, len(items))
	} else {
		res.Message = fmt.Sprintf("Recurring workflow configured: %s. %d items in rotation.", spec.Value, len(items))
	}
	return res, nil
}

// GetJobStatus fetches the state of a job or schedule by id.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var path string
	switch {
	case strings.HasPrefix(jobID, "SCHED-"), strings.HasPrefix(jobID, "PERIODIC-"), strings.HasPrefix(jobID, "AI-"):
		path = "crosswork/cwm/v2/schedule/" + jobID
	default:
		path = "crosswork/cwm/v2/job/" + jobID
	}

	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return JobStatus{}, err
	}
	if status == http.StatusNotFound {
		return JobStatus{Success: false, JobID: jobID, Message: fmt.Sprintf("Job '%s' not found", jobID)}, nil
	}
	if status >= 300 {
		return JobStatus{}, fmt.Errorf("CWM job status returned %d: %s", status, strings.TrimSpace(string(body)))
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return JobStatus{}, fmt.Errorf("decoding job status: %w", err)
	}
	js := JobStatus{Success: true, JobID: jobID}
	if s, ok := raw["status"].(string); ok {
		js.Status = s
	}
	if m, ok := raw["message"].(string); ok {
		js.Message = m
	}
	if p, ok := raw["progress"].(float64); ok {
		js.Progress = int(p)
	}
	if n, ok := raw["nextRun"].(string); ok {
		js.NextRun = n
	}
	if ca, ok := raw["completedAt"].(string); ok {
		js.CompletedAt = ca
	}
	return js, nil
}

// extractID pulls the created entity's id from a CWM response, trying the
// field names different CWM builds use. Falls back to a generated id so
// callers always get a handle.
func extractID(body []byte, prefix string) string {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err == nil {
		for _, key := range []string{"jobId", "job_id", "scheduleId", "schedule_id", "executionId", "id"} {
			if v, ok := raw[key].(string); ok && v != "" {
				return v
			}
			if v, ok := raw[key].(float64); ok {
				return fmt.Sprintf("%s-%05d", prefix, int(v))
			}
		}
	}
	return fmt.Sprintf("%s-%05d", prefix, rand.Intn(100000))
}

// timestampToCron converts an ISO-8601 timestamp into a single-shot cron
// expression. Unparseable values pass through untouched and CWM reports
// the error.
func timestampToCron(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	t = t.UTC()
	return fmt.Sprintf("%d %d %d %d *", t.Minute(), t.Hour(), t.Day(), int(t.Month()))
}
