package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/cwm"
	"github.com/devnet-ops/compliance-ai/internal/db"
	"github.com/devnet-ops/compliance-ai/internal/nso"
	"github.com/devnet-ops/compliance-ai/internal/remediation"
)

// ComplianceOps is the compliance-report surface of the NSO CLI connector.
type ComplianceOps interface {
	ConfigureReport(ctx context.Context, spec nso.ReportSpec, dryRun bool) (string, error)
	RunReport(ctx context.Context, req nso.RunRequest) (nso.RunResult, error)
	ListReportDefinitions(ctx context.Context) (string, error)
	ListResults(ctx context.Context) (string, error)
	RemoveResults(ctx context.Context, ids string) (string, error)
	DeleteReport(ctx context.Context, name string) (string, error)
	CreateTemplate(ctx context.Context, spec nso.TemplateSpec) (string, error)
	ListTemplates(ctx context.Context) ([]string, error)
	ListServiceTypes(ctx context.Context) ([]string, error)
	ListDeviceGroups(ctx context.Context) ([]string, error)
}

// DeviceOps is the RESTCONF surface used directly by tools.
type DeviceOps interface {
	CheckDeviceSync(ctx context.Context, device string) (nso.SyncOutput, error)
}

// WorkflowOps is the CWM surface.
type WorkflowOps interface {
	ExecuteWorkflow(ctx context.Context, workflowName string, spec cwm.ScheduleSpec, items []map[string]interface{}) (cwm.ExecutionResult, error)
	GetJobStatus(ctx context.Context, jobID string) (cwm.JobStatus, error)
}

// BatchRunner executes a remediation plan.
type BatchRunner interface {
	ExecuteBatch(ctx context.Context, planJSON string) remediation.BatchResult
}

// ReportFetcher resolves a report reference to its artifact.
type ReportFetcher interface {
	Resolve(ctx context.Context, ref string) (path, content string, err error)
}

// Executor dispatches tool calls to the connectors and renders every
// outcome as a JSON payload for the model. Connector failures come back as
// {"success": false, ...} tool results rather than errors, so the model
// can explain them to the user.
type Executor struct {
	compliance ComplianceOps
	devices    DeviceOps
	workflows  WorkflowOps
	batch      BatchRunner
	reports    ReportFetcher
	history    db.Store
	log        *zap.Logger
}

// NewExecutor wires the tool executor.
func NewExecutor(compliance ComplianceOps, devices DeviceOps, workflows WorkflowOps, batch BatchRunner, reports ReportFetcher, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		compliance: compliance,
		devices:    devices,
		workflows:  workflows,
		batch:      batch,
		reports:    reports,
		log:        log,
	}
}

// WithHistory attaches the durable execution-history store. Recording is
// best effort: a failed write is logged and never fails the tool call.
func (e *Executor) WithHistory(history db.Store) *Executor {
	e.history = history
	return e
}

// Execute runs one named tool call.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	e.log.Info("executing tool", zap.String("tool", name))
	switch name {
	case "configure_compliance_report":
		return e.configureReport(ctx, args)
	case "run_compliance_report":
		return e.runReport(ctx, args)
	case "get_report_details":
		return e.getReportDetails(ctx, args)
	case "list_compliance_report_results":
		return e.wrapText(e.compliance.ListResults(ctx))
	case "list_compliance_reports":
		return e.wrapText(e.compliance.ListReportDefinitions(ctx))
	case "delete_compliance_report":
		name, err := requireString(args, "report_name")
		if err != nil {
			return failJSON(err), nil
		}
		return e.wrapText(e.compliance.DeleteReport(ctx, name))
	case "remove_compliance_report_results":
		ids, err := requireString(args, "ids")
		if err != nil {
			return failJSON(err), nil
		}
		return e.wrapText(e.compliance.RemoveResults(ctx, ids))
	case "create_compliance_template":
		return e.createTemplate(ctx, args)
	case "list_compliance_templates":
		templates, err := e.compliance.ListTemplates(ctx)
		return e.wrapList("templates", templates, err)
	case "list_device_groups":
		groups, err := e.compliance.ListDeviceGroups(ctx)
		return e.wrapList("device_groups", groups, err)
	case "list_service_types":
		serviceTypes, err := e.compliance.ListServiceTypes(ctx)
		return e.wrapList("service_types", serviceTypes, err)
	case "schedule_compliance_report":
		return e.scheduleReport(ctx, args)
	case "check_device_sync":
		return e.checkDeviceSync(ctx, args)
	case "execute_remediation_plan":
		return e.executeRemediationPlan(ctx, args)
	case "execute_cwm_workflow":
		return e.executeCWMWorkflow(ctx, args)
	case "get_cwm_job_status":
		return e.getCWMJobStatus(ctx, args)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func (e *Executor) configureReport(ctx context.Context, args map[string]interface{}) (string, error) {
	name, err := requireString(args, "report_name")
	if err != nil {
		return failJSON(err), nil
	}
	spec := nso.ReportSpec{
		Name:              name,
		DeviceCheckAll:    boolArg(args, "all_devices"),
		Devices:           stringListArg(args, "devices"),
		DeviceGroups:      stringListArg(args, "device_groups"),
		DeviceSelectXPath: stringArg(args, "device_select_xpath"),
		Templates:         stringListArg(args, "templates"),
		ServiceCheckAll:   boolArg(args, "all_services"),
		ServiceTypes:      stringListArg(args, "service_types"),
	}
	dryRun := boolArg(args, "dry_run")
	out, err := e.compliance.ConfigureReport(ctx, spec, dryRun)
	if err != nil {
		return failJSON(err), nil
	}
	return marshalResult(map[string]interface{}{
		"success":     true,
		"report_name": name,
		"dry_run":     dryRun,
		"output":      out,
	})
}

func (e *Executor) runReport(ctx context.Context, args map[string]interface{}) (string, error) {
	name, err := requireString(args, "report_name")
	if err != nil {
		return failJSON(err), nil
	}
	res, err := e.compliance.RunReport(ctx, nso.RunRequest{
		Name:     name,
		Title:    stringArg(args, "title"),
		FromTime: stringArg(args, "from_time"),
		ToTime:   stringArg(args, "to_time"),
	})
	if err != nil {
		return failJSON(err), nil
	}
	if e.history != nil {
		rec := &db.ReportRunRecord{
			ReportName: name,
			ResultID:   res.ID,
			Status:     res.Status,
			Location:   res.Location,
		}
		if herr := e.history.SaveReportRun(ctx, rec); herr != nil {
			e.log.Warn("failed to record report run", zap.Error(herr))
		}
	}
	// report_id and report_url here are what routes the session into the
	// analyze phase.
	return marshalResult(map[string]interface{}{
		"success":    true,
		"report_id":  res.ID,
		"report_url": res.Location,
		"status":     res.Status,
		"info":       res.Info,
	})
}

func (e *Executor) getReportDetails(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := stringArg(args, "report_id")
	if ref == "" {
		ref = stringArg(args, "report_url")
	}
	if ref == "" {
		return failJSON(fmt.Errorf("report_id or report_url is required")), nil
	}
	path, content, err := e.reports.Resolve(ctx, ref)
	if err != nil {
		return failJSON(err), nil
	}
	return marshalResult(map[string]interface{}{
		"success":   true,
		"report_id": stringArg(args, "report_id"),
		"file_path": path,
		"content":   content,
	})
}

func (e *Executor) createTemplate(ctx context.Context, args map[string]interface{}) (string, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return failJSON(err), nil
	}
	deviceTemplate, err := requireString(args, "device_template")
	if err != nil {
		return failJSON(err), nil
	}
	spec := nso.TemplateSpec{
		Name:             name,
		DeviceTemplate:   deviceTemplate,
		Paths:            stringListArg(args, "paths"),
		ExcludeServices:  boolArg(args, "exclude_service_config"),
		CollapseListKeys: stringArg(args, "collapse_list_keys"),
	}
	if v, ok := args["match_rate"].(float64); ok {
		rate := int(v)
		spec.MatchRate = &rate
	}
	out, err := e.compliance.CreateTemplate(ctx, spec)
	if err != nil {
		return failJSON(err), nil
	}
	return marshalResult(map[string]interface{}{"success": true, "template": name, "output": out})
}

// reportRunWorkflow is the CWM workflow that executes a compliance report
// on the workflow engine's schedule rather than immediately on NSO.
const reportRunWorkflow = "compliance_report_run"

func (e *Executor) scheduleReport(ctx context.Context, args map[string]interface{}) (string, error) {
	name, err := requireString(args, "report_name")
	if err != nil {
		return failJSON(err), nil
	}
	scheduleType, err := requireString(args, "schedule_type")
	if err != nil {
		return failJSON(err), nil
	}
	scheduleValue, err := requireString(args, "schedule_value")
	if err != nil {
		return failJSON(err), nil
	}
	res, err := e.workflows.ExecuteWorkflow(ctx, reportRunWorkflow, cwm.ScheduleSpec{
		Type:  cwm.ScheduleType(strings.ToLower(scheduleType)),
		Value: scheduleValue,
	}, []map[string]interface{}{{"report_name": name}})
	if err != nil {
		return failJSON(err), nil
	}
	data, merr := json.Marshal(res)
	if merr != nil {
		return "", merr
	}
	return string(data), nil
}

func (e *Executor) checkDeviceSync(ctx context.Context, args map[string]interface{}) (string, error) {
	device, err := requireString(args, "device_name")
	if err != nil {
		return failJSON(err), nil
	}
	out, err := e.devices.CheckDeviceSync(ctx, device)
	if err != nil {
		return failJSON(err), nil
	}
	return marshalResult(map[string]interface{}{
		"success": true,
		"device":  device,
		"in_sync": out.Result,
		"info":    out.Info,
	})
}

func (e *Executor) executeRemediationPlan(ctx context.Context, args map[string]interface{}) (string, error) {
	planJSON, err := requireString(args, "actions_json")
	if err != nil {
		return failJSON(err), nil
	}
	res := e.batch.ExecuteBatch(ctx, planJSON)
	data, merr := json.Marshal(res)
	if merr != nil {
		return "", merr
	}
	if e.history != nil {
		rec := &db.ExecutionRecord{
			Kind:              "batch",
			PlanJSON:          planJSON,
			Success:           res.Success,
			TotalActions:      res.TotalActions,
			SuccessfulActions: res.SuccessfulActions,
			FailedActions:     res.FailedActions,
			ResultJSON:        string(data),
		}
		if herr := e.history.SaveExecution(ctx, rec); herr != nil {
			e.log.Warn("failed to record batch execution", zap.Error(herr))
		}
	}
	return string(data), nil
}

func (e *Executor) executeCWMWorkflow(ctx context.Context, args map[string]interface{}) (string, error) {
	workflow, err := requireString(args, "workflow_name")
	if err != nil {
		return failJSON(err), nil
	}
	scheduleType, err := requireString(args, "schedule_type")
	if err != nil {
		return failJSON(err), nil
	}
	var items []map[string]interface{}
	if raw := stringArg(args, "items_json"); raw != "" {
		if uerr := json.Unmarshal([]byte(raw), &items); uerr != nil {
			return failJSON(fmt.Errorf("items_json is not a valid JSON list: %w", uerr)), nil
		}
	}
	res, err := e.workflows.ExecuteWorkflow(ctx, workflow, cwm.ScheduleSpec{
		Type:  cwm.ScheduleType(strings.ToLower(scheduleType)),
		Value: stringArg(args, "schedule_value"),
	}, items)
	if err != nil {
		return failJSON(err), nil
	}
	data, merr := json.Marshal(res)
	if merr != nil {
		return "", merr
	}
	if e.history != nil {
		rec := &db.ExecutionRecord{
			Kind:              "workflow",
			PlanJSON:          stringArg(args, "items_json"),
			Success:           res.Success,
			TotalActions:      res.ItemsProcessed,
			SuccessfulActions: res.ItemsProcessed,
			ResultJSON:        string(data),
		}
		if herr := e.history.SaveExecution(ctx, rec); herr != nil {
			e.log.Warn("failed to record workflow dispatch", zap.Error(herr))
		}
	}
	return string(data), nil
}

func (e *Executor) getCWMJobStatus(ctx context.Context, args map[string]interface{}) (string, error) {
	jobID, err := requireString(args, "job_id")
	if err != nil {
		return failJSON(err), nil
	}
	status, err := e.workflows.GetJobStatus(ctx, jobID)
	if err != nil {
		return failJSON(err), nil
	}
	data, merr := json.Marshal(status)
	if merr != nil {
		return "", merr
	}
	return string(data), nil
}

func (e *Executor) wrapText(out string, err error) (string, error) {
	if err != nil {
		return failJSON(err), nil
	}
	return marshalResult(map[string]interface{}{"success": true, "output": out})
}

func (e *Executor) wrapList(key string, values []string, err error) (string, error) {
	if err != nil {
		return failJSON(err), nil
	}
	return marshalResult(map[string]interface{}{"success": true, key: values})
}

func marshalResult(v map[string]interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func failJSON(err error) string {
	data, _ := json.Marshal(map[string]interface{}{"success": false, "error": err.Error()})
	return string(data)
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func stringListArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, isStr := item.(string); isStr {
			out = append(out, s)
		}
	}
	return out
}
