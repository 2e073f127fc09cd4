package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devnet-ops/compliance-ai/internal/cwm"
	"github.com/devnet-ops/compliance-ai/internal/db"
	"github.com/devnet-ops/compliance-ai/internal/nso"
	"github.com/devnet-ops/compliance-ai/internal/remediation"
)

type fakeCompliance struct {
	lastSpec   nso.ReportSpec
	lastDryRun bool
	runErr     error
}

func (f *fakeCompliance) ConfigureReport(_ context.Context, spec nso.ReportSpec, dryRun bool) (string, error) {
	f.lastSpec = spec
	f.lastDryRun = dryRun
	return "Commit complete.", nil
}

func (f *fakeCompliance) RunReport(_ context.Context, req nso.RunRequest) (nso.RunResult, error) {
	if f.runErr != nil {
		return nso.RunResult{}, f.runErr
	}
	return nso.RunResult{ID: "5", Status: "violations", Location: "http://nso/report_5.html"}, nil
}

func (f *fakeCompliance) ListReportDefinitions(context.Context) (string, error) {
	return "report weekly-audit", nil
}
func (f *fakeCompliance) ListResults(context.Context) (string, error) { return "id 5", nil }
func (f *fakeCompliance) RemoveResults(_ context.Context, ids string) (string, error) {
	return "removed " + ids, nil
}
func (f *fakeCompliance) DeleteReport(_ context.Context, name string) (string, error) {
	return "deleted " + name, nil
}
func (f *fakeCompliance) CreateTemplate(_ context.Context, spec nso.TemplateSpec) (string, error) {
	return "created " + spec.Name, nil
}
func (f *fakeCompliance) ListTemplates(context.Context) ([]string, error) {
	return []string{"gold-config"}, nil
}
func (f *fakeCompliance) ListServiceTypes(context.Context) ([]string, error) {
	return []string{"l3vpn"}, nil
}
func (f *fakeCompliance) ListDeviceGroups(context.Context) ([]string, error) {
	return []string{"core"}, nil
}

type fakeDevices struct{ inSync bool }

func (f *fakeDevices) CheckDeviceSync(context.Context, string) (nso.SyncOutput, error) {
	return nso.SyncOutput{Result: f.inSync, Info: "checked"}, nil
}

type fakeWorkflows struct {
	lastSpec  cwm.ScheduleSpec
	lastItems []map[string]interface{}
}

func (f *fakeWorkflows) ExecuteWorkflow(_ context.Context, name string, spec cwm.ScheduleSpec, items []map[string]interface{}) (cwm.ExecutionResult, error) {
	f.lastSpec = spec
	f.lastItems = items
	return cwm.ExecutionResult{Success: true, JobID: "JOB-1", WorkflowName: name}, nil
}

func (f *fakeWorkflows) GetJobStatus(_ context.Context, jobID string) (cwm.JobStatus, error) {
	return cwm.JobStatus{Success: true, JobID: jobID, Status: "completed"}, nil
}

type fakeBatch struct{ lastPlan string }

func (f *fakeBatch) ExecuteBatch(_ context.Context, planJSON string) remediation.BatchResult {
	f.lastPlan = planJSON
	return remediation.BatchResult{Success: true, TotalActions: 1, SuccessfulActions: 1}
}

type fakeFetcher struct{ err error }

func (f *fakeFetcher) Resolve(_ context.Context, ref string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "/tmp/report_" + ref + ".html", "report body", nil
}

func newExecutor() (*Executor, *fakeCompliance, *fakeWorkflows, *fakeBatch) {
	compliance := &fakeCompliance{}
	workflows := &fakeWorkflows{}
	batch := &fakeBatch{}
	e := NewExecutor(compliance, &fakeDevices{inSync: true}, workflows, batch, &fakeFetcher{}, nil)
	return e, compliance, workflows, batch
}

func resultMap(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestConfigureReportMapsArgs(t *testing.T) {
	e, compliance, _, _ := newExecutor()
	out, err := e.Execute(context.Background(), "configure_compliance_report", map[string]interface{}{
		"report_name":   "weekly-audit",
		"device_groups": []interface{}{"core", "edge"},
		"templates":     []interface{}{"gold-config"},
		"dry_run":       true,
	})
	require.NoError(t, err)

	m := resultMap(t, out)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, true, m["dry_run"])
	assert.Equal(t, []string{"core", "edge"}, compliance.lastSpec.DeviceGroups)
	assert.Equal(t, []string{"gold-config"}, compliance.lastSpec.Templates)
	assert.True(t, compliance.lastDryRun)
}

func TestRunReportExposesArtifactReferences(t *testing.T) {
	e, _, _, _ := newExecutor()
	out, err := e.Execute(context.Background(), "run_compliance_report", map[string]interface{}{
		"report_name": "weekly-audit",
	})
	require.NoError(t, err)

	m := resultMap(t, out)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "5", m["report_id"])
	assert.Equal(t, "http://nso/report_5.html", m["report_url"])
}

func TestConnectorFailureBecomesToolResult(t *testing.T) {
	e, compliance, _, _ := newExecutor()
	compliance.runErr = fmt.Errorf("device check failed: report does not exist")

	out, err := e.Execute(context.Background(), "run_compliance_report", map[string]interface{}{
		"report_name": "missing",
	})
	require.NoError(t, err, "connector failures are tool results, not errors")

	m := resultMap(t, out)
	assert.Equal(t, false, m["success"])
	assert.Contains(t, m["error"], "does not exist")
}

func TestMissingRequiredParameter(t *testing.T) {
	e, _, _, _ := newExecutor()
	out, err := e.Execute(context.Background(), "check_device_sync", map[string]interface{}{})
	require.NoError(t, err)

	m := resultMap(t, out)
	assert.Equal(t, false, m["success"])
	assert.Contains(t, m["error"], "device_name")
}

func TestGetReportDetails(t *testing.T) {
	e, _, _, _ := newExecutor()
	out, err := e.Execute(context.Background(), "get_report_details", map[string]interface{}{
		"report_id": "5",
	})
	require.NoError(t, err)

	m := resultMap(t, out)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "/tmp/report_5.html", m["file_path"])
	assert.Equal(t, "report body", m["content"])
}

func TestExecuteRemediationPlanPassesThrough(t *testing.T) {
	e, _, _, batch := newExecutor()
	plan := `[{"id":1,"action":"sync-to","target":{"device_name":"r1"}}]`
	out, err := e.Execute(context.Background(), "execute_remediation_plan", map[string]interface{}{
		"actions_json": plan,
	})
	require.NoError(t, err)
	assert.Equal(t, plan, batch.lastPlan)

	m := resultMap(t, out)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, float64(1), m["total_actions"])
}

func TestExecuteCWMWorkflow(t *testing.T) {
	e, _, workflows, _ := newExecutor()
	out, err := e.Execute(context.Background(), "execute_cwm_workflow", map[string]interface{}{
		"workflow_name":  "remediation_batch_exec",
		"schedule_type":  "periodic",
		"schedule_value": "0 0 * * 0",
		"items_json":     `[{"id":1,"action":"sync-to","target":"Edge-S02"}]`,
	})
	require.NoError(t, err)

	assert.Equal(t, cwm.SchedulePeriodic, workflows.lastSpec.Type)
	assert.Equal(t, "0 0 * * 0", workflows.lastSpec.Value)
	require.Len(t, workflows.lastItems, 1)

	m := resultMap(t, out)
	assert.Equal(t, true, m["success"])
}

func TestUnknownToolIsAnError(t *testing.T) {
	e, _, _, _ := newExecutor()
	_, err := e.Execute(context.Background(), "reboot_datacenter", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestDefinitionsNamesMatchExecutor(t *testing.T) {
	e, _, _, _ := newExecutor()
	for _, tool := range Definitions() {
		// Every registered tool must dispatch; missing-parameter results
		// are fine, unknown-tool errors are not.
		_, err := e.Execute(context.Background(), tool.Name, map[string]interface{}{})
		if err != nil {
			assert.NotContains(t, err.Error(), "unknown tool", "tool %q not wired", tool.Name)
		}
	}
}

type fakeHistory struct {
	reportRuns []*db.ReportRunRecord
	executions []*db.ExecutionRecord
}

func (f *fakeHistory) SaveReportRun(_ context.Context, rec *db.ReportRunRecord) error {
	f.reportRuns = append(f.reportRuns, rec)
	return nil
}

func (f *fakeHistory) ListReportRuns(_ context.Context, _ string, _ int) ([]db.ReportRunRecord, error) {
	return nil, nil
}

func (f *fakeHistory) SaveExecution(_ context.Context, rec *db.ExecutionRecord) error {
	f.executions = append(f.executions, rec)
	return nil
}

func (f *fakeHistory) ListExecutions(_ context.Context, _ string, _ int) ([]db.ExecutionRecord, error) {
	return nil, nil
}

func (f *fakeHistory) SaveAuditEvent(_ context.Context, _ *db.AuditEvent) error { return nil }
func (f *fakeHistory) ListAuditEvents(_ context.Context, _ int) ([]db.AuditEvent, error) {
	return nil, nil
}
func (f *fakeHistory) Ping(_ context.Context) error { return nil }
func (f *fakeHistory) Close() error                 { return nil }

func TestHistoryRecordsRunsAndExecutions(t *testing.T) {
	e, _, _, _ := newExecutor()
	hist := &fakeHistory{}
	e.WithHistory(hist)

	_, err := e.Execute(context.Background(), "run_compliance_report", map[string]interface{}{
		"report_name": "gold-config",
	})
	require.NoError(t, err)
	require.Len(t, hist.reportRuns, 1)
	assert.Equal(t, "gold-config", hist.reportRuns[0].ReportName)

	_, err = e.Execute(context.Background(), "execute_remediation_plan", map[string]interface{}{
		"actions_json": `[{"id": 1, "action": "sync-to", "target": "ce0"}]`,
	})
	require.NoError(t, err)
	require.Len(t, hist.executions, 1)
	assert.Equal(t, "batch", hist.executions[0].Kind)
	assert.True(t, hist.executions[0].Success)
	assert.Equal(t, 1, hist.executions[0].TotalActions)
}

func TestScheduleComplianceReport(t *testing.T) {
	e, _, workflows, _ := newExecutor()

	raw, err := e.Execute(context.Background(), "schedule_compliance_report", map[string]interface{}{
		"report_name":    "gold-config",
		"schedule_type":  "Periodic",
		"schedule_value": "0 2 * * *",
	})
	require.NoError(t, err)

	res := resultMap(t, raw)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, reportRunWorkflow, res["workflow_name"])
	assert.Equal(t, cwm.SchedulePeriodic, workflows.lastSpec.Type)
	assert.Equal(t, "0 2 * * *", workflows.lastSpec.Value)
	require.Len(t, workflows.lastItems, 1)
	assert.Equal(t, "gold-config", workflows.lastItems[0]["report_name"])
}
