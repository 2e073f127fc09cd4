// Package tools defines the tool surface exposed to the model and the
// executor that bridges tool calls to the NSO and CWM connectors.
package tools

import "github.com/devnet-ops/compliance-ai/internal/llm/types"

func objSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func boolean(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

func strList(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": desc}
}

// Definitions returns the tool schemas offered to the model.
func Definitions() []types.Tool {
	return []types.Tool{
		{
			Name:        "configure_compliance_report",
			Description: "Create or update an NSO compliance report definition. Always call with dry_run=true first to preview the CLI diff, then dry_run=false after the user confirms.",
			Parameters: objSchema(map[string]interface{}{
				"report_name":         str("Name of the report definition"),
				"all_devices":         boolean("Check all devices"),
				"devices":             strList("Specific devices to check"),
				"device_groups":       strList("Device groups to check"),
				"device_select_xpath": str("XPath expression selecting devices"),
				"templates":           strList("Compliance templates to check against"),
				"all_services":        boolean("Check all services"),
				"service_types":       strList("Specific service types to check"),
				"dry_run":             boolean("Preview the configuration change without committing"),
			}, "report_name"),
		},
		{
			Name:        "run_compliance_report",
			Description: "Execute a configured NSO compliance report now and return its result id and artifact location.",
			Parameters: objSchema(map[string]interface{}{
				"report_name": str("Name of the report definition to run"),
				"title":       str("Title for this run"),
				"from_time":   str("Optional start of the audited interval (ISO-8601)"),
				"to_time":     str("Optional end of the audited interval (ISO-8601)"),
			}, "report_name"),
		},
		{
			Name:        "get_report_details",
			Description: "Fetch a compliance report artifact by id or URL so it can be analyzed.",
			Parameters: objSchema(map[string]interface{}{
				"report_id":  str("Report result id"),
				"report_url": str("Direct URL of the report artifact"),
			}),
		},
		{
			Name:        "list_compliance_report_results",
			Description: "List executed compliance report results stored on NSO.",
			Parameters:  objSchema(map[string]interface{}{}),
		},
		{
			Name:        "list_compliance_reports",
			Description: "List configured compliance report definitions.",
			Parameters:  objSchema(map[string]interface{}{}),
		},
		{
			Name:        "delete_compliance_report",
			Description: "Permanently delete a compliance report definition. Requires explicit user confirmation first.",
			Parameters: objSchema(map[string]interface{}{
				"report_name": str("Name of the report definition to delete"),
			}, "report_name"),
		},
		{
			Name:        "remove_compliance_report_results",
			Description: "Permanently remove executed report results by id or range, e.g. \"3\" or \"1..5\". Requires explicit user confirmation first.",
			Parameters: objSchema(map[string]interface{}{
				"ids": str("Result id or id range to remove"),
			}, "ids"),
		},
		{
			Name:        "create_compliance_template",
			Description: "Create a compliance template from an existing device template.",
			Parameters: objSchema(map[string]interface{}{
				"name":                   str("Name of the compliance template to create"),
				"device_template":        str("Source device template"),
				"paths":                  strList("Config paths to include"),
				"match_rate":             map[string]interface{}{"type": "integer", "description": "Minimum match rate percentage"},
				"exclude_service_config": boolean("Exclude service-owned config"),
				"collapse_list_keys":     str("List keys to collapse"),
			}, "name", "device_template"),
		},
		{
			Name:        "list_compliance_templates",
			Description: "List compliance templates configured on NSO.",
			Parameters:  objSchema(map[string]interface{}{}),
		},
		{
			Name:        "list_device_groups",
			Description: "List NSO device groups.",
			Parameters:  objSchema(map[string]interface{}{}),
		},
		{
			Name:        "list_service_types",
			Description: "List service types known to NSO.",
			Parameters:  objSchema(map[string]interface{}{}),
		},
		{
			Name:        "schedule_compliance_report",
			Description: "Schedule a recurring or future run of a compliance report through CWM instead of running it now.",
			Parameters: objSchema(map[string]interface{}{
				"report_name":    str("Name of the report definition to schedule"),
				"schedule_type":  map[string]interface{}{"type": "string", "enum": []string{"once", "periodic"}},
				"schedule_value": str("ISO-8601 timestamp for once, cron expression for periodic"),
			}, "report_name", "schedule_type", "schedule_value"),
		},
		{
			Name:        "check_device_sync",
			Description: "Check whether a device's configuration is in sync with NSO.",
			Parameters: objSchema(map[string]interface{}{
				"device_name": str("Device to check"),
			}, "device_name"),
		},
		{
			Name:        "execute_remediation_plan",
			Description: "Execute an approved remediation plan immediately against NSO. Takes the plan's action list as JSON. Only call after the user approved the items.",
			Parameters: objSchema(map[string]interface{}{
				"actions_json": str("JSON list of remediation actions to execute"),
			}, "actions_json"),
		},
		{
			Name:        "execute_cwm_workflow",
			Description: "Run or schedule a CWM workflow carrying approved remediation items. schedule_type is immediate, once (ISO-8601 timestamp), or periodic (cron expression).",
			Parameters: objSchema(map[string]interface{}{
				"workflow_name":  str("CWM workflow to execute"),
				"schedule_type":  map[string]interface{}{"type": "string", "enum": []string{"immediate", "once", "periodic"}},
				"schedule_value": str("Timestamp or cron expression, unused for immediate"),
				"items_json":     str("JSON list of approved remediation items"),
			}, "workflow_name", "schedule_type"),
		},
		{
			Name:        "get_cwm_job_status",
			Description: "Look up the status of a CWM job or schedule by its id.",
			Parameters: objSchema(map[string]interface{}{
				"job_id": str("Job or schedule id, e.g. JOB-12345 or SCHED-99821"),
			}, "job_id"),
		},
	}
}
