// Package remediation dispatches corrective actions against NSO and
// aggregates batch execution results.
package remediation

import "fmt"

// Target names the devices an action applies to. Exactly one of the
// fields should be set; DeviceName and Device are accepted aliases from
// upstream planners.
type Target struct {
	DeviceName  string   `json:"device_name,omitempty"`
	Device      string   `json:"device,omitempty"`
	DeviceNames []string `json:"device_names,omitempty"`
	DeviceGroup string   `json:"device_group,omitempty"`
}

// Single returns the single-device name, honoring both aliases.
func (t Target) Single() string {
	if t.DeviceName != "" {
		return t.DeviceName
	}
	return t.Device
}

// Empty reports whether the target names nothing at all.
func (t Target) Empty() bool {
	return t.Single() == "" && len(t.DeviceNames) == 0 && t.DeviceGroup == ""
}

// ActionResult is the outcome of one dispatched action.
type ActionResult struct {
	ID              interface{} `json:"id,omitempty"`
	Success         bool        `json:"success"`
	Action          string      `json:"action,omitempty"`
	Device          string      `json:"device,omitempty"`
	Devices         []string    `json:"devices,omitempty"`
	DeviceGroup     string      `json:"device_group,omitempty"`
	Template        string      `json:"template,omitempty"`
	ServiceType     string      `json:"service_type,omitempty"`
	ServiceInstance string      `json:"service_instance,omitempty"`
	Successful      []string    `json:"successful,omitempty"`
	Failed          []string    `json:"failed,omitempty"`
	Status          string      `json:"status,omitempty"`
	InSync          *bool       `json:"in_sync,omitempty"`
	Error           string      `json:"error,omitempty"`
	Message         string      `json:"message,omitempty"`
}

// BatchResult aggregates a full plan execution.
type BatchResult struct {
	Success           bool           `json:"success"`
	TotalActions      int            `json:"total_actions"`
	SuccessfulActions int            `json:"successful_actions"`
	FailedActions     int            `json:"failed_actions"`
	Results           []ActionResult `json:"results"`
	Errors            []string       `json:"errors,omitempty"`
	Message           string         `json:"message,omitempty"`
	Error             string         `json:"error,omitempty"`
}

func failedResult(id interface{}, action, errMsg string) ActionResult {
	return ActionResult{
		ID:      id,
		Action:  action,
		Status:  "failed",
		Success: false,
		Error:   errMsg,
	}
}

func summaryMessage(total, failed int) string {
	return fmt.Sprintf("Processed %d action(s): %d succeeded, %d failed", total, total-failed, failed)
}
