package remediation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
	"github.com/devnet-ops/compliance-ai/internal/nso"
)

// DeviceOps is the slice of the NSO client the dispatcher needs. The
// RESTCONF client satisfies it; tests substitute fakes.
type DeviceOps interface {
	SyncToDevice(ctx context.Context, device string) (nso.SyncOutput, error)
	CheckDeviceSync(ctx context.Context, device string) (nso.SyncOutput, error)
	RedeployService(ctx context.Context, serviceType, serviceInstance string) error
	ApplyTemplate(ctx context.Context, device, template string) error
	ResolveDeviceGroup(ctx context.Context, group string) ([]string, error)
}

// Dispatcher executes individual remediation actions against NSO. It
// performs no retries; transient failures come back as failed results for
// the caller to decide on.
type Dispatcher struct {
	nso DeviceOps
	log *zap.Logger
}

// NewDispatcher creates a dispatcher over ops.
func NewDispatcher(ops DeviceOps, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{nso: ops, log: log}
}

// SyncTo pushes NSO configuration to the target devices. A list target
// succeeds only when every device succeeds, with per-device sub-results.
func (d *Dispatcher) SyncTo(ctx context.Context, target Target) ActionResult {
	if device := target.Single(); device != "" {
		d.log.Info("executing sync-to", zap.String("device", device))
		out, err := d.nso.SyncToDevice(ctx, device)
		return d.syncOutcome("sync-to", device, out, err)
	}

	if len(target.DeviceNames) > 0 {
		d.log.Info("executing sync-to batch", zap.Strings("devices", target.DeviceNames))
		var sub []string
		var failed []string
		for _, device := range target.DeviceNames {
			out, err := d.nso.SyncToDevice(ctx, device)
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", device, err))
			} else if !out.Result {
				failed = append(failed, fmt.Sprintf("%s: %s", device, out.Info))
			} else {
				sub = append(sub, device)
			}
		}
		ok := len(failed) == 0
		d.countAction("sync-to", ok)
		return ActionResult{
			Success:    ok,
			Action:     "sync-to",
			Devices:    target.DeviceNames,
			Successful: sub,
			Failed:     failed,
			Message:    fmt.Sprintf("Synced to %d/%d device(s)", len(sub), len(target.DeviceNames)),
		}
	}

	d.countAction("sync-to", false)
	return ActionResult{
		Success: false,
		Action:  "sync-to",
		Error:   "no device specified for sync-to action",
	}
}

func (d *Dispatcher) syncOutcome(action, device string, out nso.SyncOutput, err error) ActionResult {
	if err != nil {
		d.countAction(action, false)
		return ActionResult{
			Success: false,
			Action:  action,
			Device:  device,
			Error:   err.Error(),
			Message: fmt.Sprintf("Failed to sync to device '%s'", device),
		}
	}
	if !out.Result {
		d.countAction(action, false)
		return ActionResult{
			Success: false,
			Action:  action,
			Device:  device,
			Error:   out.Info,
			Message: fmt.Sprintf("Failed to sync to device '%s'", device),
		}
	}
	d.countAction(action, true)
	return ActionResult{
		Success: true,
		Action:  action,
		Device:  device,
		Message: fmt.Sprintf("Successfully synced to device '%s'", device),
	}
}

// Redeploy re-deploys one service instance.
func (d *Dispatcher) Redeploy(ctx context.Context, serviceType, serviceInstance string) ActionResult {
	d.log.Info("executing re-deploy",
		zap.String("service_type", serviceType),
		zap.String("service_instance", serviceInstance),
	)
	if err := d.nso.RedeployService(ctx, serviceType, serviceInstance); err != nil {
		d.countAction("re-deploy", false)
		return ActionResult{
			Success:         false,
			Action:          "re-deploy",
			ServiceType:     serviceType,
			ServiceInstance: serviceInstance,
			Error:           err.Error(),
			Message:         fmt.Sprintf("Failed to re-deploy service '%s/%s'", serviceType, serviceInstance),
		}
	}
	d.countAction("re-deploy", true)
	return ActionResult{
		Success:         true,
		Action:          "re-deploy",
		ServiceType:     serviceType,
		ServiceInstance: serviceInstance,
		Message:         fmt.Sprintf("Successfully re-deployed service '%s/%s'", serviceType, serviceInstance),
	}
}

// ApplyTemplate applies a device template to a single device, a list, or
// every member of a device group. A group that cannot be resolved or is
// empty fails the whole action; individual member failures do not abort
// the rest.
func (d *Dispatcher) ApplyTemplate(ctx context.Context, template string, target Target) ActionResult {
	if device := target.Single(); device != "" {
		d.log.Info("applying template", zap.String("template", template), zap.String("device", device))
		if err := d.nso.ApplyTemplate(ctx, device, template); err != nil {
			d.countAction("apply-template", false)
			return ActionResult{
				Success:  false,
				Action:   "apply-template",
				Device:   device,
				Template: template,
				Error:    err.Error(),
				Message:  fmt.Sprintf("Failed to apply template '%s' to device '%s'", template, device),
			}
		}
		d.countAction("apply-template", true)
		return ActionResult{
			Success:  true,
			Action:   "apply-template",
			Device:   device,
			Template: template,
			Message:  fmt.Sprintf("Successfully applied template '%s' to device '%s'", template, device),
		}
	}

	if len(target.DeviceNames) > 0 {
		res := d.applyToAll(ctx, template, target.DeviceNames)
		res.Message = fmt.Sprintf("Applied template '%s' to %d/%d devices",
			template, len(res.Successful), len(target.DeviceNames))
		return res
	}

	if target.DeviceGroup != "" {
		d.log.Info("applying template to group",
			zap.String("template", template),
			zap.String("group", target.DeviceGroup),
		)
		members, err := d.nso.ResolveDeviceGroup(ctx, target.DeviceGroup)
		if err != nil {
			d.countAction("apply-template", false)
			return ActionResult{
				Success:     false,
				Action:      "apply-template",
				DeviceGroup: target.DeviceGroup,
				Template:    template,
				Error:       err.Error(),
				Message:     fmt.Sprintf("Failed to get devices from group '%s'", target.DeviceGroup),
			}
		}
		res := d.applyToAll(ctx, template, members)
		res.DeviceGroup = target.DeviceGroup
		res.Message = fmt.Sprintf("Applied template '%s' to %d/%d devices in group '%s'",
			template, len(res.Successful), len(members), target.DeviceGroup)
		return res
	}

	d.countAction("apply-template", false)
	return ActionResult{
		Success: false,
		Action:  "apply-template",
		Error:   "no device specified for apply-template action: provide 'device_name', 'device_names', or 'device_group' in target",
	}
}

func (d *Dispatcher) applyToAll(ctx context.Context, template string, devices []string) ActionResult {
	var successful, failed []string
	for _, device := range devices {
		if err := d.nso.ApplyTemplate(ctx, device, template); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", device, err))
		} else {
			successful = append(successful, device)
		}
	}
	ok := len(failed) == 0
	d.countAction("apply-template", ok)
	return ActionResult{
		Success:    ok,
		Action:     "apply-template",
		Devices:    devices,
		Template:   template,
		Successful: successful,
		Failed:     failed,
	}
}

// CheckSync checks whether a device is in sync with NSO.
func (d *Dispatcher) CheckSync(ctx context.Context, device string) ActionResult {
	out, err := d.nso.CheckDeviceSync(ctx, device)
	if err != nil {
		return ActionResult{
			Success: false,
			Device:  device,
			Error:   err.Error(),
			Message: fmt.Sprintf("Failed to check sync status for '%s'", device),
		}
	}
	inSync := out.Result
	state := "in sync"
	if !inSync {
		state = "OUT OF SYNC"
	}
	return ActionResult{
		Success: true,
		Device:  device,
		InSync:  &inSync,
		Message: fmt.Sprintf("Device '%s' is %s", device, state),
	}
}

func (d *Dispatcher) countAction(action string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	metrics.RemediationActionsTotal.WithLabelValues(action, status).Inc()
}
