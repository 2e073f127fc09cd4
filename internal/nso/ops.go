package nso

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SyncOutput is the decoded output container of a sync or check-sync action.
type SyncOutput struct {
	Result bool
	Info   string
}

func decodeSyncOutput(raw map[string]interface{}) SyncOutput {
	out := SyncOutput{}
	container, ok := raw["tailf-ncs:output"].(map[string]interface{})
	if !ok {
		return out
	}
	switch v := container["result"].(type) {
	case bool:
		out.Result = v
	case string:
		// check-sync reports an enum: in-sync / out-of-sync / unknown
		out.Info = v
		out.Result = v == "in-sync"
	}
	if info, ok := container["info"].(string); ok && out.Info == "" {
		out.Info = info
	}
	return out
}

// SyncToDevice pushes NSO's stored configuration to the device.
func (c *Client) SyncToDevice(ctx context.Context, device string) (SyncOutput, error) {
	raw, err := c.postAction(ctx, "sync-to", fmt.Sprintf("tailf-ncs:devices/device=%s/sync-to", device))
	if err != nil {
		return SyncOutput{}, err
	}
	out := decodeSyncOutput(raw)
	c.log.Info("sync-to completed", zap.String("device", device), zap.Bool("result", out.Result))
	return out, nil
}

// SyncFromDevice pulls the device's running configuration into NSO.
func (c *Client) SyncFromDevice(ctx context.Context, device string) (SyncOutput, error) {
	raw, err := c.postAction(ctx, "sync-from", fmt.Sprintf("tailf-ncs:devices/device=%s/sync-from", device))
	if err != nil {
		return SyncOutput{}, err
	}
	out := decodeSyncOutput(raw)
	c.log.Info("sync-from completed", zap.String("device", device), zap.Bool("result", out.Result))
	return out, nil
}

// CheckDeviceSync compares NSO's stored configuration with the device's.
func (c *Client) CheckDeviceSync(ctx context.Context, device string) (SyncOutput, error) {
	raw, err := c.postAction(ctx, "check-sync", fmt.Sprintf("tailf-ncs:devices/device=%s/check-sync", device))
	if err != nil {
		return SyncOutput{}, err
	}
	return decodeSyncOutput(raw), nil
}

// RedeployService re-deploys a service instance.
//
// serviceType comes in two shapes. A qualified path from NSO's service-type
// list ("/l3vpn:vpn/l3vpn:l3vpn") is used directly after stripping the
// leading slash. A bare name ("loopback-demo") is doubled into the
// module:type form NSO expects.
func (c *Client) RedeployService(ctx context.Context, serviceType, serviceInstance string) error {
	serviceType = strings.TrimPrefix(serviceType, "/")

	var path string
	if strings.Contains(serviceType, ":") {
		path = fmt.Sprintf("tailf-ncs:services/%s=%s/re-deploy", serviceType, serviceInstance)
	} else {
		path = fmt.Sprintf("tailf-ncs:services/%s:%s=%s/re-deploy", serviceType, serviceType, serviceInstance)
	}
	c.log.Info("re-deploying service",
		zap.String("service_type", serviceType),
		zap.String("instance", serviceInstance),
		zap.String("path", path),
	)

	_, err := c.postAction(ctx, "re-deploy", path)
	return err
}

// ApplyTemplate applies a device template to a device. Device templates
// carry the corrective configuration for compliance violations; the
// action input is XML on this endpoint.
func (c *Client) ApplyTemplate(ctx context.Context, device, template string) error {
	path := fmt.Sprintf("tailf-ncs:devices/device=%s/apply-template", device)
	payload := fmt.Sprintf("<input>\r\n    <template-name>%s</template-name>\r\n</input>", template)
	if err := c.postXML(ctx, "apply-template", path, payload); err != nil {
		return err
	}
	c.log.Info("applied device template", zap.String("device", device), zap.String("template", template))
	return nil
}

// ListDevices returns the names of all managed devices.
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	raw, err := c.getJSON(ctx, "list-devices", "tailf-ncs:devices/device?fields=name")
	if err != nil {
		return nil, err
	}
	devices, _ := raw["tailf-ncs:device"].([]interface{})
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if m, ok := d.(map[string]interface{}); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// ListDeviceGroups returns the names of all configured device groups.
func (c *Client) ListDeviceGroups(ctx context.Context) ([]string, error) {
	raw, err := c.getJSON(ctx, "list-device-groups", "tailf-ncs:devices/device-group")
	if err != nil {
		return nil, err
	}
	groups, _ := raw["tailf-ncs:device-group"].([]interface{})
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		if m, ok := g.(map[string]interface{}); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// ResolveDeviceGroup returns the member devices of a device group.
func (c *Client) ResolveDeviceGroup(ctx context.Context, group string) ([]string, error) {
	raw, err := c.getJSON(ctx, "resolve-device-group", fmt.Sprintf("tailf-ncs:devices/device-group=%s", group))
	if err != nil {
		return nil, fmt.Errorf("resolving device group %s: %w", group, err)
	}
	entries, _ := raw["tailf-ncs:device-group"].([]interface{})
	if len(entries) == 0 {
		return nil, fmt.Errorf("device group %s not found", group)
	}
	entry, _ := entries[0].(map[string]interface{})

	// device-name lists direct members; member includes devices pulled in
	// from nested groups. Prefer the flattened member list when present.
	var members []string
	for _, key := range []string{"member", "device-name"} {
		list, _ := entry[key].([]interface{})
		if len(list) == 0 {
			continue
		}
		for _, v := range list {
			if s, ok := v.(string); ok {
				members = append(members, s)
			}
		}
		break
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("device group %s has no members", group)
	}
	return members, nil
}

// ListDeviceTemplates returns the names of available device templates.
func (c *Client) ListDeviceTemplates(ctx context.Context) ([]string, error) {
	raw, err := c.getJSON(ctx, "list-device-templates", "tailf-ncs:devices/template")
	if err != nil {
		return nil, err
	}
	templates, _ := raw["tailf-ncs:template"].([]interface{})
	names := make([]string, 0, len(templates))
	for _, t := range templates {
		if m, ok := t.(map[string]interface{}); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// ListServiceTypes returns the service-type paths registered in NSO,
// e.g. "/l3vpn:vpn/l3vpn:l3vpn".
func (c *Client) ListServiceTypes(ctx context.Context) ([]string, error) {
	raw, err := c.getJSON(ctx, "list-service-types", "tailf-ncs:services/service-type")
	if err != nil {
		return nil, err
	}
	types, _ := raw["tailf-ncs:service-type"].([]interface{})
	names := make([]string, 0, len(types))
	for _, t := range types {
		if m, ok := t.(map[string]interface{}); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// ReportResult fetches the report-result metadata entry for a compliance
// report id: run outcome, device counts, and the artifact location.
func (c *Client) ReportResult(ctx context.Context, reportID string) (map[string]interface{}, error) {
	raw, err := c.getJSON(ctx, "report-metadata",
		fmt.Sprintf("tailf-ncs:compliance/report-results/report-result=%s", reportID))
	if err != nil {
		return nil, err
	}
	entries, _ := raw["tailf-ncs:report-result"].([]interface{})
	if len(entries) == 0 {
		return nil, fmt.Errorf("report result %s not found", reportID)
	}
	entry, _ := entries[0].(map[string]interface{})
	if entry == nil {
		return nil, fmt.Errorf("report result %s has malformed metadata", reportID)
	}
	return entry, nil
}

// ReportURL looks up where a compliance report result's artifact lives.
// Satisfies the report retriever's metadata lookup when a session only
// knows a report id.
func (c *Client) ReportURL(ctx context.Context, reportID string) (string, error) {
	entry, err := c.ReportResult(ctx, reportID)
	if err != nil {
		return "", err
	}
	loc, _ := entry["location"].(string)
	if loc == "" {
		return "", fmt.Errorf("report result %s has no artifact location", reportID)
	}
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return loc, nil
	}
	return c.cfg.BaseURL() + "/" + strings.TrimPrefix(loc, "/"), nil
}
