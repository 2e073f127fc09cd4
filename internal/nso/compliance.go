package nso

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// ReportSpec describes a compliance report definition. Exactly how NSO
// models it: a report checks devices, services, or both against sync state
// and compliance templates.
type ReportSpec struct {
	Name string

	DeviceCheckAll    bool
	Devices           []string
	DeviceGroups      []string
	DeviceSelectXPath string
	Templates         []string
	DeviceOutOfSync   *bool // nil means NSO default (true)
	DeviceHistoric    *bool

	ServiceCheckAll  bool
	ServiceTypes     []string
	ServiceOutOfSync *bool
	ServiceHistoric  *bool
}

// HasTargets reports whether the spec names at least one device or service
// check. NSO rejects target-less reports with "invalid path" at run time,
// so this is validated up front.
func (s ReportSpec) HasTargets() bool {
	deviceCheck := s.DeviceCheckAll || len(s.Devices) > 0 || len(s.DeviceGroups) > 0 || s.DeviceSelectXPath != ""
	serviceCheck := s.ServiceCheckAll || len(s.ServiceTypes) > 0
	return deviceCheck || serviceCheck
}

// Commands renders the spec into NSO CLI set commands.
func (s ReportSpec) Commands() []string {
	base := fmt.Sprintf("compliance reports report %s", s.Name)
	var cmds []string

	switch {
	case s.DeviceCheckAll:
		cmds = append(cmds, fmt.Sprintf("set %s device-check all-devices", base))
	case len(s.DeviceGroups) > 0:
		for _, g := range s.DeviceGroups {
			cmds = append(cmds, fmt.Sprintf("set %s device-check device-group %s", base, g))
		}
	case len(s.Devices) > 0:
		for _, d := range s.Devices {
			cmds = append(cmds, fmt.Sprintf("set %s device-check device %s", base, d))
		}
	case s.DeviceSelectXPath != "":
		cmds = append(cmds, fmt.Sprintf("set %s device-check select-devices %s", base, s.DeviceSelectXPath))
	}

	hasDeviceCheck := s.DeviceCheckAll || len(s.Devices) > 0 || len(s.DeviceGroups) > 0 || s.DeviceSelectXPath != ""
	if hasDeviceCheck {
		if s.DeviceOutOfSync != nil && !*s.DeviceOutOfSync {
			cmds = append(cmds, fmt.Sprintf("set %s device-check current-out-of-sync false", base))
		}
		if s.DeviceHistoric != nil && !*s.DeviceHistoric {
			cmds = append(cmds, fmt.Sprintf("set %s device-check historic-changes false", base))
		}
	}
	for _, tmpl := range s.Templates {
		cmds = append(cmds, fmt.Sprintf("set %s device-check template %s", base, tmpl))
	}

	if s.ServiceCheckAll {
		cmds = append(cmds, fmt.Sprintf("set %s service-check all-services", base))
	}
	for _, st := range s.ServiceTypes {
		cmds = append(cmds, fmt.Sprintf("set %s service-check service-type %s", base, st))
	}
	if s.ServiceCheckAll || len(s.ServiceTypes) > 0 {
		if s.ServiceOutOfSync != nil && !*s.ServiceOutOfSync {
			cmds = append(cmds, fmt.Sprintf("set %s service-check current-out-of-sync false", base))
		}
		if s.ServiceHistoric != nil && !*s.ServiceHistoric {
			cmds = append(cmds, fmt.Sprintf("set %s service-check historic-changes false", base))
		}
	}
	return cmds
}

// RunRequest parameterizes one execution of an existing report definition.
type RunRequest struct {
	Name      string
	Title     string
	FromTime  string
	ToTime    string
	OutFormat string // text, html, xml, sqlite
}

// Command renders the run request as an NSO CLI request command.
func (r RunRequest) Command() string {
	parts := []string{fmt.Sprintf("request compliance reports report %s run", r.Name)}
	if r.Title != "" {
		parts = append(parts, fmt.Sprintf("title %q", r.Title))
	}
	if r.FromTime != "" {
		parts = append(parts, fmt.Sprintf("from %s", r.FromTime))
	}
	if r.ToTime != "" {
		parts = append(parts, fmt.Sprintf("to %s", r.ToTime))
	}
	format := r.OutFormat
	if format == "" {
		format = "html"
	}
	parts = append(parts, fmt.Sprintf("outformat %s", format))
	return strings.Join(parts, " ")
}

// TemplateSpec describes a compliance template to create from existing
// device configuration or a device template.
type TemplateSpec struct {
	Name             string
	DeviceTemplate   string
	Paths            []string
	MatchRate        *int
	ExcludeServices  bool
	CollapseListKeys string
}

// Command renders the spec as an NSO create-template command.
func (t TemplateSpec) Command() string {
	parts := []string{fmt.Sprintf("compliance create-template name %s", t.Name)}
	if t.DeviceTemplate != "" {
		parts = append(parts, fmt.Sprintf("device-template %s", t.DeviceTemplate))
	}
	if len(t.Paths) > 0 {
		parts = append(parts, fmt.Sprintf("path [ %s ]", strings.Join(t.Paths, " ")))
	}
	if t.MatchRate != nil {
		parts = append(parts, fmt.Sprintf("match-rate %d", *t.MatchRate))
	}
	if t.ExcludeServices {
		parts = append(parts, "exclude-service-config")
	}
	if t.CollapseListKeys != "" {
		parts = append(parts, fmt.Sprintf("collapse-list-keys %s", t.CollapseListKeys))
	}
	return strings.Join(parts, " ")
}

// RunResult is the parsed outcome of a report run.
type RunResult struct {
	ID       string
	Status   string
	Info     string
	Location string
	Raw      string
}

var runOutputField = regexp.MustCompile(`(?m)^\s*(id|compliance-status|info|location)\s+(.+?)\s*$`)

// ParseRunOutput extracts the result id, compliance status, and artifact
// location from NSO's run-report output.
func ParseRunOutput(output string) RunResult {
	res := RunResult{Raw: output}
	for _, m := range runOutputField.FindAllStringSubmatch(output, -1) {
		switch m[1] {
		case "id":
			if res.ID == "" {
				res.ID = m[2]
			}
		case "compliance-status":
			res.Status = m[2]
		case "info":
			res.Info = m[2]
		case "location":
			res.Location = m[2]
		}
	}
	return res
}

// ComplianceManager drives NSO compliance reporting through the CLI.
type ComplianceManager struct {
	cli CLIRunner
	log *zap.Logger
}

// NewComplianceManager creates a manager using the given CLI runner.
func NewComplianceManager(cli CLIRunner, log *zap.Logger) *ComplianceManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ComplianceManager{cli: cli, log: log}
}

// ConfigureReport creates or updates a report definition. With dryRun the
// commit is previewed without applying.
func (m *ComplianceManager) ConfigureReport(ctx context.Context, spec ReportSpec, dryRun bool) (string, error) {
	if !spec.HasTargets() {
		return "", fmt.Errorf("report %q has no targets configured: specify devices, device groups, all devices, all services, or service types", spec.Name)
	}
	m.log.Info("configuring compliance report", zap.String("report", spec.Name), zap.Bool("dry_run", dryRun))
	return m.cli.ExecuteConfig(ctx, spec.Commands(), dryRun)
}

// ShowReportConfig returns the configuration of one report, or all when
// name is empty.
func (m *ComplianceManager) ShowReportConfig(ctx context.Context, name string) (string, error) {
	cmd := "show configuration compliance reports"
	if name != "" {
		cmd += fmt.Sprintf(" report %s", name)
	}
	return m.cli.ExecuteRead(ctx, cmd)
}

// DeleteReport removes a report definition.
func (m *ComplianceManager) DeleteReport(ctx context.Context, name string) (string, error) {
	m.log.Warn("deleting compliance report definition", zap.String("report", name))
	return m.cli.ExecuteConfig(ctx, []string{fmt.Sprintf("delete compliance reports report %s", name)}, false)
}

// ListReportDefinitions lists configured report definitions and their
// running status.
func (m *ComplianceManager) ListReportDefinitions(ctx context.Context) (string, error) {
	return m.cli.ExecuteRead(ctx, "show compliance reports")
}

// validateReportTargets checks that the named report exists and has at
// least one device-check or service-check configured before running it.
// Validation failures at read time are logged and skipped; NSO reports
// the real error on run.
func (m *ComplianceManager) validateReportTargets(ctx context.Context, name string) error {
	config, err := m.ShowReportConfig(ctx, name)
	if err != nil {
		m.log.Warn("could not validate report before run", zap.String("report", name), zap.Error(err))
		return nil
	}
	if strings.Contains(config, "No entries found") || strings.TrimSpace(config) == "" {
		return fmt.Errorf("report %q does not exist: configure it first with device or service targets", name)
	}
	if !strings.Contains(config, "device-check") && !strings.Contains(config, "service-check") {
		return fmt.Errorf("report %q has no targets configured: NSO rejects target-less reports with 'invalid path'", name)
	}
	return nil
}

// RunReport executes a report definition and parses the result metadata.
func (m *ComplianceManager) RunReport(ctx context.Context, req RunRequest) (RunResult, error) {
	if err := m.validateReportTargets(ctx, req.Name); err != nil {
		return RunResult{}, err
	}
	m.log.Info("running compliance report", zap.String("report", req.Name))
	output, err := m.cli.ExecuteRead(ctx, req.Command())
	if err != nil {
		return RunResult{Raw: output}, err
	}
	return ParseRunOutput(output), nil
}

// ListResults lists historical report results (ids, status, artifact URLs).
func (m *ComplianceManager) ListResults(ctx context.Context) (string, error) {
	return m.cli.ExecuteRead(ctx, "show compliance report-results")
}

// RemoveResults deletes result history. ids is a single id ("3") or a
// range ("1..5").
func (m *ComplianceManager) RemoveResults(ctx context.Context, ids string) (string, error) {
	m.log.Info("removing report results", zap.String("ids", ids))
	return m.cli.ExecuteRead(ctx, fmt.Sprintf("request compliance report-results report %s remove", ids))
}

// CreateTemplate creates a compliance template.
func (m *ComplianceManager) CreateTemplate(ctx context.Context, spec TemplateSpec) (string, error) {
	m.log.Info("creating compliance template", zap.String("template", spec.Name))
	return m.cli.ExecuteConfig(ctx, []string{spec.Command()}, false)
}

// DeleteTemplate removes a compliance template.
func (m *ComplianceManager) DeleteTemplate(ctx context.Context, name string) (string, error) {
	m.log.Warn("deleting compliance template", zap.String("template", name))
	return m.cli.ExecuteConfig(ctx, []string{fmt.Sprintf("delete compliance template %s", name)}, false)
}

// ShowTemplates shows one or all compliance template configurations.
func (m *ComplianceManager) ShowTemplates(ctx context.Context, name string) (string, error) {
	cmd := "show running-config compliance template"
	if name != "" {
		cmd += " " + name
	}
	return m.cli.ExecuteRead(ctx, cmd)
}

// ListTemplates returns the names of all compliance templates.
func (m *ComplianceManager) ListTemplates(ctx context.Context) ([]string, error) {
	output, err := m.cli.ExecuteRead(ctx, "show compliance template")
	if err != nil {
		return nil, err
	}
	return parsePrefixedLines(output, "compliance template "), nil
}

// ListServiceTypes returns the service-type names registered in NSO,
// parsed from CLI output like "services service-type /ncs:services/l3vpn:vpn".
func (m *ComplianceManager) ListServiceTypes(ctx context.Context) ([]string, error) {
	output, err := m.cli.ExecuteRead(ctx, "show services service-type")
	if err != nil {
		return nil, err
	}
	return parsePrefixedLines(output, "services service-type "), nil
}

// ListDeviceGroups returns device group names from the CLI's tabular view.
func (m *ComplianceManager) ListDeviceGroups(ctx context.Context) ([]string, error) {
	output, err := m.cli.ExecuteRead(ctx, "show devices device-group | tab | de-select member")
	if err != nil {
		return nil, err
	}
	var groups []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "NAME") || strings.HasPrefix(line, "-") {
			continue
		}
		groups = append(groups, line)
	}
	return groups, nil
}

func parsePrefixedLines(output, prefix string) []string {
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			names = append(names, strings.TrimPrefix(line, prefix))
		}
	}
	return names
}
