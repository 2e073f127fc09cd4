package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/llm/adapter"
	"github.com/devnet-ops/compliance-ai/internal/llm/types"
	"github.com/devnet-ops/compliance-ai/internal/metrics"
	"github.com/devnet-ops/compliance-ai/internal/report"
)

// ArtifactResolver locates a report artifact by reference (file path, URL,
// or numeric id) and returns its raw content.
type ArtifactResolver interface {
	Resolve(ctx context.Context, ref string) (path, content string, err error)
}

const noReportGuidance = "I could not find a compliance report to analyze. " +
	"Run a compliance report first, or give me a report id, URL, or file path."

// Analyzer retrieves a report artifact, normalizes it, and asks the model
// for a structured analysis.
type Analyzer struct {
	llm       adapter.LLMAdapter
	resolver  ArtifactResolver
	formatter *report.Normalizer
	log       *zap.Logger
}

// NewAnalyzer wires the analyze phase.
func NewAnalyzer(llm adapter.LLMAdapter, resolver ArtifactResolver, formatter *report.Normalizer, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	if formatter == nil {
		formatter = report.NewNormalizer(log)
	}
	return &Analyzer{llm: llm, resolver: resolver, formatter: formatter, log: log}
}

// Run locates the report for sess and interprets it. Every outcome is a
// normal message: a missing report yields guidance, not an error. Only
// model transport failures return err, for the caller's fallback handling.
func (a *Analyzer) Run(ctx context.Context, sess *Session) (string, error) {
	start := time.Now()
	defer func() {
		metrics.PhaseDuration.WithLabelValues(string(StateAnalyze)).Observe(time.Since(start).Seconds())
	}()

	content, ok := a.locateContent(ctx, sess)
	if !ok {
		return noReportGuidance, nil
	}

	res, err := a.interpret(ctx, content)
	if err != nil {
		return "", fmt.Errorf("analysis failed: %w", err)
	}

	sess.ReportContent = content
	sess.ApplyAnalysis(res)
	a.log.Info("analysis complete",
		zap.String("session", sess.Key),
		zap.Int("violations", len(res.Violations)),
		zap.Int("remediation_items", len(res.RemediationItems)))
	return res.Summary, nil
}

// locateContent applies the artifact resolution order: explicit file path,
// then already-captured content, then report URL or id, then a numeric
// reference scanned from prior user turns.
func (a *Analyzer) locateContent(ctx context.Context, sess *Session) (string, bool) {
	if sess.ReportFilePath != "" {
		data, err := os.ReadFile(sess.ReportFilePath)
		if err == nil {
			return a.formatter.Normalize(string(data), report.FormatAuto), true
		}
		a.log.Warn("report file unreadable, trying other references",
			zap.String("path", sess.ReportFilePath), zap.Error(err))
	}

	if sess.ReportContent != "" {
		return a.formatter.Normalize(sess.ReportContent, report.FormatAuto), true
	}

	ref := sess.ReportURL
	if ref == "" {
		ref = sess.ReportID
	}
	if ref == "" {
		ref = scanUserTurnsForReportRef(sess.Turns)
	}
	if ref == "" {
		return "", false
	}

	path, raw, err := a.resolver.Resolve(ctx, ref)
	if err != nil && sess.ReportID != "" && ref != sess.ReportID {
		// A dead artifact URL can still be resolved through the report id,
		// which falls back to NSO's result metadata.
		a.log.Warn("report retrieval failed, retrying by id",
			zap.String("ref", ref), zap.String("report_id", sess.ReportID), zap.Error(err))
		path, raw, err = a.resolver.Resolve(ctx, sess.ReportID)
	}
	if err != nil {
		a.log.Warn("report retrieval failed", zap.String("ref", ref), zap.Error(err))
		return "", false
	}
	if path != "" {
		sess.ReportFilePath = path
	}
	return a.formatter.Normalize(raw, report.FormatAuto), true
}

func (a *Analyzer) interpret(ctx context.Context, content string) (*AnalysisResult, error) {
	raw, err := a.llm.CompleteStructured(ctx, []types.Message{
		{Role: "user", Content: analyzerPrompt + content},
	}, "compliance_analysis", AnalysisSchema())
	if err != nil {
		return nil, err
	}
	var res AnalysisResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("structured analysis did not match schema: %w", err)
	}
	return &res, nil
}

var reportRefPattern = regexp.MustCompile(`(?i)\breport\s*#?\s*(\d+)\b`)

// scanUserTurnsForReportRef looks for an explicit numeric report reference
// in user turns, most recent first.
func scanUserTurnsForReportRef(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != RoleUser {
			continue
		}
		if m := reportRefPattern.FindStringSubmatch(turns[i].Content); m != nil {
			return m[1]
		}
	}
	return ""
}
