package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// ArtifactClient downloads a report artifact addressed by URL and returns
// its raw content. The NSO JSON-RPC downloader implements this.
type ArtifactClient interface {
	Download(ctx context.Context, url string) (string, error)
}

// MetadataClient resolves a compliance report id through NSO's report-result
// records: the artifact URL for downloads, and the full metadata entry when
// the artifact itself is unreachable. The RESTCONF client implements this.
type MetadataClient interface {
	ReportURL(ctx context.Context, reportID string) (string, error)
	ReportResult(ctx context.Context, reportID string) (map[string]interface{}, error)
}

// Retriever resolves a report reference (local path, URL, or report id)
// to the artifact's content. Downloaded artifacts are cached under a
// scratch directory with a deterministic name so repeated analysis of the
// same report does not re-download it.
type Retriever struct {
	artifacts ArtifactClient
	metadata  MetadataClient
	dir       string
	log       *zap.Logger
}

// NewRetriever creates a retriever writing downloads under dir.
func NewRetriever(artifacts ArtifactClient, metadata MetadataClient, dir string, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{artifacts: artifacts, metadata: metadata, dir: dir, log: log}
}

var numericRef = regexp.MustCompile(`^\d+$`)

// Resolve turns a report reference into the artifact's content, returning
// the local path it was read from alongside the raw content.
//
// References are tried in order of specificity: an existing local file
// path, a URL, then a bare report id resolved through NSO metadata.
func (r *Retriever) Resolve(ctx context.Context, ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("empty report reference")
	}

	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", "", fmt.Errorf("reading report file %s: %w", ref, err)
		}
		metrics.ReportsRetrieved.WithLabelValues("file").Inc()
		return ref, string(data), nil
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return r.fetch(ctx, ref)
	}

	if numericRef.MatchString(ref) {
		if r.metadata == nil {
			return "", "", fmt.Errorf("cannot resolve report id %s: no metadata client", ref)
		}
		url, err := r.metadata.ReportURL(ctx, ref)
		if err != nil {
			return "", "", fmt.Errorf("looking up report %s: %w", ref, err)
		}
		path, content, err := r.fetch(ctx, url)
		if err != nil {
			return r.metadataFallback(ctx, ref, err)
		}
		return path, content, nil
	}

	return "", "", fmt.Errorf("unrecognized report reference %q", ref)
}

// metadataFallback serves the report-result record itself when the artifact
// cannot be downloaded. The record carries the run outcome and device counts,
// enough for the analyzer to work with, so a dead artifact URL degrades to a
// thinner analysis instead of a failed turn.
func (r *Retriever) metadataFallback(ctx context.Context, reportID string, cause error) (string, string, error) {
	entry, metaErr := r.metadata.ReportResult(ctx, reportID)
	if metaErr != nil {
		return "", "", fmt.Errorf("downloading report %s: %w (metadata lookup also failed: %v)", reportID, cause, metaErr)
	}
	rendered, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("rendering report %s metadata: %w", reportID, err)
	}
	r.log.Warn("report artifact unreachable, serving result metadata",
		zap.String("report_id", reportID),
		zap.Error(cause),
	)
	metrics.ReportsRetrieved.WithLabelValues("metadata").Inc()
	return "", string(rendered), nil
}

func (r *Retriever) fetch(ctx context.Context, url string) (string, string, error) {
	path := filepath.Join(r.dir, scratchName(url))
	if data, err := os.ReadFile(path); err == nil {
		r.log.Debug("report artifact cache hit", zap.String("path", path))
		metrics.ReportsRetrieved.WithLabelValues("file").Inc()
		return path, string(data), nil
	}

	if r.artifacts == nil {
		return "", "", fmt.Errorf("cannot download %s: no artifact client", url)
	}
	content, err := r.artifacts.Download(ctx, url)
	if err != nil {
		return "", "", fmt.Errorf("downloading report: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", fmt.Errorf("writing report artifact: %w", err)
	}
	r.log.Info("downloaded report artifact",
		zap.String("url", url),
		zap.String("path", path),
		zap.Int("chars", len(content)),
	)
	metrics.ReportsRetrieved.WithLabelValues("url").Inc()
	return path, content, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// scratchName derives a stable filesystem name from a report URL.
func scratchName(url string) string {
	name := url
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	if !strings.HasSuffix(name, ".html") && !strings.HasSuffix(name, ".txt") && !strings.HasSuffix(name, ".xml") {
		name += ".html"
	}
	return name
}
