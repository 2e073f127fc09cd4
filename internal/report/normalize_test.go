package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNormalizePlainTextPassthrough(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	in := "Compliance check for router-1\nRule ntp-servers: VIOLATION"
	got := n.Normalize(in, FormatAuto)
	if got != in {
		t.Errorf("plain text changed:\n%q\n%q", in, got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	in := "line one\n\n\n\nline   two\n### Details\nold history"
	once := n.Normalize(in, FormatAuto)
	twice := n.Normalize(once, FormatAuto)
	if once != twice {
		t.Errorf("not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestNormalizeTruncatesHistory(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	got := n.Normalize("summary\n### Details\nhistory...", FormatAuto)
	if got != "summary" {
		t.Errorf("got %q, want %q", got, "summary")
	}
}

func TestNormalizeWithoutMarkerKeepsAll(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	in := "summary only, no history section"
	if got := n.Normalize(in, FormatAuto); got != in {
		t.Errorf("got %q, want %q", got, in)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	got := n.Normalize("a\n\n\n\n\nb    c", FormatText)
	if got != "a\n\nb c" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeHTMLReport(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	in := `<!DOCTYPE html>
<html><head><style>body { color: red; }</style>
<script>alert("hi")</script></head>
<body>
<h2>Compliance Report</h2>
<p>Devices out of sync:</p>
<ul><li>router-1</li><li>router-2</li></ul>
<table>
<tr><th>Device</th><th>Rule</th><th>Status</th></tr>
<tr><td>router-1</td><td>ntp</td><td>violation</td></tr>
</table>
</body></html>`
	got := n.Normalize(in, FormatAuto)

	if strings.Contains(got, "color: red") || strings.Contains(got, "alert") {
		t.Errorf("style/script content leaked: %q", got)
	}
	for _, want := range []string{
		"### Compliance Report",
		"- router-1",
		"- router-2",
		"Device | Rule | Status",
		"router-1 | ntp | violation",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNormalizeHTMLHintOverridesSniff(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	// No <html> in the head of the document, hint forces extraction.
	got := n.Normalize("<h3>Summary</h3><p>ok</p>", FormatHTML)
	if !strings.Contains(got, "### Summary") {
		t.Errorf("hint ignored: %q", got)
	}
}

func TestIsHTML(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"<!DOCTYPE html><html>", true},
		{"  <html lang=\"en\">", true},
		{"some preamble <html>", true},
		{"plain text report", false},
		{"device <router-1> config", false},
	}
	for _, c := range cases {
		if got := IsHTML(c.in); got != c.want {
			t.Errorf("IsHTML(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

type fakeArtifacts struct {
	content string
	err     error
	calls   int
}

func (f *fakeArtifacts) Download(_ context.Context, url string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

type fakeMetadata struct {
	url    string
	result map[string]interface{}
	err    error
}

func (f *fakeMetadata) ReportURL(_ context.Context, id string) (string, error) {
	return f.url, nil
}

func (f *fakeMetadata) ReportResult(_ context.Context, id string) (map[string]interface{}, error) {
	return f.result, f.err
}

func TestRetrieverResolvesLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("report body"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRetriever(nil, nil, dir, zap.NewNop())
	gotPath, content, err := r.Resolve(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != path || content != "report body" {
		t.Errorf("got (%q, %q)", gotPath, content)
	}
}

func TestRetrieverDownloadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeArtifacts{content: "<html>report</html>"}
	r := NewRetriever(fa, nil, dir, zap.NewNop())

	url := "http://nso:8080/compliance-reports/report_7.html"
	_, content, err := r.Resolve(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	if content != fa.content {
		t.Errorf("got %q", content)
	}

	// Second resolve hits the scratch cache.
	if _, _, err := r.Resolve(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	if fa.calls != 1 {
		t.Errorf("downloaded %d times, want 1", fa.calls)
	}
}

func TestRetrieverNumericIDUsesMetadata(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeArtifacts{content: "body"}
	fm := &fakeMetadata{url: "http://nso:8080/compliance-reports/report_5.html"}
	r := NewRetriever(fa, fm, dir, zap.NewNop())

	_, content, err := r.Resolve(context.Background(), "5")
	if err != nil {
		t.Fatal(err)
	}
	if content != "body" {
		t.Errorf("got %q", content)
	}
}

func TestRetrieverFallsBackToResultMetadata(t *testing.T) {
	fa := &fakeArtifacts{err: errors.New("connection refused")}
	fm := &fakeMetadata{
		url: "http://nso:8080/compliance-reports/report_5.html",
		result: map[string]interface{}{
			"id":         float64(5),
			"compliance": "violations",
			"devices":    float64(3),
			"time":       "2026-08-29T10:00:00",
			"location":   "http://nso:8080/compliance-reports/report_5.html",
		},
	}
	r := NewRetriever(fa, fm, t.TempDir(), zap.NewNop())

	path, content, err := r.Resolve(context.Background(), "5")
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Errorf("metadata fallback has no local artifact, got path %q", path)
	}
	var rendered map[string]interface{}
	if err := json.Unmarshal([]byte(content), &rendered); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if rendered["compliance"] != "violations" {
		t.Errorf("got %v", rendered)
	}
}

func TestRetrieverReportsBothFailures(t *testing.T) {
	fa := &fakeArtifacts{err: errors.New("connection refused")}
	fm := &fakeMetadata{
		url: "http://nso:8080/compliance-reports/report_5.html",
		err: errors.New("report result 5 not found"),
	}
	r := NewRetriever(fa, fm, t.TempDir(), zap.NewNop())

	_, _, err := r.Resolve(context.Background(), "5")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "connection refused") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error hides a cause: %v", err)
	}
}

func TestRetrieverRejectsUnknownReference(t *testing.T) {
	r := NewRetriever(nil, nil, t.TempDir(), zap.NewNop())
	if _, _, err := r.Resolve(context.Background(), "not a report ref"); err == nil {
		t.Error("expected error")
	}
}
