// Package report converts raw NSO compliance report artifacts into compact
// text suitable for LLM analysis, and retrieves those artifacts from NSO.
package report

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// Format hints the artifact format to Normalize.
type Format string

const (
	FormatAuto Format = ""     // sniff the content
	FormatHTML Format = "html" // force HTML extraction
	FormatText Format = "text" // force plain-text passthrough
)

// detailsMarker starts the historical/audit-trail section of NSO reports
// (device timestamps, commit history). Everything from the marker on is
// irrelevant to violation analysis and is dropped.
const detailsMarker = "### Details"

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	multiSpace = regexp.MustCompile(` {2,}`)
)

// Normalizer preprocesses compliance report content.
type Normalizer struct {
	log *zap.Logger
}

// NewNormalizer creates a report normalizer.
func NewNormalizer(log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{log: log}
}

// Normalize converts a report artifact into cleaned-up plain text.
//
// HTML artifacts are walked and flattened (headings, lists, tables); plain
// text passes through. Both share a common cleanup step, and the trailing
// history section starting at "### Details" is discarded. Normalize is
// idempotent on its own output.
func (n *Normalizer) Normalize(content string, hint Format) string {
	if content == "" {
		return ""
	}

	var text string
	if hint == FormatHTML || (hint == FormatAuto && IsHTML(content)) {
		n.log.Debug("preprocessing HTML compliance report")
		text = extractHTMLText(content)
	} else {
		text = content
	}

	text = blankLines.ReplaceAllString(text, "\n\n")
	text = multiSpace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	// Deterministic truncation: drop the history section if present.
	// A report without the marker is kept in full; that is expected for
	// text-format reports and short audits.
	if idx := strings.Index(text, detailsMarker); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
		n.log.Info("removed report history section", zap.String("marker", detailsMarker))
	}

	origLen := len(content)
	reduction := 0.0
	if origLen > 0 {
		reduction = float64(origLen-len(text)) / float64(origLen) * 100
	}
	n.log.Info("preprocessed compliance report",
		zap.Int("original_chars", origLen),
		zap.Int("processed_chars", len(text)),
		zap.Float64("reduction_pct", reduction),
	)
	metrics.ReportCharsProcessed.Add(float64(origLen))

	return text
}

// IsHTML reports whether content looks like an HTML document. Only the
// first 500 characters are inspected.
func IsHTML(content string) bool {
	head := strings.TrimSpace(content)
	if len(head) > 500 {
		head = head[:500]
	}
	head = strings.ToLower(head)
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<html")
}

// extractHTMLText walks an HTML document and emits readable text:
// newlines for breaks and paragraphs, "### " before headings, "- " before
// list items, and tables flattened into "cell | cell" rows. Style and
// script contents are dropped entirely. A document that cannot be
// tokenized degrades to the raw input rather than failing.
func extractHTMLText(content string) string {
	var (
		out       strings.Builder
		skipDepth int // inside <style>/<script>
		inTable   bool
		inCell    bool
		row       []string
		rows      [][]string
		cell      strings.Builder
	)

	flushCell := func() {
		if text := strings.TrimSpace(cell.String()); text != "" {
			row = append(row, text)
		}
		cell.Reset()
	}

	tz := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := tz.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tz.TagName()
			switch string(name) {
			case "style", "script":
				if tt == html.StartTagToken {
					skipDepth++
				}
			case "table":
				inTable = true
				rows = nil
			case "tr":
				row = nil
			case "td", "th":
				inCell = true
				cell.Reset()
			case "br":
				out.WriteString("\n")
			case "h1", "h2", "h3", "h4":
				out.WriteString("\n\n### ")
			case "p":
				out.WriteString("\n")
			case "li":
				out.WriteString("\n- ")
			}

		case html.EndTagToken:
			name, _ := tz.TagName()
			switch string(name) {
			case "style", "script":
				if skipDepth > 0 {
					skipDepth--
				}
			case "table":
				inTable = false
				if len(rows) > 0 {
					out.WriteString("\n")
					for _, r := range rows {
						out.WriteString(strings.Join(r, " | "))
						out.WriteString("\n")
					}
					out.WriteString("\n")
				}
			case "tr":
				if inTable {
					flushCell()
					if len(row) > 0 {
						rows = append(rows, row)
						row = nil
					}
				}
			case "td", "th":
				if inTable {
					flushCell()
				}
				inCell = false
			case "h1", "h2", "h3", "h4", "div":
				out.WriteString("\n")
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tz.Text()))
			if text == "" {
				continue
			}
			if inTable && inCell {
				if cell.Len() > 0 {
					cell.WriteString(" ")
				}
				cell.WriteString(text)
			} else {
				out.WriteString(text)
				out.WriteString(" ")
			}
		}
	}

	result := strings.TrimSpace(out.String())
	if result == "" {
		// Tokenizer produced nothing useful; keep the raw content so the
		// model at least sees something.
		return content
	}
	return result
}
