package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Compliance agent metrics for production monitoring
var (
	// Session metrics
	SessionTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_session_turns_total",
			Help: "Total number of session turns processed",
		},
		[]string{"phase", "status"},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_ai_phase_duration_seconds",
			Help:    "Workflow phase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"phase"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compliance_ai_active_sessions",
			Help: "Current number of tracked sessions",
		},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_ai_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_tool_calls_total",
			Help: "Total number of agent tool calls",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_ai_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"tool"},
	)

	// Remediation metrics
	RemediationActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_remediation_actions_total",
			Help: "Total number of remediation actions dispatched",
		},
		[]string{"action", "status"},
	)

	RemediationBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_remediation_batches_total",
			Help: "Total number of remediation batches executed",
		},
		[]string{"status"}, // status: success/partial/failed
	)

	// NSO client metrics
	NSORequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_nso_requests_total",
			Help: "Total number of NSO RESTCONF requests",
		},
		[]string{"operation", "status"},
	)

	NSORequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_ai_nso_request_duration_seconds",
			Help:    "NSO RESTCONF request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"operation"},
	)

	// CWM workflow metrics
	CWMWorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_cwm_workflows_total",
			Help: "Total number of CWM workflow executions requested",
		},
		[]string{"schedule", "status"},
	)

	// Report metrics
	ReportCharsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compliance_ai_report_chars_processed_total",
			Help: "Total characters of report content preprocessed",
		},
	)

	ReportsRetrieved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_reports_retrieved_total",
			Help: "Total number of compliance report artifacts retrieved",
		},
		[]string{"source"}, // source: file/url/metadata
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compliance_ai_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_ai_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
