// Package db persists execution history and audit events. Sessions
// themselves live in memory; what lands here is the durable trail of what
// was run against the network and by whom.
package db

import (
	"context"
	"time"
)

// ReportRunRecord is one execution of a compliance report.
type ReportRunRecord struct {
	ID         int64
	SessionKey string
	ReportName string
	ResultID   string
	Status     string
	Location   string
	RanAt      time.Time
}

// ExecutionRecord is one remediation batch execution or CWM dispatch.
type ExecutionRecord struct {
	ID                int64
	SessionKey        string
	Kind              string // "batch" or "workflow"
	PlanJSON          string
	Success           bool
	TotalActions      int
	SuccessfulActions int
	FailedActions     int
	ResultJSON        string
	ExecutedAt        time.Time
}

// AuditEvent is one notable action taken through the service.
type AuditEvent struct {
	ID         int64
	SessionKey string
	EventType  string
	Resource   string
	Action     string
	Result     string
	Detail     string
	Timestamp  time.Time
}

// Store is the persistence interface.
type Store interface {
	SaveReportRun(ctx context.Context, rec *ReportRunRecord) error
	ListReportRuns(ctx context.Context, sessionKey string, limit int) ([]ReportRunRecord, error)

	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, sessionKey string, limit int) ([]ExecutionRecord, error)

	SaveAuditEvent(ctx context.Context, ev *AuditEvent) error
	ListAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error)

	Ping(ctx context.Context) error
	Close() error
}
