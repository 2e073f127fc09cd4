package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Schema version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS report_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_key  TEXT NOT NULL DEFAULT '',
    report_name  TEXT NOT NULL,
    result_id    TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT '',
    location     TEXT NOT NULL DEFAULT '',
    ran_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_report_runs_session ON report_runs(session_key, ran_at DESC);
CREATE INDEX IF NOT EXISTS idx_report_runs_ran_at  ON report_runs(ran_at DESC);

CREATE TABLE IF NOT EXISTS executions (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    session_key         TEXT NOT NULL DEFAULT '',
    kind                TEXT NOT NULL DEFAULT 'batch',
    plan_json           TEXT NOT NULL DEFAULT '[]',
    success             BOOLEAN NOT NULL DEFAULT 0,
    total_actions       INTEGER NOT NULL DEFAULT 0,
    successful_actions  INTEGER NOT NULL DEFAULT 0,
    failed_actions      INTEGER NOT NULL DEFAULT 0,
    result_json         TEXT NOT NULL DEFAULT '{}',
    executed_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_session     ON executions(session_key, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at DESC);

CREATE TABLE IF NOT EXISTS audit_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_key  TEXT NOT NULL DEFAULT '',
    event_type   TEXT NOT NULL,
    resource     TEXT NOT NULL DEFAULT '',
    action       TEXT NOT NULL DEFAULT '',
    result       TEXT NOT NULL DEFAULT '',
    detail       TEXT NOT NULL DEFAULT '',
    timestamp    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_resource  ON audit_events(resource);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) SaveReportRun(ctx context.Context, rec *ReportRunRecord) error {
	if rec.RanAt.IsZero() {
		rec.RanAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO report_runs(session_key, report_name, result_id, status, location, ran_at)
        VALUES(?,?,?,?,?,?)
    `, rec.SessionKey, rec.ReportName, rec.ResultID, rec.Status, rec.Location, rec.RanAt.UTC())
	if err != nil {
		return fmt.Errorf("insert report run: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func (s *sqliteStore) ListReportRuns(ctx context.Context, sessionKey string, limit int) ([]ReportRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_key, report_name, result_id, status, location, ran_at
        FROM report_runs
        WHERE (? = '' OR session_key = ?)
        ORDER BY ran_at DESC LIMIT ?
    `, sessionKey, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query report runs: %w", err)
	}
	defer rows.Close()

	var out []ReportRunRecord
	for rows.Next() {
		var rec ReportRunRecord
		if err := rows.Scan(&rec.ID, &rec.SessionKey, &rec.ReportName, &rec.ResultID, &rec.Status, &rec.Location, &rec.RanAt); err != nil {
			return nil, fmt.Errorf("scan report run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO executions(session_key, kind, plan_json, success, total_actions, successful_actions, failed_actions, result_json, executed_at)
        VALUES(?,?,?,?,?,?,?,?,?)
    `, rec.SessionKey, rec.Kind, rec.PlanJSON, rec.Success, rec.TotalActions, rec.SuccessfulActions, rec.FailedActions, rec.ResultJSON, rec.ExecutedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func (s *sqliteStore) ListExecutions(ctx context.Context, sessionKey string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_key, kind, plan_json, success, total_actions, successful_actions, failed_actions, result_json, executed_at
        FROM executions
        WHERE (? = '' OR session_key = ?)
        ORDER BY executed_at DESC LIMIT ?
    `, sessionKey, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(&rec.ID, &rec.SessionKey, &rec.Kind, &rec.PlanJSON, &rec.Success,
			&rec.TotalActions, &rec.SuccessfulActions, &rec.FailedActions, &rec.ResultJSON, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveAuditEvent(ctx context.Context, ev *AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_events(session_key, event_type, resource, action, result, detail, timestamp)
        VALUES(?,?,?,?,?,?,?)
    `, ev.SessionKey, ev.EventType, ev.Resource, ev.Action, ev.Result, ev.Detail, ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

func (s *sqliteStore) ListAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_key, event_type, resource, action, result, detail, timestamp
        FROM audit_events ORDER BY timestamp DESC, id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.ID, &ev.SessionKey, &ev.EventType, &ev.Resource, &ev.Action, &ev.Result, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
