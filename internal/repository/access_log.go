// Package repository provides data-access objects for the gateway's audit
// trail.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Access-log actions.
const (
	ActionSummary = "summary"
	ActionProxy   = "proxy"
)

// Entry is one row of the access_log table.
type Entry struct {
	OccurredAt time.Time
	RequestID  string
	Subject    string
	Email      string
	Action     string
	Resource   string
	Allowed    bool
	Reason     string
}

// AccessLogExecer is the database interface used by AccessLogRepository.
// Satisfied by *sql.DB and allows tests to inject a stub.
type AccessLogExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AccessLogRepository handles persistence for the access_log table.
type AccessLogRepository struct {
	db  AccessLogExecer
	now func() time.Time
}

// NewAccessLogRepository constructs an AccessLogRepository backed by db.
func NewAccessLogRepository(db AccessLogExecer) *AccessLogRepository {
	return &AccessLogRepository{db: db, now: time.Now}
}

// Record inserts e. A zero OccurredAt is set to the current time.
func (r *AccessLogRepository) Record(ctx context.Context, e Entry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}

	const insertSQL = `
INSERT INTO access_log (occurred_at, request_id, subject, email, action, resource, allowed, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := r.db.ExecContext(ctx, insertSQL,
		e.OccurredAt.UTC(), e.RequestID, e.Subject, e.Email, e.Action, e.Resource, e.Allowed, e.Reason,
	); err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}
