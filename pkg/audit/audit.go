// Package audit records and queries the append-only audit log: one record
// per authorization decision and per mutation, regardless of outcome.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
	ResultDenied  Result = "denied"
)

// Record is one append-only audit entry.
type Record struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	AgentID       string         `json:"agent_id"`
	EventType     string         `json:"event_type"`
	SessionID     *string        `json:"session_id,omitempty"`
	Result        Result         `json:"result"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
}

// Recorder appends audit records. It never mutates or deletes existing rows.
type Recorder struct {
	engine *storage.Engine
}

func NewRecorder(engine *storage.Engine) *Recorder {
	return &Recorder{engine: engine}
}

// Record inserts one audit row. A failure to write the audit log is logged
// by the caller but never blocks the underlying operation it's auditing —
// callers should not treat a Record error as cause to abort.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	return r.recordWith(ctx, r.engine.DB(), rec)
}

// RecordTx appends an audit row as part of an in-flight transaction, so the
// operation and its audit trail commit or roll back together.
func (r *Recorder) RecordTx(ctx context.Context, tx *sql.Tx, rec Record) error {
	return r.recordWith(ctx, tx, rec)
}

func (r *Recorder) recordWith(ctx context.Context, q storage.Querier, rec Record) error {
	detailsJSON, err := json.Marshal(rec.Details)
	if err != nil {
		return err
	}
	if rec.Details == nil {
		detailsJSON = []byte("{}")
	}

	var sessionID sql.NullString
	if rec.SessionID != nil {
		sessionID = sql.NullString{String: *rec.SessionID, Valid: true}
	}
	var correlationID sql.NullString
	if rec.CorrelationID != nil {
		correlationID = sql.NullString{String: *rec.CorrelationID, Valid: true}
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, agent_id, event_type, session_id, result, details, correlation_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.Format(time.RFC3339Nano), rec.AgentID, rec.EventType, sessionID, string(rec.Result), string(detailsJSON), correlationID)
	return err
}

// Query filters audit records by time range, agent, and session. Any filter
// left at its zero value is not applied.
type Query struct {
	Since     time.Time
	Until     time.Time
	AgentID   string
	SessionID string
	Limit     int
}

func (r *Recorder) Query(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	clauses := "1=1"
	var args []any
	if !q.Since.IsZero() {
		clauses += " AND timestamp >= ?"
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if !q.Until.IsZero() {
		clauses += " AND timestamp <= ?"
		args = append(args, q.Until.UTC().Format(time.RFC3339Nano))
	}
	if q.AgentID != "" {
		clauses += " AND agent_id = ?"
		args = append(args, q.AgentID)
	}
	if q.SessionID != "" {
		clauses += " AND session_id = ?"
		args = append(args, q.SessionID)
	}
	args = append(args, limit)

	rows, err := r.engine.DB().QueryContext(ctx,
		"SELECT id, timestamp, agent_id, event_type, session_id, result, details, correlation_id "+
			"FROM audit_log WHERE "+clauses+" ORDER BY timestamp DESC, id DESC LIMIT ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var tsStr, detailsStr, result string
		var sessionID, correlationID sql.NullString
		if err := rows.Scan(&rec.ID, &tsStr, &rec.AgentID, &rec.EventType, &sessionID, &result, &detailsStr, &correlationID); err != nil {
			return nil, err
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, err
		}
		rec.Result = Result(result)
		if sessionID.Valid {
			v := sessionID.String
			rec.SessionID = &v
		}
		if correlationID.Valid {
			v := correlationID.String
			rec.CorrelationID = &v
		}
		if detailsStr != "" {
			_ = json.Unmarshal([]byte(detailsStr), &rec.Details)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
