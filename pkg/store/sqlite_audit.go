// Package store provides persistent backends for the audit trail. Both
// backends implement audit.Store; the daemon picks one from its
// configuration and wires it behind an audit.StoreLogger.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/audit"

	_ "modernc.org/sqlite"
)

// SQLiteAuditStore persists audit events in SQLite. Suited for
// single-node deployments and tests.
type SQLiteAuditStore struct {
	db *sql.DB
}

func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	s := &SQLiteAuditStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAuditStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        event_id TEXT PRIMARY KEY,
        event_type TEXT NOT NULL,
        action TEXT NOT NULL,
        resource TEXT NOT NULL,
        timestamp DATETIME,
        metadata JSON,
        content_hash TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteAuditStore) Append(ctx context.Context, event audit.Event) error {
	query := `INSERT INTO audit_events (
		event_id, event_type, action, resource, timestamp, metadata, content_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	metaJSON, _ := json.Marshal(event.Metadata)
	timestamp := event.Timestamp.UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, query,
		event.ID, string(event.Type), event.Action, event.Resource, timestamp, string(metaJSON), event.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (s *SQLiteAuditStore) List(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
        SELECT event_id, event_type, action, resource, timestamp, metadata, content_hash
        FROM audit_events
        ORDER BY timestamp DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []audit.Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// ListByResource returns the most recent events touching a resource,
// newest first.
func (s *SQLiteAuditStore) ListByResource(ctx context.Context, resource string, limit int) ([]audit.Event, error) {
	query := `
        SELECT event_id, event_type, action, resource, timestamp, metadata, content_hash
        FROM audit_events
        WHERE resource = ?
        ORDER BY timestamp DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, resource, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []audit.Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanEventRow(rows *sql.Rows) (audit.Event, error) {
	var (
		eventID     string
		eventType   string
		action      string
		resource    string
		timestamp   string
		metaJSON    sql.NullString
		contentHash sql.NullString
	)
	if err := rows.Scan(&eventID, &eventType, &action, &resource, &timestamp, &metaJSON, &contentHash); err != nil {
		return audit.Event{}, err
	}

	var meta map[string]any
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &meta)
	}

	return audit.Event{
		ID:          eventID,
		Type:        audit.EventType(eventType),
		Action:      action,
		Resource:    resource,
		Timestamp:   parseTime(timestamp),
		Metadata:    meta,
		ContentHash: contentHash.String,
	}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
