package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/audit"

	_ "github.com/lib/pq"
)

// PostgresAuditStore persists audit events in PostgreSQL for
// multi-node deployments sharing one trail.
type PostgresAuditStore struct {
	db *sql.DB
}

func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Migrate creates the audit_events table if it does not exist. Run once
// at startup.
func (s *PostgresAuditStore) Migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        event_id TEXT PRIMARY KEY,
        event_type TEXT NOT NULL,
        action TEXT NOT NULL,
        resource TEXT NOT NULL,
        timestamp TIMESTAMPTZ,
        metadata JSONB,
        content_hash TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresAuditStore) Append(ctx context.Context, event audit.Event) error {
	query := `INSERT INTO audit_events (
		event_id, event_type, action, resource, timestamp, metadata, content_hash
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	metaJSON, _ := json.Marshal(event.Metadata)

	_, err := s.db.ExecContext(ctx, query,
		event.ID, string(event.Type), event.Action, event.Resource, event.Timestamp.UTC(), string(metaJSON), event.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) List(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
        SELECT event_id, event_type, action, resource, timestamp, metadata, content_hash
        FROM audit_events
        ORDER BY timestamp DESC
        LIMIT $1
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []audit.Event
	for rows.Next() {
		event, err := scanPostgresEventRow(rows)
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

func scanPostgresEventRow(rows *sql.Rows) (audit.Event, error) {
	var (
		eventID     string
		eventType   string
		action      string
		resource    string
		timestamp   time.Time
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
		Timestamp:   timestamp,
		Metadata:    meta,
		ContentHash: contentHash.String,
	}, nil
}
