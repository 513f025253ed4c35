// Package audit records structured audit events for every state
// mutation and authorization decision of the access authority. Every
// grant, revoke, delay change, schedule, execution and cancellation is
// receipted; off-chain tooling correlates operations through the event
// metadata (operation id and nonce).
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventAccess   EventType = "ACCESS"
	EventMutation EventType = "MUTATION"
	EventSystem   EventType = "SYSTEM"
)

// Event represents a structured audit record.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ContentHash string         `json:"content_hash"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error
}

// logger implements Logger, writing JSONL to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	_ = ctx
	event := NewEvent(l.clock(), eventType, action, resource, metadata)

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// NewEvent builds an Event with a fresh id and a canonical content hash
// over its action, resource and metadata.
func NewEvent(now time.Time, eventType EventType, action, resource string, metadata map[string]any) Event {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: now,
		Metadata:  metadata,
	}
	hashable := struct {
		Action   string         `json:"action"`
		Resource string         `json:"resource"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}{action, resource, metadata}
	if h, err := canonical.Hash(hashable); err == nil {
		event.ContentHash = "sha256:" + h
	}
	return event
}

// MultiLogger fans events out to several loggers. The first error wins
// but all loggers are attempted.
type MultiLogger []Logger

func (m MultiLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	var first error
	for _, l := range m {
		if err := l.Record(ctx, eventType, action, resource, metadata); err != nil && first == nil {
			first = err
		}
	}
	return first
}
