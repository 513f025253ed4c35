package audit

import (
	"context"
	"time"
)

// Store persists audit events. Implementations live in pkg/store.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, limit int) ([]Event, error)
}

// StoreLogger adapts a Store to the Logger interface so the engine can
// persist its audit trail without knowing about the storage backend.
type StoreLogger struct {
	store Store
	clock func() time.Time
}

// NewStoreLogger creates a Logger that persists events to store.
func NewStoreLogger(store Store) *StoreLogger {
	return &StoreLogger{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *StoreLogger) WithClock(clock func() time.Time) *StoreLogger {
	s.clock = clock
	return s
}

func (s *StoreLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	return s.store.Append(ctx, NewEvent(s.clock(), eventType, action, resource, metadata))
}
