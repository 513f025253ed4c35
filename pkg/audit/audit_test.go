package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/warden/pkg/audit"
)

func TestLogger_WritesPrefixedJSONL(t *testing.T) {
	var buf bytes.Buffer
	l := audit.NewLoggerWithWriter(&buf)

	err := l.Record(context.Background(), audit.EventMutation, "role.granted", "role/7", map[string]any{
		"account": "alice",
	})
	require.NoError(t, err)

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "AUDIT: ")), &event))
	assert.Equal(t, audit.EventMutation, event.Type)
	assert.Equal(t, "role.granted", event.Action)
	assert.Equal(t, "role/7", event.Resource)
	assert.Equal(t, "alice", event.Metadata["account"])
	assert.NotEmpty(t, event.ID)
	assert.True(t, strings.HasPrefix(event.ContentHash, "sha256:"))
}

func TestNewEvent_ContentHashIsStable(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a := audit.NewEvent(now, audit.EventMutation, "op.scheduled", "operation/abc", map[string]any{"nonce": 1})
	b := audit.NewEvent(now.Add(time.Hour), audit.EventMutation, "op.scheduled", "operation/abc", map[string]any{"nonce": 1})
	c := audit.NewEvent(now, audit.EventMutation, "op.scheduled", "operation/abc", map[string]any{"nonce": 2})

	// Hash covers action/resource/metadata, not id or timestamp.
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.NotEqual(t, a.ContentHash, c.ContentHash)
	assert.NotEqual(t, a.ID, b.ID)
}

type memStore struct {
	events []audit.Event
}

func (m *memStore) Append(_ context.Context, e audit.Event) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) List(_ context.Context, limit int) ([]audit.Event, error) {
	if limit > len(m.events) {
		limit = len(m.events)
	}
	return m.events[:limit], nil
}

func TestStoreLogger_PersistsWithInjectedClock(t *testing.T) {
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	store := &memStore{}
	l := audit.NewStoreLogger(store).WithClock(func() time.Time { return now })

	require.NoError(t, l.Record(context.Background(), audit.EventAccess, "call.denied", "target/vault", nil))
	require.Len(t, store.events, 1)
	assert.Equal(t, now, store.events[0].Timestamp)
	assert.Equal(t, "call.denied", store.events[0].Action)
}

func TestMultiLogger_FansOut(t *testing.T) {
	var buf bytes.Buffer
	store := &memStore{}
	m := audit.MultiLogger{audit.NewLoggerWithWriter(&buf), audit.NewStoreLogger(store)}

	require.NoError(t, m.Record(context.Background(), audit.EventSystem, "manager.initialized", "manager", nil))
	assert.NotZero(t, buf.Len())
	assert.Len(t, store.events, 1)
}
