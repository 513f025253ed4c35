package managed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/warden/pkg/access"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// counter is a minimal managed service: Increment is its privileged
// entry point.
type counter struct {
	*Managed
	mu    sync.Mutex
	value int
}

func newCounter(authority Authority, opts ...Option) *counter {
	return &counter{Managed: New("counter", "warden", authority, opts...)}
}

func (c *counter) Increment(ctx context.Context, caller string) error {
	return c.Restricted(ctx, caller, "increment", nil, func(ctx context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.value++
		return nil
	})
}

func (c *counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Execute lets the authority dispatch relayed calls, completing the
// access.Target surface.
func (c *counter) Execute(ctx context.Context, method string, args json.RawMessage) error {
	if method != "increment" {
		return &UnauthorizedError{Caller: "warden", Target: c.Name(), Method: method}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return nil
}

const incrementerRole = access.RoleID(31)

func setup(t *testing.T) (*access.Manager, *testClock, *counter) {
	t.Helper()
	clock := newTestClock()
	authority, err := access.NewManager("alice", access.WithClock(clock))
	require.NoError(t, err)

	svc := newCounter(authority)
	ctx := context.Background()
	require.NoError(t, authority.SetTargetFunctionRole(ctx, "alice", "counter", []string{"increment"}, incrementerRole))
	return authority, clock, svc
}

func TestRestricted_ImmediateCaller(t *testing.T) {
	authority, _, svc := setup(t)
	ctx := context.Background()

	_, err := authority.GrantRole(ctx, "alice", incrementerRole, "bob", 0)
	require.NoError(t, err)

	require.NoError(t, svc.Increment(ctx, "bob"))
	require.Equal(t, 1, svc.Value())
}

func TestRestricted_DeniedCaller(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()

	err := svc.Increment(ctx, "mallory")
	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, "mallory", unauthorized.Caller)
	require.Zero(t, svc.Value())
}

func TestRestricted_DelayedCallerConsumesSchedule(t *testing.T) {
	authority, clock, svc := setup(t)
	ctx := context.Background()

	_, err := authority.GrantRole(ctx, "alice", incrementerRole, "carol", time.Hour)
	require.NoError(t, err)

	// Without a schedule the consume path fails and fn never runs.
	err = svc.Increment(ctx, "carol")
	var denied *access.UnauthorizedCallError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, access.DenialNotScheduled, denied.Reason)
	require.Zero(t, svc.Value())

	call := access.Call{Target: "counter", Method: "increment"}
	opID, _, err := authority.Schedule(ctx, "carol", call, time.Time{})
	require.NoError(t, err)

	// Still gated until the timepoint.
	err = svc.Increment(ctx, "carol")
	require.ErrorAs(t, err, &denied)
	require.Equal(t, access.DenialNotReady, denied.Reason)

	clock.Advance(time.Hour)
	require.NoError(t, svc.Increment(ctx, "carol"))
	require.Equal(t, 1, svc.Value())
	require.True(t, authority.GetSchedule(opID).IsZero())
	require.False(t, svc.IsConsumingScheduledOp())

	// Consumed: calling again needs a fresh schedule.
	err = svc.Increment(ctx, "carol")
	require.ErrorAs(t, err, &denied)
	require.Equal(t, access.DenialNotScheduled, denied.Reason)
	require.Equal(t, 1, svc.Value())
}

func TestSetAuthority(t *testing.T) {
	authority, _, _ := setup(t)
	ctx := context.Background()

	successor, err := access.NewManager("alice")
	require.NoError(t, err)
	authorities := map[string]Authority{"warden": authority, "successor": successor}
	resolve := func(name string) (Authority, error) {
		a, ok := authorities[name]
		if !ok {
			return nil, access.ErrTargetNotRegistered
		}
		return a, nil
	}

	svc := newCounter(authority, WithResolver(resolve))
	require.NoError(t, authority.RegisterTarget("counter", svc))
	require.Equal(t, "warden", svc.AuthorityName())

	require.NoError(t, authority.UpdateAuthority(ctx, "alice", "counter", "successor"))
	require.Equal(t, "successor", svc.AuthorityName())

	// The successor has no function role for counter: only its admins
	// may call.
	require.NoError(t, svc.Increment(ctx, "alice"))
	err = svc.Increment(ctx, "mallory")
	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
}

func TestSetAuthority_NoResolver(t *testing.T) {
	authority, _, svc := setup(t)
	require.ErrorIs(t, svc.SetAuthority(context.Background(), "successor"), ErrNoResolver)
	_ = authority
}
