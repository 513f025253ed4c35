package client_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/warden/pkg/access"
	"github.com/Mindburn-Labs/warden/pkg/api"
	"github.com/Mindburn-Labs/warden/pkg/client"
)

const testSecret = "client-test-secret"

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

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func setup(t *testing.T) (*access.Manager, *testClock, string) {
	t.Helper()
	clock := newTestClock()
	manager, err := access.NewManager("alice", access.WithClock(clock))
	require.NoError(t, err)

	handler := api.NewServer(manager).Handler(api.NewJWTValidator([]byte(testSecret)), nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return manager, clock, srv.URL
}

func TestClient_HealthAndInfo(t *testing.T) {
	_, _, baseURL := setup(t)
	c := client.New(baseURL, client.WithToken(signToken(t, "alice")))
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", health["status"])

	info, err := c.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, access.AdminRole, info.AdminRole)
	require.Equal(t, access.PublicRole, info.PublicRole)
	require.Equal(t, access.MinSetback.String(), info.MinSetback)
	require.Equal(t, access.Expiration.String(), info.Expiration)
	require.Equal(t, access.SelfTarget, info.SelfTarget)
}

func TestClient_RoleLifecycle(t *testing.T) {
	_, _, baseURL := setup(t)
	admin := client.New(baseURL, client.WithToken(signToken(t, "alice")))
	ctx := context.Background()
	const operator = access.RoleID(7)

	newMember, err := admin.GrantRole(ctx, operator, "bob", 2*time.Hour)
	require.NoError(t, err)
	require.True(t, newMember)

	require.NoError(t, admin.LabelRole(ctx, operator, "operator"))

	role, err := admin.GetRole(ctx, operator)
	require.NoError(t, err)
	require.Equal(t, "operator", role.Label)
	require.Contains(t, role.Members, "bob")

	acc, err := admin.GetAccess(ctx, operator, "bob")
	require.NoError(t, err)
	require.True(t, acc.Member)
	require.Equal(t, "2h0m0s", acc.EffectiveDelay)

	roles, err := admin.ListRoles(ctx)
	require.NoError(t, err)
	require.Contains(t, roles, operator)
}

func TestClient_DeniedMutationCarriesProblem(t *testing.T) {
	_, _, baseURL := setup(t)
	mallory := client.New(baseURL, client.WithToken(signToken(t, "mallory")))

	_, err := mallory.GrantRole(context.Background(), access.RoleID(7), "mallory", 0)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 403, apiErr.Status)
	require.Equal(t, access.DenialMissingRole, apiErr.Reason)
}

func TestClient_ScheduleExecuteLifecycle(t *testing.T) {
	manager, clock, baseURL := setup(t)
	ctx := context.Background()
	const withdrawer = access.RoleID(11)

	vault := &recordingTarget{}
	require.NoError(t, manager.RegisterTarget("vault", vault))

	admin := client.New(baseURL, client.WithToken(signToken(t, "alice")))
	require.NoError(t, admin.SetTargetFunctionRole(ctx, "vault", []string{"withdraw"}, withdrawer))
	_, err := admin.GrantRole(ctx, withdrawer, "bob", time.Hour)
	require.NoError(t, err)

	bob := client.New(baseURL, client.WithToken(signToken(t, "bob")))
	call := access.Call{Target: "vault", Method: "withdraw"}

	decision, err := bob.CanCall(ctx, "", "vault", "withdraw")
	require.NoError(t, err)
	require.False(t, decision.Immediate)
	require.Equal(t, "1h0m0s", decision.Delay)

	scheduled, err := bob.Schedule(ctx, call, time.Time{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), scheduled.Nonce)

	opID, err := bob.HashOperation(ctx, "", call)
	require.NoError(t, err)
	require.Equal(t, scheduled.OperationID, opID)

	_, err = bob.Execute(ctx, call)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, access.DenialNotReady, apiErr.Reason)

	clock.Advance(time.Hour)
	nonce, err := bob.Execute(ctx, call)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
	require.Equal(t, 1, vault.calls)

	op, err := bob.GetOperation(ctx, opID)
	require.NoError(t, err)
	require.False(t, op.Scheduled)
	require.Equal(t, uint64(1), op.Nonce)
}

func TestClient_CancelByGuardian(t *testing.T) {
	manager, _, baseURL := setup(t)
	ctx := context.Background()
	const withdrawer = access.RoleID(11)
	const guardian = access.RoleID(12)

	require.NoError(t, manager.RegisterTarget("vault", &recordingTarget{}))

	admin := client.New(baseURL, client.WithToken(signToken(t, "alice")))
	require.NoError(t, admin.SetTargetFunctionRole(ctx, "vault", []string{"withdraw"}, withdrawer))
	require.NoError(t, admin.SetRoleGuardian(ctx, withdrawer, guardian))
	_, err := admin.GrantRole(ctx, withdrawer, "bob", time.Hour)
	require.NoError(t, err)
	_, err = admin.GrantRole(ctx, guardian, "grace", 0)
	require.NoError(t, err)

	bob := client.New(baseURL, client.WithToken(signToken(t, "bob")))
	call := access.Call{Target: "vault", Method: "withdraw"}
	_, err = bob.Schedule(ctx, call, time.Time{})
	require.NoError(t, err)

	grace := client.New(baseURL, client.WithToken(signToken(t, "grace")))
	nonce, err := grace.Cancel(ctx, "bob", call)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	opID, err := bob.HashOperation(ctx, "", call)
	require.NoError(t, err)
	_, err = bob.GetOperation(ctx, opID)
	require.NoError(t, err) // nonce survives cancellation
}

type recordingTarget struct {
	calls int
}

func (r *recordingTarget) Execute(ctx context.Context, method string, args json.RawMessage) error {
	r.calls++
	return nil
}

func (r *recordingTarget) SetAuthority(ctx context.Context, authority string) error { return nil }

func (r *recordingTarget) IsConsumingScheduledOp() bool { return false }
