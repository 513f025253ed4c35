package access

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyAdminOp(t *testing.T) {
	direct := []string{
		MethodGrantRole, MethodRevokeRole, MethodSetTargetClosed,
		MethodSetTargetFunctionRole, MethodUpdateAuthority,
	}
	for _, method := range direct {
		require.Equal(t, OpAdminDirect, ClassifyAdminOp(method), method)
	}
	delayed := []string{
		MethodLabelRole, MethodSetRoleAdmin, MethodSetRoleGuardian,
		MethodSetGrantDelay, MethodSetTargetAdminDelay,
	}
	for _, method := range delayed {
		require.Equal(t, OpAdminDelayed, ClassifyAdminOp(method), method)
	}
	require.Equal(t, OpNotAdministrative, ClassifyAdminOp("withdraw"))
	require.Equal(t, OpNotAdministrative, ClassifyAdminOp(""))
}

func TestDelayedAdmin_MustScheduleSelfCall(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	const operator = RoleID(3)

	// bert is an admin who can only act after a 2h delay.
	_, err := m.GrantRole(ctx, "alice", AdminRole, "bert", 2*time.Hour)
	require.NoError(t, err)

	// Calling the setter directly fails without a due schedule.
	_, err = m.GrantRole(ctx, "bert", operator, "uma", 0)
	requireDenied(t, err, DenialNotScheduled)

	call, err := SelfCall(MethodGrantRole, GrantRoleArgs{Role: operator, Account: "uma"})
	require.NoError(t, err)
	opID, nonce, err := m.Schedule(ctx, "bert", call, time.Time{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
	require.Equal(t, clock.Now().Add(2*time.Hour), m.GetSchedule(opID))

	clock.Advance(2 * time.Hour)
	gotNonce, err := m.Execute(ctx, "bert", call)
	require.NoError(t, err)
	require.Equal(t, uint64(1), gotNonce)

	member, _ := m.HasRole(operator, "uma")
	require.True(t, member)

	// The schedule was consumed inside the setter; no replay.
	_, err = m.Execute(ctx, "bert", call)
	requireDenied(t, err, DenialNotScheduled)
}

func TestDelayedAdmin_DirectSetterConsumesSchedule(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	const operator = RoleID(3)

	_, err := m.GrantRole(ctx, "alice", AdminRole, "bert", 2*time.Hour)
	require.NoError(t, err)

	// The setter itself also accepts a due schedule, without going
	// through Execute.
	call, err := SelfCall(MethodRevokeRole, RevokeRoleArgs{Role: operator, Account: "uma"})
	require.NoError(t, err)
	_, err = m.GrantRole(ctx, "alice", operator, "uma", 0)
	require.NoError(t, err)

	opID, _, err := m.Schedule(ctx, "bert", call, time.Time{})
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	require.NoError(t, m.RevokeRole(ctx, "bert", operator, "uma"))
	member, _ := m.HasRole(operator, "uma")
	require.False(t, member)
	require.True(t, m.GetSchedule(opID).IsZero())
}

func TestAdminDelayFloor_GatesDelayedOpsOnly(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	const operator = RoleID(3)

	// Raise the manager's own admin delay. The increase is immediate.
	require.NoError(t, m.SetTargetAdminDelay(ctx, "alice", SelfTarget, time.Hour))
	require.Equal(t, time.Hour, m.GetTargetAdminDelay(SelfTarget))

	// Delayed admin operations now require scheduling even for an
	// admin with no execution delay of her own.
	err := m.LabelRole(ctx, "alice", operator, "operators")
	requireDenied(t, err, DenialNotScheduled)

	// Direct admin operations are untouched by the floor.
	_, err = m.GrantRole(ctx, "alice", operator, "uma", 0)
	require.NoError(t, err)
	require.NoError(t, m.SetTargetClosed(ctx, "alice", "vault", true))

	call, err := SelfCall(MethodLabelRole, LabelRoleArgs{Role: operator, Label: "operators"})
	require.NoError(t, err)
	_, _, err = m.Schedule(ctx, "alice", call, time.Time{})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = m.Execute(ctx, "alice", call)
	require.NoError(t, err)
	require.Equal(t, "operators", m.RoleLabel(operator))
}

func TestAdminDelayFloor_SetTargetAdminDelayUsesOwnTarget(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	// Raising the vault's admin delay is floored by the vault's current
	// admin delay (zero), so it is immediate even though the manager's
	// own admin delay is higher.
	require.NoError(t, m.SetTargetAdminDelay(ctx, "alice", SelfTarget, time.Hour))
	require.NoError(t, m.SetTargetAdminDelay(ctx, "alice", "vault", 30*time.Minute))
	require.Equal(t, 30*time.Minute, m.GetTargetAdminDelay("vault"))

	// Changing it again is now floored by the vault's 30m delay.
	err := m.SetTargetAdminDelay(ctx, "alice", "vault", 2*time.Hour)
	requireDenied(t, err, DenialNotScheduled)

	call, err := SelfCall(MethodSetTargetAdminDelay, SetTargetAdminDelayArgs{Target: "vault", Delay: 2 * time.Hour})
	require.NoError(t, err)
	_, _, err = m.Schedule(ctx, "alice", call, time.Time{})
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	_, err = m.Execute(ctx, "alice", call)
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour, m.GetTargetAdminDelay("vault"))
}

func TestRelayerIdentity_ScopedToExecutionFrame(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	const operator = RoleID(3)

	vault := &fakeTarget{}
	require.NoError(t, m.RegisterTarget("vault", vault))
	require.NoError(t, m.SetTargetFunctionRole(ctx, "alice", "vault", []string{"withdraw"}, operator))
	_, err := m.GrantRole(ctx, "alice", operator, "bob", time.Hour)
	require.NoError(t, err)

	var seenInFrame, seenOtherMethod, seenOtherTarget bool
	vault.onExecute = func(ctx context.Context, method string, args json.RawMessage) error {
		seenInFrame, _ = m.CanCall(ctx, SelfTarget, "vault", "withdraw")
		seenOtherMethod, _ = m.CanCall(ctx, SelfTarget, "vault", "deposit")
		seenOtherTarget, _ = m.CanCall(ctx, SelfTarget, "ledger", "withdraw")
		return nil
	}

	call := Call{Target: "vault", Method: "withdraw"}
	_, _, err = m.Schedule(ctx, "bob", call, time.Time{})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = m.Execute(ctx, "bob", call)
	require.NoError(t, err)

	require.True(t, seenInFrame, "the relayed identity is trusted for the dispatched frame")
	require.False(t, seenOtherMethod)
	require.False(t, seenOtherTarget)

	// Outside any dispatch the relayer identity has no power.
	immediate, _ := m.CanCall(ctx, SelfTarget, "vault", "withdraw")
	require.False(t, immediate)
}

func TestExecute_Reentrancy(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ledger := &fakeTarget{}
	require.NoError(t, m.RegisterTarget("ledger", ledger))

	vault := &fakeTarget{}
	vault.onExecute = func(ctx context.Context, method string, args json.RawMessage) error {
		_, err := m.Execute(ctx, "alice", Call{Target: "ledger", Method: "record"})
		return err
	}
	require.NoError(t, m.RegisterTarget("vault", vault))

	_, err := m.Execute(ctx, "alice", Call{Target: "vault", Method: "sweep"})
	require.NoError(t, err)
	require.Equal(t, 1, ledger.callCount())
}

func TestExecute_PanickingTargetDropsRelayerTrust(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	vault := &fakeTarget{}
	vault.onExecute = func(ctx context.Context, method string, args json.RawMessage) error {
		panic("vault blew up")
	}
	require.NoError(t, m.RegisterTarget("vault", vault))

	require.Panics(t, func() {
		_, _ = m.Execute(ctx, "alice", Call{Target: "vault", Method: "sweep"})
	})

	// The frame must be gone once the dispatch unwound, however it
	// unwound.
	immediate, delay := m.CanCall(ctx, SelfTarget, "vault", "sweep")
	require.False(t, immediate)
	require.Zero(t, delay)
}

func TestExecute_ConcurrentReturnRemovesOwnFrameOnly(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := &fakeTarget{}
	slow.onExecute = func(ctx context.Context, method string, args json.RawMessage) error {
		close(entered)
		<-release
		return nil
	}
	fast := &fakeTarget{}
	require.NoError(t, m.RegisterTarget("slow", slow))
	require.NoError(t, m.RegisterTarget("fast", fast))
	require.NoError(t, m.SetTargetFunctionRole(ctx, "alice", "slow", []string{"tick"}, PublicRole))
	require.NoError(t, m.SetTargetFunctionRole(ctx, "alice", "fast", []string{"tock"}, PublicRole))

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(ctx, "bob", Call{Target: "slow", Method: "tick"})
		done <- err
	}()
	<-entered

	_, err := m.Execute(ctx, "carol", Call{Target: "fast", Method: "tock"})
	require.NoError(t, err)

	// The finished dispatch removed its own frame, not the in-flight
	// one: the blocked dispatch is innermost again and still trusted.
	immediate, _ := m.CanCall(ctx, SelfTarget, "slow", "tick")
	require.True(t, immediate)
	immediate, _ = m.CanCall(ctx, SelfTarget, "fast", "tock")
	require.False(t, immediate)

	close(release)
	require.NoError(t, <-done)

	immediate, _ = m.CanCall(ctx, SelfTarget, "slow", "tick")
	require.False(t, immediate)
}

func TestSelfTarget_RejectsUnknownMethodAndAuthorityChange(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Execute(ctx, "alice", Call{Target: SelfTarget, Method: "selfdestruct"})
	var denied *UnauthorizedCallError
	require.ErrorAs(t, err, &denied)

	var lockedAccount *LockedAccountError
	require.ErrorAs(t, m.UpdateAuthority(ctx, "alice", SelfTarget, "other"), &lockedAccount)
}

// End-to-end walk: a delayed operator schedules a withdrawal, a guardian
// cancels the first attempt, the second attempt runs at its timepoint.
func TestScenario_GuardedWithdrawal(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	const (
		operator = RoleID(21)
		guardian = RoleID(22)
	)

	vault := &fakeTarget{}
	require.NoError(t, m.RegisterTarget("treasury", vault))
	require.NoError(t, m.LabelRole(ctx, "alice", operator, "treasury-operators"))
	require.NoError(t, m.SetRoleGuardian(ctx, "alice", operator, guardian))
	require.NoError(t, m.SetTargetFunctionRole(ctx, "alice", "treasury", []string{"withdraw"}, operator))

	_, err := m.GrantRole(ctx, "alice", operator, "oscar", 3*24*time.Hour)
	require.NoError(t, err)
	_, err = m.GrantRole(ctx, "alice", guardian, "grace", 0)
	require.NoError(t, err)

	call := withdrawCall(t, 1_000_000)

	// oscar cannot act immediately.
	immediate, execDelay := m.CanCall(ctx, "oscar", "treasury", "withdraw")
	require.False(t, immediate)
	require.Equal(t, 3*24*time.Hour, execDelay)

	// First attempt is scheduled and then stopped by the guardian.
	opID, nonce, err := m.Schedule(ctx, "oscar", call, time.Time{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
	_, err = m.Cancel(ctx, "grace", "oscar", call)
	require.NoError(t, err)

	clock.Advance(3 * 24 * time.Hour)
	_, err = m.Execute(ctx, "oscar", call)
	requireDenied(t, err, DenialNotScheduled)
	require.Zero(t, vault.callCount())

	// Second attempt goes through.
	_, nonce, err = m.Schedule(ctx, "oscar", call, time.Time{})
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
	clock.Advance(3 * 24 * time.Hour)
	gotNonce, err := m.Execute(ctx, "oscar", call)
	require.NoError(t, err)
	require.Equal(t, uint64(2), gotNonce)
	require.Equal(t, 1, vault.callCount())
	require.Equal(t, uint64(2), m.GetNonce(opID))
}
