// Package access implements the warden authority: a role-based,
// time-delayed access-control manager that externalizes permission
// checking for managed targets. Targets delegate "may caller X invoke
// method Y now?" decisions to a single Manager instead of carrying
// their own authorization logic.
//
// The manager owns three keyed stores: the role table (admin/guardian
// relationships, membership, grant delays), the target table
// (closed flag, per-method required roles, admin delays) and the
// scheduled-operation table (timepoints and nonces keyed by a
// deterministic operation id). Administrative mutations of the manager
// flow through the same engine recursively: the manager is its own
// managed target under the SelfTarget name.
//
// All time-based logic is evaluated lazily against the injected Clock;
// there are no background processes. The host is expected to serialize
// state transitions; the internal mutex makes each invocation atomic.
package access

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/audit"
	"github.com/Mindburn-Labs/warden/pkg/delay"
)

// RoleID identifies a role. Roles are not explicitly created: any id
// can be granted, labeled and configured.
type RoleID uint64

const (
	// AdminRole is its own admin and guardian, and the default admin
	// and guardian of every other role. Its label, admin and guardian
	// are locked; membership is grantable.
	AdminRole RoleID = 0

	// PublicRole is a sentinel meaning "everyone". Every account is an
	// implicit member with no execution delay. It cannot be granted,
	// revoked, relabeled or reconfigured, and is never a key in any
	// per-account storage.
	PublicRole RoleID = math.MaxUint64
)

const (
	// MinSetback is the minimum elapsed time before any delay decrease
	// takes effect. Part of the public contract.
	MinSetback = 5 * 24 * time.Hour

	// Expiration is how long a scheduled operation stays executable
	// after its schedule time. Expiration is lazy: expired schedules
	// read as unscheduled, no sweeper runs. Part of the public
	// contract: callers need it to interpret a due schedule.
	Expiration = 7 * 24 * time.Hour
)

// SelfTarget is the target name under which the manager administers
// itself and the caller identity it assumes while relaying calls.
const SelfTarget = "warden"

// Call identifies an invocation of a method on a managed target. Args
// must be valid JSON; its canonical form is part of the operation id.
type Call struct {
	Target string          `json:"target"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Access is the raw per-(role,account) record. Since is the timestamp
// from which membership is in effect (zero: not a member). The delay
// fields are resolved against the read time: PendingDelay and
// PendingEffect are zero when no change is outstanding.
type Access struct {
	Since         time.Time     `json:"since"`
	CurrentDelay  time.Duration `json:"current_delay"`
	PendingDelay  time.Duration `json:"pending_delay"`
	PendingEffect time.Time     `json:"pending_effect"`
}

// Clock provides authority time for the manager. Inject a manual clock
// in tests; production uses the wall clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Target is a managed contract the manager can dispatch calls to.
// SetAuthority is only invoked by the manager during updateAuthority.
// IsConsumingScheduledOp must report true only while the target is
// consuming a scheduled operation on its own behalf.
type Target interface {
	Execute(ctx context.Context, method string, args json.RawMessage) error
	SetAuthority(ctx context.Context, authority string) error
	IsConsumingScheduledOp() bool
}

type accessRecord struct {
	since time.Time
	delay delay.Delay
}

type roleRecord struct {
	admin    RoleID
	guardian RoleID
	label    string
	grant    delay.Delay
	members  map[string]*accessRecord
}

type targetRecord struct {
	closed        bool
	adminDelay    delay.Delay
	functionRoles map[string]RoleID
}

type scheduleRecord struct {
	timepoint time.Time // zero: not scheduled
	nonce     uint64    // strictly increasing, survives cancel and expiry
}

type execFrame struct {
	target string
	method string
}

// Manager is the access authority. The zero value is not usable; use
// NewManager.
type Manager struct {
	mu        sync.Mutex
	clock     Clock
	audit     audit.Logger
	roles     map[RoleID]*roleRecord
	targets   map[string]*targetRecord
	registry  map[string]Target
	schedules map[string]*scheduleRecord
	execStack []*execFrame
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithClock injects an authority clock for deterministic testing.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithAudit injects an audit logger; every mutation is receipted to it.
func WithAudit(logger audit.Logger) Option {
	return func(m *Manager) { m.audit = logger }
}

// NewManager creates a manager and immediately grants AdminRole to
// initialAdmin with no grant or execution delay.
func NewManager(initialAdmin string, opts ...Option) (*Manager, error) {
	if initialAdmin == "" {
		return nil, &InvalidInitialAdminError{}
	}

	m := &Manager{
		clock:     wallClock{},
		roles:     make(map[RoleID]*roleRecord),
		targets:   make(map[string]*targetRecord),
		registry:  make(map[string]Target),
		schedules: make(map[string]*scheduleRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry[SelfTarget] = &selfTarget{m: m}

	now := m.clock.Now()
	m.roleMut(AdminRole).members[initialAdmin] = &accessRecord{since: now}
	m.emit(context.Background(), ActionRoleGranted, roleResource(AdminRole), map[string]any{
		"account":    initialAdmin,
		"since":      now,
		"delay":      time.Duration(0),
		"new_member": true,
	})
	return m, nil
}

// CanCall is the decision procedure managed targets consult before
// running privileged logic. It reports whether caller may invoke
// target.method right now, and if not, the execution delay after which
// a scheduled call becomes executable. (false, 0) means no path
// forward at all.
func (m *Manager) CanCall(ctx context.Context, caller, target, method string) (bool, time.Duration) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canCallLocked(m.clock.Now(), caller, target, method)
}

func (m *Manager) canCallLocked(now time.Time, caller, target, method string) (bool, time.Duration) {
	if m.isTargetClosedLocked(target) {
		return false, 0
	}
	if caller == SelfTarget {
		// Relayed self-call: the manager trusts calls it itself
		// forwards during execute, scoped to the exact frame.
		return m.isExecutingLocked(target, method), 0
	}
	role := m.targetFunctionRoleLocked(target, method)
	member, executionDelay := m.hasRoleLocked(now, role, caller)
	if !member {
		return false, 0
	}
	return executionDelay == 0, executionDelay
}

// denialReasonLocked explains a (false, 0) canCall outcome.
func (m *Manager) denialReasonLocked(call Call) DenialReason {
	if call.Target != SelfTarget && m.isTargetClosedLocked(call.Target) {
		return DenialTargetClosed
	}
	return DenialMissingRole
}

// HasRole reports whether account currently holds role, along with the
// execution delay in force for it. PublicRole always reports (true, 0).
func (m *Manager) HasRole(role RoleID, account string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasRoleLocked(m.clock.Now(), role, account)
}

func (m *Manager) hasRoleLocked(now time.Time, role RoleID, account string) (bool, time.Duration) {
	if role == PublicRole {
		return true, 0
	}
	rec := m.roles[role]
	if rec == nil {
		return false, 0
	}
	entry := rec.members[account]
	if entry == nil {
		return false, 0
	}
	member := !entry.since.IsZero() && !now.Before(entry.since)
	return member, entry.delay.Get(now)
}

// GetAccess returns the stored access entry for (role, account), with
// the delay fields resolved against the current time. A zero Since
// means the account is not a member.
func (m *Manager) GetAccess(role RoleID, account string) Access {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.roles[role]
	if rec == nil {
		return Access{}
	}
	entry := rec.members[account]
	if entry == nil {
		return Access{}
	}
	current, pending, effect := entry.delay.GetFull(m.clock.Now())
	return Access{
		Since:         entry.since,
		CurrentDelay:  current,
		PendingDelay:  pending,
		PendingEffect: effect,
	}
}

// GetRoleAdmin returns the role that may grant and revoke membership in
// role. Defaults to AdminRole.
func (m *Manager) GetRoleAdmin(role RoleID) RoleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roleAdminLocked(role)
}

func (m *Manager) roleAdminLocked(role RoleID) RoleID {
	if rec := m.roles[role]; rec != nil {
		return rec.admin
	}
	return AdminRole
}

// GetRoleGuardian returns the role that may cancel scheduled operations
// requiring role. Defaults to AdminRole.
func (m *Manager) GetRoleGuardian(role RoleID) RoleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roleGuardianLocked(role)
}

func (m *Manager) roleGuardianLocked(role RoleID) RoleID {
	if rec := m.roles[role]; rec != nil {
		return rec.guardian
	}
	return AdminRole
}

// GetRoleGrantDelay returns the wait between granting role and the
// membership taking effect, as currently in force.
func (m *Manager) GetRoleGrantDelay(role RoleID) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roleGrantDelayLocked(m.clock.Now(), role)
}

func (m *Manager) roleGrantDelayLocked(now time.Time, role RoleID) time.Duration {
	if rec := m.roles[role]; rec != nil {
		return rec.grant.Get(now)
	}
	return 0
}

// RoleLabel returns the human-readable label for role, if any.
func (m *Manager) RoleLabel(role RoleID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.roles[role]; rec != nil {
		return rec.label
	}
	return ""
}

// Members returns the accounts with a stored access entry for role,
// sorted, including grants that have not taken effect yet.
func (m *Manager) Members(role RoleID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.roles[role]
	if rec == nil {
		return nil
	}
	members := make([]string, 0, len(rec.members))
	for account := range rec.members {
		members = append(members, account)
	}
	sort.Strings(members)
	return members
}

// Roles returns the ids of all roles with stored configuration or
// membership, sorted.
func (m *Manager) Roles() []RoleID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]RoleID, 0, len(m.roles))
	for id := range m.roles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// roleMut returns the mutable record for role, creating it on first use.
func (m *Manager) roleMut(role RoleID) *roleRecord {
	rec := m.roles[role]
	if rec == nil {
		rec = &roleRecord{members: make(map[string]*accessRecord)}
		m.roles[role] = rec
	}
	return rec
}

// targetMut returns the mutable record for target, creating it on
// first use.
func (m *Manager) targetMut(target string) *targetRecord {
	rec := m.targets[target]
	if rec == nil {
		rec = &targetRecord{functionRoles: make(map[string]RoleID)}
		m.targets[target] = rec
	}
	return rec
}
