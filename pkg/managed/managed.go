// Package managed is the target-side counterpart of package access.
// Embedding Managed gives a service an authority binding and the
// Restricted guard, which defers every permission decision to the
// authority, including the consume-on-call path for scheduled
// operations.
package managed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/access"
)

// Authority is the decision interface a managed service consults.
// *access.Manager satisfies it.
type Authority interface {
	CanCall(ctx context.Context, caller, target, method string) (bool, time.Duration)
	ConsumeScheduledOp(ctx context.Context, invoker, caller string, call access.Call) (uint64, error)
}

// Resolver maps an authority name to a live Authority. Needed only by
// services that can be handed over to a different authority at runtime.
type Resolver func(name string) (Authority, error)

// ErrNoResolver is returned by SetAuthority when the service was built
// without a Resolver.
var ErrNoResolver = errors.New("managed: no authority resolver configured")

// UnauthorizedError reports a Restricted call the authority denied
// outright.
type UnauthorizedError struct {
	Caller string
	Target string
	Method string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("managed: caller %q may not call %s.%s", e.Caller, e.Target, e.Method)
}

// Managed holds a service's authority binding. Embed it and route
// privileged entry points through Restricted. The zero value is not
// usable; use New.
type Managed struct {
	name string

	mu            sync.Mutex
	authority     Authority
	authorityName string
	resolve       Resolver
	consuming     int
}

// Option configures a Managed at construction time.
type Option func(*Managed)

// WithResolver enables runtime authority handover through SetAuthority.
func WithResolver(resolve Resolver) Option {
	return func(m *Managed) { m.resolve = resolve }
}

// New binds a service name to its initial authority.
func New(name, authorityName string, authority Authority, opts ...Option) *Managed {
	m := &Managed{name: name, authority: authority, authorityName: authorityName}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the target name the service is managed under.
func (m *Managed) Name() string { return m.name }

// AuthorityName returns the name of the authority currently in charge.
func (m *Managed) AuthorityName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorityName
}

// SetAuthority hands the service over to a new authority. Invoked by
// the current authority during an updateAuthority operation.
func (m *Managed) SetAuthority(ctx context.Context, authorityName string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolve == nil {
		return ErrNoResolver
	}
	authority, err := m.resolve(authorityName)
	if err != nil {
		return err
	}
	m.authority = authority
	m.authorityName = authorityName
	return nil
}

// IsConsumingScheduledOp reports whether the service is currently
// consuming a scheduled operation on its own behalf. The authority
// checks this before honoring a consume request.
func (m *Managed) IsConsumingScheduledOp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consuming > 0
}

// Restricted guards a privileged entry point. Immediate callers run fn
// directly. Callers with a delayed path must have scheduled this exact
// call; the schedule is consumed here, before fn runs. Everyone else
// gets UnauthorizedError.
func (m *Managed) Restricted(ctx context.Context, caller, method string, args json.RawMessage, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	authority := m.authority
	m.mu.Unlock()

	immediate, delay := authority.CanCall(ctx, caller, m.name, method)
	if !immediate {
		if delay == 0 {
			return &UnauthorizedError{Caller: caller, Target: m.name, Method: method}
		}
		call := access.Call{Target: m.name, Method: method, Args: args}
		m.setConsuming(true)
		_, err := authority.ConsumeScheduledOp(ctx, m.name, caller, call)
		m.setConsuming(false)
		if err != nil {
			return err
		}
	}
	return fn(ctx)
}

func (m *Managed) setConsuming(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.consuming++
	} else {
		m.consuming--
	}
}
