// Package client provides a typed Go client for the warden authority API.
// Zero external dependencies — uses net/http and encoding/json only.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/access"
)

// APIError is returned when the API responds with a non-2xx status. It
// carries the RFC 7807 problem document the server sent.
type APIError struct {
	Status int
	Title  string
	Detail string
	Reason access.DenialReason
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("warden api %d: %s (%s)", e.Status, e.Detail, e.Reason)
	}
	return fmt.Sprintf("warden api %d: %s", e.Status, e.Detail)
}

// Client is a typed client for the warden authority API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem struct {
			Title  string              `json:"title"`
			Detail string              `json:"detail"`
			Reason access.DenialReason `json:"reason"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil {
			return &APIError{
				Status: resp.StatusCode,
				Title:  problem.Title,
				Detail: problem.Detail,
				Reason: problem.Reason,
			}
		}
		return &APIError{Status: resp.StatusCode, Detail: "unknown error"}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Info describes the authority's public contract constants.
type Info struct {
	AdminRole  access.RoleID `json:"admin_role"`
	PublicRole access.RoleID `json:"public_role"`
	MinSetback string        `json:"min_setback"`
	Expiration string        `json:"expiration"`
	SelfTarget string        `json:"self_target"`
}

// Info calls GET /v1/info.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var out Info
	err := c.do(ctx, "GET", "/v1/info", nil, &out)
	return &out, err
}

// Decision is one canCall outcome.
type Decision struct {
	Caller    string `json:"caller"`
	Target    string `json:"target"`
	Method    string `json:"method"`
	Immediate bool   `json:"immediate"`
	Delay     string `json:"delay"`
}

// CanCall calls GET /v1/can-call. An empty caller asks about the
// authenticated identity.
func (c *Client) CanCall(ctx context.Context, caller, target, method string) (*Decision, error) {
	q := url.Values{"target": {target}, "method": {method}}
	if caller != "" {
		q.Set("caller", caller)
	}
	var out Decision
	err := c.do(ctx, "GET", "/v1/can-call?"+q.Encode(), nil, &out)
	return &out, err
}

// Role is the full configuration of one role.
type Role struct {
	Role       access.RoleID `json:"role"`
	Label      string        `json:"label"`
	Admin      access.RoleID `json:"admin"`
	Guardian   access.RoleID `json:"guardian"`
	GrantDelay string        `json:"grant_delay"`
	Members    []string      `json:"members"`
}

// ListRoles calls GET /v1/roles.
func (c *Client) ListRoles(ctx context.Context) ([]access.RoleID, error) {
	var out struct {
		Roles []access.RoleID `json:"roles"`
	}
	err := c.do(ctx, "GET", "/v1/roles", nil, &out)
	return out.Roles, err
}

// GetRole calls GET /v1/roles/{role}.
func (c *Client) GetRole(ctx context.Context, role access.RoleID) (*Role, error) {
	var out Role
	err := c.do(ctx, "GET", fmt.Sprintf("/v1/roles/%d", role), nil, &out)
	return &out, err
}

// Access is one account's standing in one role.
type Access struct {
	Role           access.RoleID `json:"role"`
	Account        string        `json:"account"`
	Member         bool          `json:"member"`
	Since          time.Time     `json:"since"`
	CurrentDelay   string        `json:"current_delay"`
	PendingDelay   string        `json:"pending_delay"`
	PendingEffect  time.Time     `json:"pending_effect"`
	EffectiveDelay string        `json:"effective_delay"`
}

// GetAccess calls GET /v1/roles/{role}/access/{account}.
func (c *Client) GetAccess(ctx context.Context, role access.RoleID, account string) (*Access, error) {
	var out Access
	err := c.do(ctx, "GET", fmt.Sprintf("/v1/roles/%d/access/%s", role, url.PathEscape(account)), nil, &out)
	return &out, err
}

// LabelRole calls POST /v1/roles/{role}/label.
func (c *Client) LabelRole(ctx context.Context, role access.RoleID, label string) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/roles/%d/label", role), map[string]any{"label": label}, nil)
}

// SetRoleAdmin calls POST /v1/roles/{role}/admin.
func (c *Client) SetRoleAdmin(ctx context.Context, role, admin access.RoleID) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/roles/%d/admin", role), map[string]any{"admin": admin}, nil)
}

// SetRoleGuardian calls POST /v1/roles/{role}/guardian.
func (c *Client) SetRoleGuardian(ctx context.Context, role, guardian access.RoleID) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/roles/%d/guardian", role), map[string]any{"guardian": guardian}, nil)
}

// SetGrantDelay calls POST /v1/roles/{role}/grant-delay.
func (c *Client) SetGrantDelay(ctx context.Context, role access.RoleID, delay time.Duration) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/roles/%d/grant-delay", role), map[string]any{"delay": delay.String()}, nil)
}

// GrantRole calls POST /v1/roles/{role}/grant and reports whether the
// account was a new member.
func (c *Client) GrantRole(ctx context.Context, role access.RoleID, account string, executionDelay time.Duration) (bool, error) {
	body := map[string]any{"account": account}
	if executionDelay > 0 {
		body["execution_delay"] = executionDelay.String()
	}
	var out struct {
		NewMember bool `json:"new_member"`
	}
	err := c.do(ctx, "POST", fmt.Sprintf("/v1/roles/%d/grant", role), body, &out)
	return out.NewMember, err
}

// RevokeRole calls POST /v1/roles/{role}/revoke.
func (c *Client) RevokeRole(ctx context.Context, role access.RoleID, account string) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/roles/%d/revoke", role), map[string]any{"account": account}, nil)
}

// RenounceRole calls POST /v1/roles/{role}/renounce. The confirmation
// must repeat the authenticated identity.
func (c *Client) RenounceRole(ctx context.Context, role access.RoleID, confirmation string) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/roles/%d/renounce", role), map[string]any{"confirmation": confirmation}, nil)
}

// Target is the configuration of one registered target name.
type Target struct {
	Target     string `json:"target"`
	Closed     bool   `json:"closed"`
	AdminDelay string `json:"admin_delay"`
}

// GetTarget calls GET /v1/targets/{target}.
func (c *Client) GetTarget(ctx context.Context, target string) (*Target, error) {
	var out Target
	err := c.do(ctx, "GET", "/v1/targets/"+url.PathEscape(target), nil, &out)
	return &out, err
}

// GetFunctionRole calls GET /v1/targets/{target}/functions/{method}.
func (c *Client) GetFunctionRole(ctx context.Context, target, method string) (access.RoleID, error) {
	var out struct {
		Role access.RoleID `json:"role"`
	}
	err := c.do(ctx, "GET", "/v1/targets/"+url.PathEscape(target)+"/functions/"+url.PathEscape(method), nil, &out)
	return out.Role, err
}

// SetTargetClosed calls POST /v1/targets/{target}/closed.
func (c *Client) SetTargetClosed(ctx context.Context, target string, closed bool) error {
	return c.do(ctx, "POST", "/v1/targets/"+url.PathEscape(target)+"/closed", map[string]any{"closed": closed}, nil)
}

// SetTargetFunctionRole calls POST /v1/targets/{target}/function-role.
func (c *Client) SetTargetFunctionRole(ctx context.Context, target string, methods []string, role access.RoleID) error {
	return c.do(ctx, "POST", "/v1/targets/"+url.PathEscape(target)+"/function-role",
		map[string]any{"methods": methods, "role": role}, nil)
}

// SetTargetAdminDelay calls POST /v1/targets/{target}/admin-delay.
func (c *Client) SetTargetAdminDelay(ctx context.Context, target string, delay time.Duration) error {
	return c.do(ctx, "POST", "/v1/targets/"+url.PathEscape(target)+"/admin-delay",
		map[string]any{"delay": delay.String()}, nil)
}

// UpdateAuthority calls POST /v1/targets/{target}/authority.
func (c *Client) UpdateAuthority(ctx context.Context, target, authority string) error {
	return c.do(ctx, "POST", "/v1/targets/"+url.PathEscape(target)+"/authority",
		map[string]any{"authority": authority}, nil)
}

// HashOperation calls POST /v1/operations/hash. An empty caller hashes
// on behalf of the authenticated identity.
func (c *Client) HashOperation(ctx context.Context, caller string, call access.Call) (string, error) {
	body := map[string]any{"call": call}
	if caller != "" {
		body["caller"] = caller
	}
	var out struct {
		OperationID string `json:"operation_id"`
	}
	err := c.do(ctx, "POST", "/v1/operations/hash", body, &out)
	return out.OperationID, err
}

// ScheduleResult is the outcome of scheduling an operation.
type ScheduleResult struct {
	OperationID string    `json:"operation_id"`
	Nonce       uint64    `json:"nonce"`
	Schedule    time.Time `json:"schedule"`
}

// Schedule calls POST /v1/operations/schedule. A zero when asks for the
// earliest permitted timepoint.
func (c *Client) Schedule(ctx context.Context, call access.Call, when time.Time) (*ScheduleResult, error) {
	var out ScheduleResult
	err := c.do(ctx, "POST", "/v1/operations/schedule", map[string]any{"call": call, "when": when}, &out)
	return &out, err
}

// Execute calls POST /v1/operations/execute.
func (c *Client) Execute(ctx context.Context, call access.Call) (uint64, error) {
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	err := c.do(ctx, "POST", "/v1/operations/execute", map[string]any{"call": call}, &out)
	return out.Nonce, err
}

// Cancel calls POST /v1/operations/cancel. An empty scheduler cancels
// the authenticated identity's own schedule.
func (c *Client) Cancel(ctx context.Context, scheduler string, call access.Call) (uint64, error) {
	body := map[string]any{"call": call}
	if scheduler != "" {
		body["caller"] = scheduler
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	err := c.do(ctx, "POST", "/v1/operations/cancel", body, &out)
	return out.Nonce, err
}

// Operation is the recorded state of one operation id.
type Operation struct {
	OperationID string    `json:"operation_id"`
	Nonce       uint64    `json:"nonce"`
	Scheduled   bool      `json:"scheduled"`
	Schedule    time.Time `json:"schedule"`
}

// GetOperation calls GET /v1/operations/{id}.
func (c *Client) GetOperation(ctx context.Context, operationID string) (*Operation, error) {
	var out Operation
	err := c.do(ctx, "GET", "/v1/operations/"+url.PathEscape(operationID), nil, &out)
	return &out, err
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, "GET", "/health", nil, &out)
	return out, err
}
