package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/access"
	"github.com/Mindburn-Labs/warden/pkg/audit"
)

// Recorder receives decision telemetry from the handlers. The
// observability Provider satisfies it.
type Recorder interface {
	RecordDecision(ctx context.Context, target, method string, immediate bool, duration time.Duration)
	RecordDenial(ctx context.Context, target, method, reason string)
	RecordScheduled(ctx context.Context, target, method string)
}

// Server exposes the authority's read and mutate surface over HTTP.
type Server struct {
	manager *access.Manager
	events  audit.Store
	obs     Recorder
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventStore enables the audit trail endpoint.
func WithEventStore(events audit.Store) ServerOption {
	return func(s *Server) { s.events = events }
}

// WithObservability records decision and operation metrics.
func WithObservability(obs Recorder) ServerOption {
	return func(s *Server) { s.obs = obs }
}

// WithLogger overrides the request logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a Server for the given authority.
func NewServer(manager *access.Manager, opts ...ServerOption) *Server {
	s := &Server{manager: manager, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleHealth)

	mux.HandleFunc("GET /v1/info", s.handleInfo)
	mux.HandleFunc("GET /v1/can-call", s.handleCanCall)

	mux.HandleFunc("GET /v1/roles", s.handleListRoles)
	mux.HandleFunc("GET /v1/roles/{role}", s.handleGetRole)
	mux.HandleFunc("GET /v1/roles/{role}/access/{account}", s.handleGetAccess)
	mux.HandleFunc("POST /v1/roles/{role}/label", s.handleLabelRole)
	mux.HandleFunc("POST /v1/roles/{role}/admin", s.handleSetRoleAdmin)
	mux.HandleFunc("POST /v1/roles/{role}/guardian", s.handleSetRoleGuardian)
	mux.HandleFunc("POST /v1/roles/{role}/grant-delay", s.handleSetGrantDelay)
	mux.HandleFunc("POST /v1/roles/{role}/grant", s.handleGrantRole)
	mux.HandleFunc("POST /v1/roles/{role}/revoke", s.handleRevokeRole)
	mux.HandleFunc("POST /v1/roles/{role}/renounce", s.handleRenounceRole)

	mux.HandleFunc("GET /v1/targets/{target}", s.handleGetTarget)
	mux.HandleFunc("GET /v1/targets/{target}/functions/{method}", s.handleGetFunctionRole)
	mux.HandleFunc("POST /v1/targets/{target}/closed", s.handleSetTargetClosed)
	mux.HandleFunc("POST /v1/targets/{target}/function-role", s.handleSetFunctionRole)
	mux.HandleFunc("POST /v1/targets/{target}/admin-delay", s.handleSetTargetAdminDelay)
	mux.HandleFunc("POST /v1/targets/{target}/authority", s.handleUpdateAuthority)

	mux.HandleFunc("POST /v1/operations/hash", s.handleHashOperation)
	mux.HandleFunc("POST /v1/operations/schedule", s.handleSchedule)
	mux.HandleFunc("POST /v1/operations/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/operations/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/operations/{id}", s.handleGetOperation)

	mux.HandleFunc("GET /v1/audit/events", s.handleListEvents)

	return mux
}

// Handler wraps the route table in the middleware stack: rate limiting
// outermost, then authentication, then request logging.
func (s *Server) Handler(validator *JWTValidator, limiter Limiter) http.Handler {
	var h http.Handler = s.logRequests(s.Routes())
	h = AuthMiddleware(validator)(h)
	if limiter != nil {
		h = RateLimitMiddleware(limiter)(h)
	}
	return h
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
