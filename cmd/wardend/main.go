// Command wardend runs the warden access authority as an HTTP service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/access"
	"github.com/Mindburn-Labs/warden/pkg/api"
	"github.com/Mindburn-Labs/warden/pkg/audit"
	"github.com/Mindburn-Labs/warden/pkg/config"
	"github.com/Mindburn-Labs/warden/pkg/observability"
	"github.com/Mindburn-Labs/warden/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("wardend exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "warden",
		Environment:  "production",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      cfg.OTLPEndpoint != "",
		Insecure:     true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	auditLogger, closeStore, err := buildAuditLogger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	manager, err := access.NewManager(cfg.InitialAdmin, access.WithAudit(auditLogger.logger))
	if err != nil {
		return err
	}

	if cfg.ManifestPath != "" {
		manifest, err := config.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return err
		}
		if err := manifest.Apply(ctx, cfg.InitialAdmin, manager); err != nil {
			return err
		}
		slog.Info("seed manifest applied", "path", cfg.ManifestPath,
			"roles", len(manifest.Roles), "targets", len(manifest.Targets))
	}

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.RateLimitRPS, cfg.RateLimitBurst)
	} else {
		local := api.NewLocalLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer local.Stop()
		limiter = local
	}

	serverOpts := []api.ServerOption{api.WithObservability(obs)}
	if auditLogger.store != nil {
		serverOpts = append(serverOpts, api.WithEventStore(auditLogger.store))
	}
	handler := api.NewServer(manager, serverOpts...).
		Handler(api.NewJWTValidator([]byte(cfg.JWTSecret)), limiter)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("wardend listening", "port", cfg.Port, "audit_backend", cfg.AuditBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type auditWiring struct {
	logger audit.Logger
	store  audit.Store
}

// buildAuditLogger wires the audit trail: always the JSONL stdout
// logger, plus a persistent store when one is configured.
func buildAuditLogger(ctx context.Context, cfg *config.Config) (auditWiring, func(), error) {
	stdout := audit.NewLogger()
	closeStore := func() {}

	switch strings.ToLower(cfg.AuditBackend) {
	case "", "stdout":
		return auditWiring{logger: stdout}, closeStore, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return auditWiring{}, closeStore, err
		}
		eventStore, err := store.NewSQLiteAuditStore(db)
		if err != nil {
			_ = db.Close()
			return auditWiring{}, closeStore, err
		}
		return auditWiring{
			logger: audit.MultiLogger{stdout, audit.NewStoreLogger(eventStore)},
			store:  eventStore,
		}, func() { _ = db.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return auditWiring{}, closeStore, err
		}
		eventStore := store.NewPostgresAuditStore(db)
		if err := eventStore.Migrate(ctx); err != nil {
			_ = db.Close()
			return auditWiring{}, closeStore, err
		}
		return auditWiring{
			logger: audit.MultiLogger{stdout, audit.NewStoreLogger(eventStore)},
			store:  eventStore,
		}, func() { _ = db.Close() }, nil

	default:
		return auditWiring{}, closeStore, errors.New("unknown audit backend: " + cfg.AuditBackend)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
