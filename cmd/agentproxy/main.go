package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guillermoBallester/agentproxy/internal/adapter/mcp"
	"github.com/guillermoBallester/agentproxy/internal/adapter/policy"
	"github.com/guillermoBallester/agentproxy/internal/adapter/rest"
	"github.com/guillermoBallester/agentproxy/internal/audit"
	"github.com/guillermoBallester/agentproxy/internal/config"
	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/port"
	"github.com/guillermoBallester/agentproxy/internal/core/service"
	"github.com/guillermoBallester/agentproxy/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	overrides, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr; stdout is reserved for the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting agentproxy",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("transport", cfg.Transport),
		slog.String("database_url", redactDSN(cfg.DatabaseURL)),
		slog.String("store", cfg.StoreBackend),
		slog.String("tenant_column", cfg.TenantColumn),
		slog.String("statement_timeout", cfg.StatementTimeout.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry (optional).
	var tracer trace.Tracer
	inst := telemetry.NoopInstruments()
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, "agentproxy", version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
		tracer = telemetry.Tracer()
		inst = telemetry.NewInstruments()
		logger.Info("opentelemetry enabled")
	}

	// Policy.
	pol, err := policy.LoadFromFile(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	logger.Info("policy loaded",
		slog.String("file", cfg.PolicyFile),
		slog.Int("tables", len(pol.Tables)),
	)

	// Record store.
	recordStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Execution adapter (optional).
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	opts := []service.Option{
		service.WithTracer(tracer),
		service.WithInstrumentation(inst),
	}
	if backend.executor != nil {
		opts = append(opts,
			service.WithExecutor(backend.executor),
			service.WithDescriber(policy.NewPolicyDescriber(backend.describer, pol)),
		)
		logger.Info("database connected", slog.String("db.system", backend.system))
	} else {
		logger.Warn("no database configured, running in dry-run mode")
	}

	// Audit log (optional).
	var auditor port.QueryAuditor = audit.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer func() { _ = fa.Close() }()
		auditor = fa
		logger.Info("audit log enabled", slog.String("path", cfg.AuditLog))
	}

	querySvc := service.NewQueryService(
		domain.NewPgQueryAnalyzer(),
		domain.NewRuleEvaluator(cfg.TenantColumn),
		pol,
		recordStore,
		auditor,
		logger,
		opts...,
	)

	mcpServer := mcp.NewServer(version, querySvc, logger, tracer, inst)

	switch cfg.Transport {
	case "http":
		return serveHTTP(ctx, cfg, querySvc, mcpServer, logger)
	default:
		logger.Info("serving MCP over stdio")
		if err := mcpserver.NewStdioServer(mcpServer).Listen(ctx, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("stdio server: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, querySvc *service.QueryService, mcpServer *mcpserver.MCPServer, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           rest.NewRouter(querySvc, mcpServer, cfg.HTTPBearerToken, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving HTTP", slog.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// parseFlags parses CLI arguments into config overrides. Only flags that
// were explicitly given are set.
func parseFlags(args []string) (config.Overrides, error) {
	var o config.Overrides
	fs := flag.NewFlagSet("agentproxy", flag.ContinueOnError)

	databaseURL := fs.String("database-url", "", "database URL (postgres://, sqlite:// or file:); empty runs in dry-run mode")
	policyFile := fs.String("policy-file", "", "path to the YAML or JSON policy file")
	tenantColumn := fs.String("tenant-column", "", "column a statement must mention to be tenant-scoped")
	statementTimeout := fs.Duration("statement-timeout", 0, "per-statement execution timeout")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	storeBackend := fs.String("store", "", "record store: memory or redis")
	redisURL := fs.String("redis-url", "", "redis URL for the redis record store")
	transport := fs.String("transport", "", "transport: stdio or http")
	httpAddr := fs.String("http-addr", "", "listen address for the http transport")
	httpToken := fs.String("http-bearer-token", "", "bearer token required by the http transport")
	poolMaxConns := fs.Int("pool-max-conns", 0, "postgres pool max connections")
	poolMinConns := fs.Int("pool-min-conns", 0, "postgres pool min connections")
	poolMaxConnLifetime := fs.Duration("pool-max-conn-lifetime", 0, "postgres pool max connection lifetime")
	fs.BoolVar(&o.OTelEnabled, "otel", false, "enable OpenTelemetry tracing and metrics")
	fs.BoolVar(&o.DryRun, "dry-run", false, "validate and record statements without executing them")
	fs.StringVar(&o.AuditLog, "audit-log", "", "path to an NDJSON audit log")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "database-url":
			o.DatabaseURL = databaseURL
		case "policy-file":
			o.PolicyFile = policyFile
		case "tenant-column":
			o.TenantColumn = tenantColumn
		case "statement-timeout":
			o.StatementTimeout = statementTimeout
		case "log-level":
			o.LogLevel = logLevel
		case "store":
			o.StoreBackend = storeBackend
		case "redis-url":
			o.RedisURL = redisURL
		case "transport":
			o.Transport = transport
		case "http-addr":
			o.HTTPAddr = httpAddr
		case "http-bearer-token":
			o.HTTPBearerToken = httpToken
		case "pool-max-conns":
			n := int32(*poolMaxConns)
			o.PoolMaxConns = &n
		case "pool-min-conns":
			n := int32(*poolMinConns)
			o.PoolMinConns = &n
		case "pool-max-conn-lifetime":
			o.PoolMaxConnLifetime = poolMaxConnLifetime
		}
	})

	return o, nil
}

// redactDSN masks the password of a database URL for logging.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
