package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guillermoBallester/joinest/internal/adapter/postgres"
	"github.com/guillermoBallester/joinest/internal/audit"
	"github.com/guillermoBallester/joinest/internal/config"
	"github.com/guillermoBallester/joinest/internal/core/port"
	"github.com/guillermoBallester/joinest/internal/core/service"
	"github.com/guillermoBallester/joinest/internal/report"
	"github.com/guillermoBallester/joinest/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := newRootCmd(&cli{stdout: os.Stdout, stderr: os.Stderr}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flagValues holds raw flag values; only flags the user set become overrides.
type flagValues struct {
	configPath          string
	databaseURL         string
	schemas             []string
	statsMode           string
	queryTimeout        time.Duration
	logLevel            string
	auditLog            string
	otel                bool
	poolMaxConns        int32
	poolMinConns        int32
	poolMaxConnLifetime time.Duration

	format       string
	estimateOnly bool
	planner      bool

	transport       string
	httpAddr        string
	httpBearerToken string
}

type cli struct {
	flags  flagValues
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "joinest [flags] <table1> <table2>",
		Short: "Estimate the size of a natural join between two PostgreSQL tables",
		Long: `joinest estimates how many rows the natural join of two tables produces,
using the tables' columns, keys, foreign keys and distinct-value counts, and
then runs the join to report how close the estimate was.

Configuration is read from an optional YAML file (--config), then environment
variables, then flags.

` + config.Usage(),
		Args:          cobra.ExactArgs(2),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runEstimate(cmd, args[0], args[1])
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&c.flags.databaseURL, "database-url", "", "PostgreSQL connection string (env DATABASE_URL)")
	pf.StringSliceVar(&c.flags.schemas, "schemas", nil, "comma-separated schemas to search for tables (default all non-system schemas)")
	pf.StringVar(&c.flags.statsMode, "stats-mode", "", "statistics source: exact or catalog (default exact)")
	pf.DurationVar(&c.flags.queryTimeout, "query-timeout", 0, "per-query timeout, 0 for no limit")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&c.flags.auditLog, "audit-log", "", "append an NDJSON record of every run to this file")
	pf.BoolVar(&c.flags.otel, "otel", false, "export traces and metrics over OTLP gRPC")
	pf.Int32Var(&c.flags.poolMaxConns, "pool-max-conns", 0, "maximum connections in the pool")
	pf.Int32Var(&c.flags.poolMinConns, "pool-min-conns", 0, "minimum idle connections in the pool")
	pf.DurationVar(&c.flags.poolMaxConnLifetime, "pool-max-conn-lifetime", 0, "maximum lifetime of a pooled connection")

	f := root.Flags()
	f.StringVar(&c.flags.format, "format", "", "output format: text, json or yaml (default text)")
	f.BoolVar(&c.flags.estimateOnly, "estimate-only", false, "skip executing the join")
	f.BoolVar(&c.flags.planner, "planner", false, "also report the PostgreSQL planner's row estimate")

	root.AddCommand(newServeCmd(c))
	return root
}

// overrides converts the flags the user actually set into config overrides.
func (c *cli) overrides(cmd *cobra.Command) config.Overrides {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	var o config.Overrides
	if changed("database-url") {
		o.DatabaseURL = &c.flags.databaseURL
	}
	if changed("schemas") {
		o.Schemas = c.flags.schemas
	}
	if changed("stats-mode") {
		o.StatsMode = &c.flags.statsMode
	}
	if changed("query-timeout") {
		o.QueryTimeout = &c.flags.queryTimeout
	}
	if changed("log-level") {
		o.LogLevel = &c.flags.logLevel
	}
	if changed("audit-log") {
		o.AuditLog = &c.flags.auditLog
	}
	if changed("pool-max-conns") {
		o.PoolMaxConns = &c.flags.poolMaxConns
	}
	if changed("pool-min-conns") {
		o.PoolMinConns = &c.flags.poolMinConns
	}
	if changed("pool-max-conn-lifetime") {
		o.PoolMaxConnLifetime = &c.flags.poolMaxConnLifetime
	}
	if changed("transport") {
		o.Transport = &c.flags.transport
	}
	if changed("http-addr") {
		o.HTTPAddr = &c.flags.httpAddr
	}
	if changed("http-bearer-token") {
		o.HTTPBearerToken = &c.flags.httpBearerToken
	}
	o.OTelEnabled = c.flags.otel
	o.Format = c.flags.format
	o.EstimateOnly = c.flags.estimateOnly
	o.WithPlanner = c.flags.planner
	return o
}

func (c *cli) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.flags.configPath, c.overrides(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr; stdout carries the report or the MCP stdio stream.
	logger := slog.New(slog.NewJSONHandler(c.stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return cfg, logger, nil
}

func (c *cli) runEstimate(cmd *cobra.Command, left, right string) error {
	cfg, logger, err := c.load(cmd)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	ctx = service.WithSource(ctx, "cli")
	cmp, err := app.svc.Compare(ctx, left, right, service.CompareOptions{
		SkipActual:  cfg.EstimateOnly,
		WithPlanner: cfg.WithPlanner,
	})
	if err != nil {
		return err
	}

	return report.Write(c.stdout, format, cmp)
}

// application is the wired object graph shared by the estimate command and
// the MCP server.
type application struct {
	svc      *service.ComparisonService
	catalog  *postgres.Catalog
	tracer   trace.Tracer
	inst     port.Instrumentation
	closers  []func() error
	provider *telemetry.Provider
}

func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	logger.Info("starting joinest",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("db.connection", redactDSN(cfg.DatabaseURL)),
		slog.String("stats_mode", cfg.StatsMode),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.Any("schemas", cfg.Schemas),
	)

	mode, err := postgres.ParseStatsMode(cfg.StatsMode)
	if err != nil {
		return nil, err
	}

	app := &application{}

	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, "joinest", version)
		if err != nil {
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
		app.provider = provider
		logger.Info("opentelemetry enabled")
	}
	app.tracer = app.provider.Tracer()
	app.inst = app.provider.Instruments()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.Pool.MaxConns,
		MinConns:        cfg.Pool.MinConns,
		MaxConnLifetime: cfg.Pool.MaxConnLifetime,
		MaxConnIdleTime: cfg.Pool.MaxConnIdleTime,
	})
	if err != nil {
		app.close(logger)
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })
	logger.Info("database pool connected", slog.String("db.system", "postgresql"))

	var auditor port.Auditor = audit.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			app.close(logger)
			return nil, err
		}
		auditor = fa
		logger.Info("audit log enabled", slog.String("path", cfg.AuditLog))
	}
	app.closers = append(app.closers, auditor.Close)

	// Adapters
	exec := postgres.NewExecutor(pool, cfg.QueryTimeout)
	app.catalog = postgres.NewCatalog(pool, cfg.Schemas)
	stats := postgres.NewStatistics(pool, exec, cfg.Schemas, mode)
	prober := postgres.NewProber(pool, exec, cfg.Schemas)

	// Services
	est := service.NewEstimator(app.catalog, stats, logger, app.tracer, app.inst)
	app.svc = service.NewComparisonService(est, prober, auditor, logger, app.tracer)

	return app, nil
}

// close releases resources in reverse order of acquisition.
func (a *application) close(logger *slog.Logger) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error.message", err.Error()))
	}
}

// redactDSN replaces the password in a connection URL so it can be logged.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
