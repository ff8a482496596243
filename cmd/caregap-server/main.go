package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/caregap/internal/config"
	"github.com/ehr/caregap/internal/domain/workflow"
	"github.com/ehr/caregap/internal/platform/auth"
	"github.com/ehr/caregap/internal/platform/db"
	"github.com/ehr/caregap/internal/platform/fhir"
	"github.com/ehr/caregap/internal/platform/metrics"
	"github.com/ehr/caregap/internal/platform/middleware"
	"github.com/ehr/caregap/internal/platform/validation"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "caregap-server",
		Short: "Care-gap screening orchestrator",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the screening API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Fetch and evaluate the screening dashboard of one patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetString("patient")
			date, _ := cmd.Flags().GetString("date")
			pretty, _ := cmd.Flags().GetBool("pretty")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, os.Stderr)

			deps, err := openDeps(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			return runEvaluate(cmd.Context(), deps.service, patient, date, pretty, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("patient", "", "Patient id on the record-exchange server")
	cmd.Flags().String("date", "", "Reference date (YYYY-MM-DD); empty uses now minus the stale window")
	cmd.Flags().Bool("pretty", false, "Indent the JSON output")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func runEvaluate(ctx context.Context, svc *workflow.Service, patient, date string, pretty bool, out io.Writer) error {
	snap, err := svc.Evaluate(ctx, patient, date)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", patient, err)
	}
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(snap)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run submission log migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	cmd.AddCommand(statusCmd)

	cmd.PersistentFlags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.PersistentFlags().String("dir", "./migrations", "Path to migrations directory")
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	ctx := cmd.Context()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Migrations in schema: %s\n", schema)
	return fn(ctx, db.NewMigrator(pool, dir, schema))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			appliedAt = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// deps are the process-wide connections shared by serve and evaluate.
type deps struct {
	service *workflow.Service
	checks  []db.Check
	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func workflowConfig(cfg *config.Config) (workflow.Config, error) {
	zone, err := cfg.Zone()
	if err != nil {
		return workflow.Config{}, err
	}
	return workflow.Config{
		MeasureID:      cfg.MeasureID,
		PeriodStart:    cfg.MeasurePeriodStart,
		PeriodEnd:      cfg.MeasurePeriodEnd,
		ReminderPlanID: cfg.ReminderPlanID,
		ScreeningCode:  cfg.ScreeningCode,
		Zone:           zone,
		StaleAfter:     cfg.StaleAfter(),
		FetchTimeout:   cfg.FHIRTimeout,
	}, nil
}

// openDeps connects the record-exchange client and, when configured, the
// Redis cache and the submission log database.
func openDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{}

	client, err := fhir.NewClient(fhir.ClientConfig{
		BaseURL: cfg.FHIRBaseURL,
		Timeout: cfg.FHIRTimeout,
		RPS:     cfg.FHIRRPS,
	})
	if err != nil {
		return nil, err
	}
	var exchange workflow.RecordExchange = client

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		d.closers = append(d.closers, func() { rdb.Close() })
		d.checks = append(d.checks, db.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		exchange = fhir.NewCachingClient(client, rdb, cfg.CacheTTL, logger)
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("record cache enabled")
	}

	var repo workflow.Repository
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		d.checks = append(d.checks, db.PoolCheck(pool))
		repo = workflow.NewRepo(pool)
		logger.Info().Msg("connected to submission log database")
	} else {
		repo = workflow.NewMemoryRepo()
		logger.Warn().Msg("DATABASE_URL not set, submission log kept in memory")
	}

	wcfg, err := workflowConfig(cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.service = workflow.NewService(exchange, repo, wcfg, logger)
	return d, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware()
	}
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jc)
}

func newServer(cfg *config.Config, logger zerolog.Logger, svc *workflow.Service, sessions *workflow.Manager, checks []db.Check) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", db.HealthHandler(checks...))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(rateLimitCfg),
		middleware.RequestTimeout(cfg.RequestTimeout),
		authMiddleware(cfg),
	)
	workflow.NewHandler(svc, sessions).RegisterRoutes(apiV1)
	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: every request is treated as a physician; do not use in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer d.Close()

	sessions := workflow.NewManager(d.service, cfg.SessionTTL, logger)
	sessionsDone := make(chan struct{})
	go func() {
		sessions.Run(ctx)
		close(sessionsDone)
	}()

	e := newServer(cfg, logger, d.service, sessions, d.checks)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("fhir", cfg.FHIRBaseURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	<-sessionsDone
	logger.Info().Msg("server stopped")
	return nil
}
