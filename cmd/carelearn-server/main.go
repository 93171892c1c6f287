package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/carelearn/carelearn/internal/config"
	"github.com/carelearn/carelearn/internal/domain/quiz"
	"github.com/carelearn/carelearn/internal/platform/auth"
	"github.com/carelearn/carelearn/internal/platform/db"
	"github.com/carelearn/carelearn/internal/platform/live"
	"github.com/carelearn/carelearn/internal/platform/middleware"
	"github.com/carelearn/carelearn/internal/platform/notification"
	"github.com/carelearn/carelearn/internal/platform/reportcache"
	"github.com/carelearn/carelearn/internal/platform/reportcard"
	"github.com/carelearn/carelearn/internal/platform/reporting"
	"github.com/carelearn/carelearn/internal/platform/sandbox"
	"github.com/carelearn/carelearn/internal/platform/webhook"
	"github.com/carelearn/carelearn/migrations"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
	requestTimeout  = 30 * time.Second
	bodyLimit       = "1M"
	livePath        = "/api/v1/live"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carelearn-server",
		Short: "CareLearn quiz and reporting API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			if err := db.CreateTenantSchema(ctx, pool, tenant, nil); err != nil {
				return err
			}
			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			tenants, err := db.ListTenants(ctx, pool)
			if err != nil {
				return err
			}
			for _, t := range tenants {
				fmt.Println(t)
			}
			return nil
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo quizzes and learner attempts into a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.LearnerCount, _ = cmd.Flags().GetInt("learners")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")
			seedCfg.Difficulty, _ = cmd.Flags().GetString("difficulty")
			noInsight, _ := cmd.Flags().GetBool("no-insight")
			seedCfg.IncludeInsight = !noInsight

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, release, err := db.WithTenantConn(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()

			svc := quiz.NewService(
				quiz.NewQuizRepoPG(pool),
				quiz.NewQuestionRepoPG(pool),
				quiz.NewAttemptRepoPG(pool),
				logger,
			)
			result, err := sandbox.NewSeeder(svc, seedCfg, logger).Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded tenant %s: %d learners, %d attempts (%d passed)\n",
				tenant, result.Learners, result.Attempts, result.Passed)
			fmt.Printf("Standard quiz: %s\n", result.StandardQuizID)
			if seedCfg.IncludeInsight {
				fmt.Printf("Insight quiz:  %s\n", result.InsightQuizID)
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "default", "Tenant to seed")
	cmd.Flags().Int("learners", 25, "Number of simulated learners")
	cmd.Flags().Int64("seed", 0, "Random seed, 0 picks one from the clock")
	cmd.Flags().String("difficulty", "intermediate", "Difficulty of the standard quiz")
	cmd.Flags().Bool("no-insight", false, "Skip the colour energy questionnaire")
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// authMiddleware selects development auth or JWT validation. With only an
// issuer configured the JWKS endpoint is discovered through OIDC.
func authMiddleware(cfg *config.Config, logger zerolog.Logger) (echo.MiddlewareFunc, error) {
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		return auth.DevAuthMiddleware(), nil
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	} else if jwtCfg.JWKSURL == "" {
		provider, err := auth.NewOIDCProvider(cfg.AuthIssuer)
		if err != nil {
			return nil, fmt.Errorf("discover jwks: %w", err)
		}
		jwtCfg.JWKSURL = provider.JWKSURI
		logger.Info().Str("jwks_url", provider.JWKSURI).Msg("discovered jwks endpoint")
	}
	return auth.JWTMiddleware(jwtCfg), nil
}

// emailSender returns the SendGrid sender when an API key is configured and
// a log-only sender otherwise.
func emailSender(cfg *config.Config, logger zerolog.Logger) (notification.EmailSender, error) {
	if cfg.SendGridAPIKey == "" {
		return &notification.LogSender{From: cfg.SMTPFrom, Logger: logger}, nil
	}
	return notification.NewSendGridSender(notification.SendGridConfig{
		APIKey:   cfg.SendGridAPIKey,
		From:     cfg.SMTPFrom,
		FromName: "CareLearn",
	})
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis backs the report cache and the live bus; both degrade to
	// single-replica behaviour without it.
	var (
		cache reportcache.Cache = reportcache.Noop{}
		bus   live.Bus
	)
	if cfg.RedisURL != "" {
		rdb, err := reportcache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cache = reportcache.NewRedis(rdb, cfg.ReportCacheTTL)
		bus = live.NewRedisBus(rdb, cfg.LiveChannel, logger)
		logger.Info().Dur("report_cache_ttl", cfg.ReportCacheTTL).Str("live_channel", cfg.LiveChannel).Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; report cache disabled and live sessions limited to this replica")
	}

	// Notifications
	sender, err := emailSender(cfg, logger)
	if err != nil {
		return err
	}
	templates := notification.NewTemplateEngine()
	notifier := notification.NewManager(sender, templates, notification.DefaultRetryPolicy(), logger)

	renderer, err := reportcard.NewRenderer()
	if err != nil {
		return fmt.Errorf("load report card fonts: %w", err)
	}

	hub := live.NewHub(bus, logger)
	webhooks := webhook.NewDispatcher(webhook.NewMemoryStore(), webhook.DefaultOptions(), logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout, livePath))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	authMW, err := authMiddleware(cfg, logger)
	if err != nil {
		return err
	}
	e.Use(authMW)
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	// Quiz domain
	quizSvc := quiz.NewService(
		quiz.NewQuizRepoPG(pool),
		quiz.NewQuestionRepoPG(pool),
		quiz.NewAttemptRepoPG(pool),
		logger,
	).WithCache(cache).
		WithNotifier(notifier).
		WithPublisher(live.Fanout{hub, webhooks}).
		WithRenderer(renderer)
	quiz.NewHandler(quizSvc).RegisterRoutes(apiV1)

	reporting.NewHandler(pool).RegisterRoutes(apiV1)
	notification.NewHandler(notifier, templates).RegisterRoutes(apiV1)
	live.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)
	webhook.NewHandler(webhooks).RegisterRoutes(apiV1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return webhooks.Run(gctx)
	})
	if bus != nil {
		g.Go(func() error {
			return bus.Run(gctx, hub.Deliver)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
