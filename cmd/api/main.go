package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/c7lavinder/gunner-backend/config"
	"github.com/c7lavinder/gunner-backend/internal/automations"
	"github.com/c7lavinder/gunner-backend/internal/handlers"
	"github.com/c7lavinder/gunner-backend/pkg/agents"
	"github.com/c7lavinder/gunner-backend/pkg/crm"
	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/events"
	"github.com/c7lavinder/gunner-backend/pkg/health"
	"github.com/c7lavinder/gunner-backend/pkg/kafka"
	"github.com/c7lavinder/gunner-backend/pkg/middleware"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/poller"
	"github.com/c7lavinder/gunner-backend/pkg/projector"
	gunnerredis "github.com/c7lavinder/gunner-backend/pkg/redis"
	"github.com/c7lavinder/gunner-backend/pkg/repositories"
	"github.com/c7lavinder/gunner-backend/pkg/rules"
	"github.com/c7lavinder/gunner-backend/pkg/startup"
	"github.com/c7lavinder/gunner-backend/pkg/throttle"
	"github.com/c7lavinder/gunner-backend/pkg/toggles"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
	"github.com/c7lavinder/gunner-backend/pkg/tracing/exporters"
	"github.com/c7lavinder/gunner-backend/pkg/webhooks"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	shutdownTracing := setupTracing(ctx, cfg, logger)
	defer shutdownTracing()

	// Database
	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, databaseDSN(cfg))
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db := database.NewDatabaseInstance(sqlxDB, logger)
	defer db.Close()

	// Migrations
	migrationDriver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		logger.WithError(err).Error("Failed to create migration driver")
		os.Exit(1)
	}
	migrationService := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrationService.Migrate(cfg.DatabaseName, migrationDriver); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}

	// Redis
	redisClient, err := gunnerredis.NewClient(gunnerredis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		os.Exit(1)
	}
	defer redisClient.Close()

	locker := gunnerredis.NewLocker(redisClient, "gunner:")
	dlq := gunnerredis.NewDeadLetterQueue(redisClient, cfg.RedisDLQStream, logger)

	// Kafka audit mirror
	producer := kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaAuditTopic), logger)
	defer producer.Close()

	// Repositories
	eventRepo := repositories.NewEventRepository(db, logger)
	leadRepo := repositories.NewLeadStateRepository(db, logger)
	firingRepo := repositories.NewTriggerFiringRepository(db, logger)
	toggleRepo := repositories.NewToggleRepository(db, logger)

	// Engine core
	bus := events.NewBus(logger)
	agentRegistry := agents.NewRegistry()
	toggleRegistry := toggles.NewRegistry(toggleRepo, logger)
	dispatcher := rules.NewDispatcher(agentRegistry, toggleRegistry, logger)
	engine := rules.NewEngine(bus, dispatcher, toggleRegistry, logger)

	// Outbound path
	outboundThrottle := throttle.New(throttle.Config{
		RPS:        cfg.ThrottleRPS,
		Burst:      cfg.ThrottleBurst,
		Tick:       cfg.ThrottleTick,
		RetryBase:  cfg.ThrottleRetryBase,
		MaxRetries: cfg.ThrottleMaxRetries,
	}, dlq, logger)
	crmClient := crm.NewClient(crm.Config{
		BaseURL: cfg.CRMBaseURL,
		APIKey:  cfg.CRMAPIKey,
		Timeout: cfg.CRMTimeout,
	}, logger)

	// Automations and routing tables
	autos := automations.New(crmClient, outboundThrottle, logger)
	autos.Register(agentRegistry)

	if err := engine.Bind(automations.EventRules()); err != nil {
		logger.WithError(err).Error("Failed to bind event rules")
		os.Exit(1)
	}

	pollRules := automations.PollRules()
	for _, rule := range pollRules {
		for _, handlerID := range rule.HandlerIDs {
			toggleRegistry.Register(handlerID, !rule.Disabled)
		}
	}

	// Overlay persisted toggle state after every handler is registered.
	if err := toggleRegistry.Load(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load persisted toggles, using defaults")
	}

	// Wildcard subscribers: durable event log, projection, audit mirror.
	bus.SubscribeAll("event-log", func(ctx context.Context, event *models.Event) error {
		return eventRepo.Insert(ctx, event)
	})
	stateProjector := projector.New(leadRepo, logger)
	stateProjector.Bind(bus)
	bus.SubscribeAll("kafka-audit", producer.AuditSubscriber())

	// Anomaly poller
	anomalyPoller := poller.New(pollRules, leadRepo, firingRepo, dispatcher, locker, poller.Config{
		Interval:     cfg.PollerInterval,
		InitialDelay: cfg.PollerInitialDelay,
		BatchSize:    cfg.PollerBatchSize,
		LockTTL:      cfg.PollerLockTTL,
	}, logger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	healthChecker := health.NewChecker(sqlxDB, redisClient.Redis(), version)
	healthChecker.WatchLoop("throttle", outboundThrottle)
	if cfg.PollerEnabled {
		healthChecker.WatchLoop("poller", anomalyPoller)
	}
	healthChecker.WatchPinger("kafka", producer)
	healthChecker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	handlers.NewWebhookHandler(webhooks.NewNormalizer(logger), bus, logger).RegisterRoutes(api)
	handlers.NewToggleHandler(toggleRegistry, logger).RegisterRoutes(api)
	handlers.NewLeadHandler(leadRepo, crmClient, bus, logger).RegisterRoutes(api)
	handlers.NewFiringHandler(firingRepo, logger).RegisterRoutes(api)
	handlers.NewEventHandler(eventRepo, logger).RegisterRoutes(api)
	handlers.NewDLQHandler(dlq, logger).RegisterRoutes(api)

	// Background dependencies
	runner := startup.NewRunner(logger, cfg.StartupMaxAttempts)
	runner.AddDependency(&dependency{
		name:  "throttle",
		start: outboundThrottle.Start,
		stop:  outboundThrottle.Stop,
	})
	if cfg.PollerEnabled {
		runner.AddDependency(&dependency{
			name:  "poller",
			deps:  []string{"throttle"},
			start: anomalyPoller.Start,
			stop:  anomalyPoller.Stop,
		})
	}
	if err := runner.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start background dependencies")
		os.Exit(1)
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	healthChecker.SetReady(true)
	logger.Infof("%s started on port %d", cfg.AppName, cfg.Port)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	healthChecker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Background dependency shutdown failed")
	}

	logger.Info("Shutdown complete")
}

// dependency adapts start/stop funcs to the startup runner.
type dependency struct {
	name  string
	deps  []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (d *dependency) GetName() string                 { return d.name }
func (d *dependency) DependsOn() []string             { return d.deps }
func (d *dependency) Start(ctx context.Context) error { return d.start(ctx) }
func (d *dependency) Stop(ctx context.Context) error  { return d.stop(ctx) }

// newLogger builds the structured logger with a zap sink.
func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	if cfg.PrettyLogs {
		zapLogger, _ = zap.NewDevelopment()
	} else {
		zapLogger, _ = zap.NewProduction()
	}

	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		zapLogger.Info(string(data))
	})
}

// databaseDSN builds the Postgres connection string
func databaseDSN(cfg config.Config) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)
}

// setupTracing configures the OTLP trace pipeline when enabled.
func setupTracing(ctx context.Context, cfg config.Config, logger ectologger.Logger) func() {
	if !cfg.OTLPEnabled {
		return func() {}
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to create OTLP exporter, tracing disabled")
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Trace provider shutdown failed")
		}
	}
}
