package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/creatorstation/publisher/internal/appcron"
	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/connections"
	"github.com/creatorstation/publisher/internal/db"
	"github.com/creatorstation/publisher/internal/events"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/idempotency"
	"github.com/creatorstation/publisher/internal/locales"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/media"
	"github.com/creatorstation/publisher/internal/metrics"
	"github.com/creatorstation/publisher/internal/orchestrator"
	"github.com/creatorstation/publisher/internal/platform"
	"github.com/creatorstation/publisher/internal/posts"
	"github.com/creatorstation/publisher/internal/scheduler"
	"github.com/creatorstation/publisher/internal/workflow"
	sentry "github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.AppEnv,
			Release:     cfg.Version,
		})
		if err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
	}

	// run returns instead of exiting so its deferred cleanup happens before
	// the captured error is flushed.
	if err := run(cfg, logger); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		logger.WithError(err).Fatal("Publisher stopped")
	}
	sentry.Flush(2 * time.Second)
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(gdb); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	var (
		sink       events.Sink = events.NewLogSink(logger)
		engagement scheduler.EngagementSource
		snapshots  connections.SnapshotStore
	)
	if cfg.MongoURI != "" {
		client, mdb, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.WithError(err).Warn("Failed to disconnect from MongoDB")
			}
		}()
		sink = events.Multi{events.NewLogSink(logger), events.NewMongoSink(mdb)}
		engagement = scheduler.NewMongoEngagement(mdb)
		snapshots = connections.NewMongoSnapshots(mdb)
	} else {
		engagement = scheduler.NewMemoryEngagement()
	}

	var redisClient goredis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = goredis.NewClient(opts)
		defer redisClient.Close()
	}
	guard := idempotency.NewGuard(redisClient, idempotencyTTL, logger)

	locales.Init(cfg.DefaultLanguage)
	m := metrics.NewDefault()

	registry, err := platform.BuildRegistry(cfg.Platforms, logger, m)
	if err != nil {
		return fmt.Errorf("build platform registry: %w", err)
	}

	sched := scheduler.NewScheduler(gdb, guard, engagement, cfg.Recurrence, m, logger)
	conns := connections.NewService(gdb, registry, sink, snapshots, logger)
	orch := orchestrator.New(gdb, sched, conns, registry, sink, m, cfg.Delivery, logger)
	engine := workflow.NewEngine(gdb, sink, m, logger, orch)
	postSvc := posts.NewService(gdb, logger)

	sweepCron, err := appcron.SetupPublishingCron(cfg, orch, logger)
	if err != nil {
		return fmt.Errorf("schedule publishing sweep: %w", err)
	}
	defer func() { <-sweepCron.Stop().Done() }()
	syncCron, err := appcron.SetupProfileSyncCron(cfg, conns, logger)
	if err != nil {
		return fmt.Errorf("schedule profile sync: %w", err)
	}
	defer func() { <-syncCron.Stop().Done() }()

	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	metrics.MountController(app.Group("/metrics"), m)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": cfg.Version})
	})

	api := app.Group("/api", auth.Middleware([]byte(cfg.JWTSecret)))
	posts.MountController(api.Group("/posts"), postSvc)
	workflow.MountController(api.Group("/workflows"), engine)
	scheduler.MountController(api.Group("/schedules"), sched)
	connections.MountController(api.Group("/connections"), conns)
	orchestrator.MountController(api.Group("/publishing"), orch)
	media.MountController(api.Group("/media"), registry, logger)
	appcron.MountController(api.Group("/cron"), orch, conns, logger)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(":" + cfg.Port)
	}()
	logger.WithField("port", cfg.Port).Info("Publisher started")

	select {
	case err := <-listenErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.WithError(err).Warn("HTTP shutdown did not finish cleanly")
	}
	return nil
}
