package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/jobcore/internal/api/handler"
	"github.com/cuongbtq/jobcore/internal/api/router"
	"github.com/cuongbtq/jobcore/internal/app"
	"github.com/cuongbtq/jobcore/internal/config"
	"github.com/cuongbtq/jobcore/internal/intake"
	"github.com/cuongbtq/jobcore/internal/maintenance"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/internal/relay"
	"github.com/cuongbtq/jobcore/internal/scheduler"
	"github.com/cuongbtq/jobcore/internal/tasks"
	"github.com/cuongbtq/jobcore/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := app.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	location, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize record store
	store, err := app.OpenStore(ctx, &cfg.Database, false, appLogger.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	appLogger.Info("Record store ready", slog.String("driver", cfg.Database.Driver))

	// Initialize RabbitMQ client; nil when disabled
	rabbitClient, err := app.DialRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return err
	}
	var publisher rabbitmq.Publisher
	if rabbitClient != nil {
		defer rabbitClient.Close()
		publisher = rabbitClient
	}

	// Queue engine and relay queues
	queues := app.NewQueueEngine(&cfg.Queue, store, appLogger.Component("queue"))
	if publisher != nil {
		err := relay.Register(queues, publisher, appLogger.Component("relay"), app.RelayQueues(&cfg.Queue))
		if err != nil {
			return fmt.Errorf("failed to register relay queues: %w", err)
		}
	}

	// Scheduler, maintenance set and task catalog
	sched := scheduler.New(scheduler.Config{
		Store:    store,
		Logger:   appLogger.Component("scheduler"),
		Location: location,
	})

	maint := maintenance.New(maintenance.Config{
		Files:         store,
		Jobs:          queues,
		Logger:        appLogger.Component("maintenance"),
		RetentionDays: cfg.Queue.RetentionDays,
	})
	if cfg.Maintenance.Enabled {
		if err := maint.Register(sched); err != nil {
			return err
		}
	}

	catalog := tasks.New(tasks.Config{
		Sessions:         store,
		Queue:            queues,
		Maintenance:      maint,
		Publisher:        publisher,
		KnownQueues:      cfg.KnownQueues(),
		ReportRoutingKey: cfg.RabbitMQ.Publish.ReportRoutingKey,
		Logger:           appLogger.Component("tasks"),
	})
	load := sched.Restore
	if cfg.Scheduler.SeedDefaults {
		load = sched.Bootstrap
	}
	if err := load(ctx, catalog.Definitions()); err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	// Start processing
	for _, q := range queues.Queues() {
		if err := queues.StartProcessing(q.Name); err != nil {
			return err
		}
	}
	if cfg.Scheduler.Enabled {
		sched.Start()
	}

	errChan := make(chan error, 2)

	if cfg.Intake.Enabled {
		consumer := intake.NewConsumer(intake.Config{
			Source:      rabbitClient,
			Queue:       queues,
			Logger:      appLogger.Component("intake"),
			ConsumerTag: cfg.Intake.ConsumerTag,
			Prefetch:    cfg.Intake.Prefetch,
		})
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errChan <- fmt.Errorf("intake consumer: %w", err)
			}
		}()
	}

	// Admin HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      initRouter(cfg, appLogger.Component("http"), queues, sched, maint, store),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", srv.Addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("queues", len(queues.Queues())),
		slog.Bool("scheduler", cfg.Scheduler.Enabled),
		slog.Bool("intake", cfg.Intake.Enabled),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", runErr),
		)
	}

	// Stop intake before the queues so no new work arrives
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		appLogger.Warn("Scheduler shutdown timeout exceeded", slog.Any("error", err))
	}
	if err := queues.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Queue shutdown timeout exceeded, forcing exit", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, queues *queue.Engine, sched *scheduler.Engine, maint *maintenance.Set, health handler.HealthChecker) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:      logger,
		Queue:       queues,
		Scheduler:   sched,
		Maintenance: maint,
		Health:      health,
		KnownQueues: cfg.KnownQueues(),
		ServiceName: cfg.App.Name,
	})
}
