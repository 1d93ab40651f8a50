// Package app builds the infrastructure clients shared by the service
// binary and the operator CLI from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobcore/internal/config"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/cuongbtq/jobcore/internal/storage/memory"
	"github.com/cuongbtq/jobcore/internal/storage/sqlstore"
	"github.com/cuongbtq/jobcore/shared/database"
	"github.com/cuongbtq/jobcore/shared/logger"
	"github.com/cuongbtq/jobcore/shared/rabbitmq"
)

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// DatabaseConfig maps the database section onto the client config
func DatabaseConfig(cfg *config.DatabaseConfig) *database.Config {
	return &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// OpenStore builds the record store selected by the database driver. With
// migrate set, or auto_migrate configured, the schema is applied first.
// The returned store owns its connection; Close releases it.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, migrate bool, logger *slog.Logger) (storage.Store, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory store, records are lost on restart")
		return memory.New(), nil
	}

	client, err := database.NewClient(DatabaseConfig(cfg), logger)
	if err != nil {
		return nil, err
	}

	store, err := sqlstore.New(client.GetDB(), logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	if migrate || cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
	}

	return store, nil
}

// RabbitMQConfig maps the rabbitmq section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// DialRabbitMQ connects to the broker when it is enabled. It returns a nil
// client otherwise.
func DialRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled, relay queues and intake are off")
		return nil, nil
	}
	client, err := rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	return client, nil
}

// NewQueueEngine builds the queue engine from the queue section
func NewQueueEngine(cfg *config.QueueConfig, store storage.JobStore, logger *slog.Logger) *queue.Engine {
	return queue.New(queue.Config{
		Store:              store,
		Logger:             logger,
		Defaults:           QueueOptions(cfg.Defaults),
		DefaultMaxAttempts: cfg.MaxAttempts,
		BaseBackoff:        cfg.BaseBackoff,
		CleanupBatchSize:   cfg.CleanupBatchSize,
	})
}

// QueueOptions converts configured queue tuning to engine options
func QueueOptions(o config.QueueOptions) queue.Options {
	return queue.Options{
		Concurrency:       o.Concurrency,
		PollInterval:      o.PollInterval,
		VisibilityTimeout: o.VisibilityTimeout,
	}
}

// RelayQueues converts the relay section to engine options per queue
func RelayQueues(cfg *config.QueueConfig) map[string]queue.Options {
	out := make(map[string]queue.Options, len(cfg.Relay))
	for name, o := range cfg.Relay {
		out[name] = QueueOptions(o)
	}
	return out
}
