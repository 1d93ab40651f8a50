package app

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/jobcore/internal/config"
	"github.com/cuongbtq/jobcore/internal/storage/memory"
	"github.com/cuongbtq/jobcore/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore_Memory(t *testing.T) {
	store, err := OpenStore(context.Background(), &config.DatabaseConfig{Driver: config.DriverMemory}, true, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	require.NoError(t, store.Ping(context.Background()))
}

func TestOpenStore_SQLiteMigrates(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         t.TempDir() + "/jobs.db",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	store, err := OpenStore(context.Background(), cfg, true, logger.Discard())
	require.NoError(t, err)
	defer store.Close()

	n, err := store.CountFiles(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDialRabbitMQ_Disabled(t *testing.T) {
	client, err := DialRabbitMQ(&config.RabbitMQConfig{}, logger.Discard())
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestRabbitMQConfig(t *testing.T) {
	rc := RabbitMQConfig(&config.RabbitMQConfig{
		Host:     "mq",
		Port:     5672,
		Exchange: config.ExchangeConfig{Name: "jobs_exchange", Type: "topic", Durable: true},
		Queue:    config.BrokerQueueConfig{Name: "jobs_queue"},
		Publish:  config.PublishConfig{RetryAttempts: 4, RetryInterval: 200 * time.Millisecond, BackoffMultiplier: 1.5},
	})

	assert.Equal(t, "jobs_exchange", rc.ExchangeName)
	assert.True(t, rc.ExchangeDurable)
	assert.Equal(t, "jobs_queue", rc.QueueName)
	assert.Equal(t, 4, rc.PublishRetries)
	assert.Equal(t, 200*time.Millisecond, rc.PublishRetryDelay)
	assert.InDelta(t, 1.5, rc.PublishBackoffMult, 0.001)
}

func TestRelayQueues(t *testing.T) {
	got := RelayQueues(&config.QueueConfig{Relay: map[string]config.QueueOptions{
		"emailQueue":   {Concurrency: 10},
		"paymentQueue": {Concurrency: 2, PollInterval: 10 * time.Second},
	}})

	require.Len(t, got, 2)
	assert.Equal(t, 10, got["emailQueue"].Concurrency)
	assert.Equal(t, 10*time.Second, got["paymentQueue"].PollInterval)
}

func TestNewQueueEngine(t *testing.T) {
	e := NewQueueEngine(&config.QueueConfig{
		Defaults:    config.QueueOptions{Concurrency: 3},
		MaxAttempts: 4,
		BaseBackoff: time.Second,
	}, memory.New(), logger.Discard())

	assert.Empty(t, e.Queues())
}
