package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JOBCORE_TEST_DB_PASSWORD", "s3cret")
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, DriverPostgres, cfg.Database.Driver)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "s3cret", cfg.Database.Password)
			assert.Equal(t, "jobs_db", cfg.Database.Database)
			assert.True(t, cfg.RabbitMQ.Enabled)
			assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "jobcore", cfg.App.Name)
			assert.Equal(t, 15*time.Minute, cfg.Queue.Defaults.VisibilityTimeout)
			assert.Equal(t, 14, cfg.Queue.RetentionDays)
			assert.Equal(t, 2, cfg.Queue.Relay["paymentQueue"].Concurrency)
			assert.Equal(t, 10*time.Second, cfg.Queue.Relay["paymentQueue"].PollInterval)
			assert.Equal(t, 20, cfg.Intake.Prefetch)
			assert.Equal(t, "jobcore-intake", cfg.Intake.ConsumerTag)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, "jobcore", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Empty(t, cfg.Database.SSLMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Queue.Defaults.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Queue.Defaults.PollInterval)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Queue.BaseBackoff)
	assert.Equal(t, 1000, cfg.Queue.CleanupBatchSize)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.False(t, cfg.RabbitMQ.Enabled)

	require.NoError(t, cfg.Validate())
}

func validConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Port:     5432,
			Database: "jobs_db",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "jobs_exchange"},
			Queue:    BrokerQueueConfig{Name: "jobs_queue"},
		},
		Intake: IntakeConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config"},
		{name: "invalid server port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "invalid server port - negative", mutate: func(c *Config) { c.Server.Port = -1 }, errString: "invalid server port"},
		{name: "unsupported driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, errString: "unsupported database driver"},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "invalid database port", mutate: func(c *Config) { c.Database.Port = 0 }, errString: "invalid database port"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Driver = DriverSQLite }, errString: "database path is required"},
		{name: "memory needs nothing", mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} }},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "empty intake queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "rabbitmq disabled skips broker checks", mutate: func(c *Config) {
			c.RabbitMQ = RabbitMQConfig{}
			c.Intake.Enabled = false
		}},
		{name: "intake without rabbitmq", mutate: func(c *Config) { c.RabbitMQ.Enabled = false }, errString: "intake requires rabbitmq"},
		{name: "relay without rabbitmq", mutate: func(c *Config) {
			c.RabbitMQ.Enabled = false
			c.Intake.Enabled = false
			c.Queue.Relay = map[string]QueueOptions{"emailQueue": {}}
		}, errString: "relay queues require rabbitmq"},
		{name: "negative relay concurrency", mutate: func(c *Config) {
			c.Queue.Relay = map[string]QueueOptions{"emailQueue": {Concurrency: -1}}
		}, errString: "queue emailQueue concurrency"},
		{name: "negative visibility timeout", mutate: func(c *Config) { c.Queue.Defaults.VisibilityTimeout = -time.Second }, errString: "visibility_timeout"},
		{name: "negative max attempts", mutate: func(c *Config) { c.Queue.MaxAttempts = -1 }, errString: "max_attempts"},
		{name: "max attempts above limit", mutate: func(c *Config) { c.Queue.MaxAttempts = 101 }, errString: "max_attempts must be between 1 and 100"},
		{name: "unknown timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, errString: "invalid scheduler timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := cfg.Validate()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestKnownQueues(t *testing.T) {
	cfg := &Config{Queue: QueueConfig{
		Known: []string{"notificationQueue", "paymentQueue"},
		Relay: map[string]QueueOptions{"paymentQueue": {}, "emailQueue": {}, "auditQueue": {}},
	}}

	assert.Equal(t, []string{"notificationQueue", "paymentQueue", "auditQueue", "emailQueue"}, cfg.KnownQueues())
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
