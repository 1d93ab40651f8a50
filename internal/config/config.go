package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	maxQueueAttempts = 100
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	Queue       QueueConfig       `yaml:"queue"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Intake      IntakeConfig      `yaml:"intake"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the record store
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres, mysql, sqlite3, memory
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"` // sqlite3 only
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	User       string            `yaml:"user"`
	Password   string            `yaml:"password"`
	VHost      string            `yaml:"vhost"`
	Exchange   ExchangeConfig    `yaml:"exchange"`
	Queue      BrokerQueueConfig `yaml:"queue"`
	RoutingKey string            `yaml:"routing_key"`
	Connection ConnectionConfig  `yaml:"connection"`
	Publish    PublishConfig     `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// BrokerQueueConfig is the RabbitMQ queue the intake consumer reads
type BrokerQueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	ReportRoutingKey  string        `yaml:"report_routing_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// QueueOptions tunes one queue; zero fields take the defaults
type QueueOptions struct {
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// QueueConfig configures the queue engine
type QueueConfig struct {
	Defaults         QueueOptions            `yaml:"defaults"`
	MaxAttempts      int                     `yaml:"max_attempts"`
	BaseBackoff      time.Duration           `yaml:"base_backoff"`
	CleanupBatchSize int                     `yaml:"cleanup_batch_size"`
	RetentionDays    int                     `yaml:"retention_days"`
	Known            []string                `yaml:"known"`
	Relay            map[string]QueueOptions `yaml:"relay"` // queues handed to RabbitMQ
}

// SchedulerConfig configures the cron scheduler
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Timezone     string `yaml:"timezone"`
	SeedDefaults bool   `yaml:"seed_defaults"`
}

// MaintenanceConfig toggles the fixed cleanup tasks
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// IntakeConfig configures the RabbitMQ enqueue consumer
type IntakeConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Prefetch    int    `yaml:"prefetch"`
	ConsumerTag string `yaml:"consumer_tag"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "jobcore"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.SSLMode == "" && c.Database.Driver == DriverPostgres {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "topic"
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}
	if c.RabbitMQ.Connection.Heartbeat == 0 {
		c.RabbitMQ.Connection.Heartbeat = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Queue.Defaults.Concurrency == 0 {
		c.Queue.Defaults.Concurrency = 5
	}
	if c.Queue.Defaults.PollInterval == 0 {
		c.Queue.Defaults.PollInterval = 5 * time.Second
	}
	if c.Queue.Defaults.VisibilityTimeout == 0 {
		c.Queue.Defaults.VisibilityTimeout = 10 * time.Minute
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BaseBackoff == 0 {
		c.Queue.BaseBackoff = 30 * time.Second
	}
	if c.Queue.CleanupBatchSize == 0 {
		c.Queue.CleanupBatchSize = 1000
	}
	if c.Queue.RetentionDays == 0 {
		c.Queue.RetentionDays = 30
	}

	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}

	if c.Intake.Prefetch == 0 {
		c.Intake.Prefetch = 10
	}
	if c.Intake.ConsumerTag == "" {
		c.Intake.ConsumerTag = c.App.Name + "-intake"
	}
}

// Location resolves the scheduler timezone
func (c *SchedulerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}
	if c.Intake.Enabled && !c.RabbitMQ.Enabled {
		return fmt.Errorf("intake requires rabbitmq to be enabled")
	}
	if len(c.Queue.Relay) > 0 && !c.RabbitMQ.Enabled {
		return fmt.Errorf("relay queues require rabbitmq to be enabled")
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
		return nil
	case DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.Intake.Enabled && c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required for intake")
	}

	return nil
}

func (c *Config) validateQueue() error {
	check := func(name string, o QueueOptions) error {
		if o.Concurrency < 0 {
			return fmt.Errorf("queue %s concurrency must not be negative", name)
		}
		if o.PollInterval < 0 {
			return fmt.Errorf("queue %s poll_interval must not be negative", name)
		}
		if o.VisibilityTimeout < 0 {
			return fmt.Errorf("queue %s visibility_timeout must not be negative", name)
		}
		return nil
	}

	if err := check("defaults", c.Queue.Defaults); err != nil {
		return err
	}
	for name, o := range c.Queue.Relay {
		if err := check(name, o); err != nil {
			return err
		}
	}

	if c.Queue.MaxAttempts <= 0 || c.Queue.MaxAttempts > maxQueueAttempts {
		return fmt.Errorf("queue max_attempts must be between 1 and %d", maxQueueAttempts)
	}
	if c.Queue.BaseBackoff <= 0 {
		return fmt.Errorf("queue base_backoff must be greater than 0")
	}
	if c.Queue.RetentionDays <= 0 {
		return fmt.Errorf("queue retention_days must be greater than 0")
	}

	return nil
}

// KnownQueues lists the queues reported on the status endpoint: the
// configured names plus every relay queue
func (c *Config) KnownQueues() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range c.Queue.Known {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	relay := make([]string, 0, len(c.Queue.Relay))
	for name := range c.Queue.Relay {
		relay = append(relay, name)
	}
	sort.Strings(relay)
	for _, name := range relay {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
