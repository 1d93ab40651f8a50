// Package intake consumes enqueue requests published by the application
// backend and turns them into queue jobs.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery
// channel before the context is done
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Message is the body of an enqueue request
type Message struct {
	QueueName    string          `json:"queue_name"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	MaxAttempts  int             `json:"max_attempts"`
	DelaySeconds int             `json:"delay_seconds"`
}

// Validate checks the fields the queue engine cannot default
func (m Message) Validate() error {
	v := &domain.ValidationError{}
	if m.QueueName == "" {
		v.Add("queue_name is required")
	}
	if m.MaxAttempts < 0 || m.MaxAttempts > queue.MaxAttemptsLimit {
		v.Add("max_attempts must be between 0 and %d", queue.MaxAttemptsLimit)
	}
	if m.DelaySeconds < 0 {
		v.Add("delay_seconds must not be negative")
	}
	return v.Err()
}

// Source delivers messages from the broker; *rabbitmq.Client implements it
type Source interface {
	SetPrefetch(count int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Enqueuer persists a job; *queue.Engine implements it
type Enqueuer interface {
	AddJob(ctx context.Context, queue string, payload any, opts queue.AddOptions) (*domain.Job, error)
}

// Config holds consumer settings
type Config struct {
	Source      Source
	Queue       Enqueuer
	Logger      *slog.Logger
	ConsumerTag string
	Prefetch    int
}

// Consumer reads enqueue requests until its context is canceled
type Consumer struct {
	source   Source
	queue    Enqueuer
	logger   *slog.Logger
	tag      string
	prefetch int
}

// NewConsumer creates a consumer
func NewConsumer(cfg Config) *Consumer {
	c := &Consumer{
		source:   cfg.Source,
		queue:    cfg.Queue,
		logger:   cfg.Logger,
		tag:      cfg.ConsumerTag,
		prefetch: cfg.Prefetch,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tag == "" {
		c.tag = "jobcore-intake"
	}
	if c.prefetch <= 0 {
		c.prefetch = 10
	}
	return c
}

// Run consumes until ctx is canceled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.source.SetPrefetch(c.prefetch); err != nil {
		return err
	}
	deliveries, err := c.source.Consume(c.tag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Intake consumer started",
		slog.String("consumer_tag", c.tag),
		slog.Int("prefetch", c.prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Intake consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}
			c.Handle(ctx, delivery)
		}
	}
}

// Handle enqueues one delivery and acknowledges it. Malformed or invalid
// requests are dropped; store failures are requeued.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Error("Failed to parse enqueue request",
			slog.Any("error", err),
			slog.String("body", string(d.Body)),
		)
		c.nack(d, false)
		return
	}
	if err := msg.Validate(); err != nil {
		c.logger.Error("Invalid enqueue request",
			slog.String("queue", msg.QueueName),
			slog.Any("error", err),
		)
		c.nack(d, false)
		return
	}

	var payload any
	if len(msg.Payload) > 0 {
		payload = msg.Payload
	}
	job, err := c.queue.AddJob(ctx, msg.QueueName, payload, queue.AddOptions{
		Priority:    msg.Priority,
		MaxAttempts: msg.MaxAttempts,
		Delay:       time.Duration(msg.DelaySeconds) * time.Second,
	})
	if err != nil {
		requeue := !domain.IsValidation(err)
		c.logger.Error("Failed to enqueue job from intake",
			slog.String("queue", msg.QueueName),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
		c.nack(d, requeue)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	c.logger.Debug("Job enqueued from intake",
		slog.String("queue", msg.QueueName),
		slog.String("job_id", job.ID),
		slog.Uint64("delivery_tag", d.DeliveryTag),
	)
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Any("error", err),
		)
	}
}
