// Package relay hands queued jobs to external senders over RabbitMQ. The
// queue engine retries a job whose publish fails, so senders inherit its
// backoff without implementing their own.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/shared/rabbitmq"
)

// Message is the envelope published for each job
type Message struct {
	JobID     string          `json:"job_id"`
	QueueName string          `json:"queue_name"`
	Attempt   int             `json:"attempt"`
	Payload   json.RawMessage `json:"payload"`
	SentAt    time.Time       `json:"sent_at"`
}

// Registrar is the part of the queue engine relay queues are registered on
type Registrar interface {
	RegisterQueue(name string, handler queue.Handler, opts queue.Options) error
}

// RoutingKey returns the routing key jobs of a queue are published with
func RoutingKey(queueName string) string {
	return "jobs." + queueName
}

// Handler publishes each job to RabbitMQ
type Handler struct {
	publisher rabbitmq.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a relay handler
func NewHandler(publisher rabbitmq.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{publisher: publisher, logger: logger, now: time.Now}
}

var _ queue.Handler = (*Handler)(nil)

func (h *Handler) Handle(ctx context.Context, job *domain.Job) (any, error) {
	key := RoutingKey(job.QueueName)
	body, err := json.Marshal(Message{
		JobID:     job.ID,
		QueueName: job.QueueName,
		Attempt:   job.Attempts,
		Payload:   job.Payload,
		SentAt:    h.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode relay message: %w", err)
	}

	if err := h.publisher.Publish(ctx, key, body, "application/json"); err != nil {
		return nil, fmt.Errorf("relay job %s: %w", job.ID, err)
	}

	h.logger.Debug("Job relayed",
		slog.String("queue", job.QueueName),
		slog.String("job_id", job.ID),
		slog.String("routing_key", key),
	)
	return map[string]any{"routing_key": key, "bytes": len(body)}, nil
}

// Register binds a relay handler to every named queue
func Register(r Registrar, publisher rabbitmq.Publisher, logger *slog.Logger, queues map[string]queue.Options) error {
	h := NewHandler(publisher, logger)
	for name, opts := range queues {
		if err := r.RegisterQueue(name, h, opts); err != nil {
			return err
		}
	}
	return nil
}
