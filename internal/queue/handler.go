package queue

import (
	"context"
	"math"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
)

// Handler processes one job. The returned value is stored as the job result.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *domain.Job) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (any, error) {
	return f(ctx, job)
}

// Options tune a registered queue. Zero values take the engine defaults.
type Options struct {
	Concurrency       int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
}

// AddOptions tune a single enqueued job
type AddOptions struct {
	Priority    int
	MaxAttempts int
	Delay       time.Duration
}

// QueueInfo describes a registered queue
type QueueInfo struct {
	Name              string        `json:"name"`
	Concurrency       int           `json:"concurrency"`
	PollInterval      time.Duration `json:"poll_interval"`
	VisibilityTimeout time.Duration `json:"visibility_timeout"`
	Running           bool          `json:"running"`
	InFlight          int           `json:"in_flight"`
}

// Backoff returns the delay before retry number attempts: base * 2^(attempts-1).
// It saturates at the largest Duration instead of wrapping.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		return 0
	}
	shift := attempts - 1
	if shift >= 63 || base > time.Duration(math.MaxInt64)>>shift {
		return time.Duration(math.MaxInt64)
	}
	return base << shift
}
