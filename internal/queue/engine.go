// Package queue runs durable, polled work queues with per-queue concurrency
// limits and exponential backoff retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/registry"
	"github.com/cuongbtq/jobcore/internal/storage"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency      = 5
	DefaultPollInterval     = 5 * time.Second
	DefaultMaxAttempts      = 3
	DefaultBaseBackoff      = 30 * time.Second
	DefaultCleanupBatchSize = 1000
	staleBatchSize          = 100

	// MaxAttemptsLimit bounds the attempts a single job may request
	MaxAttemptsLimit = 100
	// MaxCleanupDays bounds the age accepted by CleanupOldJobs
	MaxCleanupDays = 36500
)

// Config holds engine dependencies and defaults
type Config struct {
	Store              storage.JobStore
	Logger             *slog.Logger
	Clock              func() time.Time
	Defaults           Options
	DefaultMaxAttempts int
	BaseBackoff        time.Duration
	CleanupBatchSize   int
}

// Engine owns every registered queue and its poll loop
type Engine struct {
	store              storage.JobStore
	logger             *slog.Logger
	now                func() time.Time
	defaults           Options
	defaultMaxAttempts int
	baseBackoff        time.Duration
	cleanupBatchSize   int

	queues *registry.Registry[*runner]

	// handlers run on this context; stopping a queue never cancels them
	handlerCtx context.Context
	wg         sync.WaitGroup
}

type runner struct {
	name    string
	handler Handler
	opts    Options

	sem      *semaphore.Weighted
	inFlight atomic.Int64
	polling  atomic.Bool

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	loopDone chan struct{}
	active   map[string]struct{}
}

// New creates an engine
func New(cfg Config) *Engine {
	e := &Engine{
		store:              cfg.Store,
		logger:             cfg.Logger,
		now:                cfg.Clock,
		defaults:           cfg.Defaults,
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		baseBackoff:        cfg.BaseBackoff,
		cleanupBatchSize:   cfg.CleanupBatchSize,
		queues:             registry.New[*runner]("queue"),
		handlerCtx:         context.Background(),
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.defaults.Concurrency <= 0 {
		e.defaults.Concurrency = DefaultConcurrency
	}
	if e.defaults.PollInterval <= 0 {
		e.defaults.PollInterval = DefaultPollInterval
	}
	if e.defaultMaxAttempts <= 0 {
		e.defaultMaxAttempts = DefaultMaxAttempts
	}
	if e.baseBackoff <= 0 {
		e.baseBackoff = DefaultBaseBackoff
	}
	if e.cleanupBatchSize <= 0 {
		e.cleanupBatchSize = DefaultCleanupBatchSize
	}

	return e
}

// RegisterQueue binds a handler to a queue name. A name can be registered once.
func (e *Engine) RegisterQueue(name string, handler Handler, opts Options) error {
	if handler == nil {
		return domain.NewConfigurationError("register queue", fmt.Errorf("queue %q has no handler", name))
	}
	if opts.Concurrency < 0 || opts.PollInterval < 0 || opts.VisibilityTimeout < 0 {
		return domain.NewConfigurationError("register queue",
			domain.NewValidationError("queue %q options must not be negative", name))
	}

	if opts.Concurrency == 0 {
		opts.Concurrency = e.defaults.Concurrency
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = e.defaults.PollInterval
	}
	if opts.VisibilityTimeout == 0 {
		opts.VisibilityTimeout = e.defaults.VisibilityTimeout
	}

	r := &runner{
		name:    name,
		handler: handler,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		active:  make(map[string]struct{}),
	}
	if err := e.queues.Register(name, r); err != nil {
		return err
	}

	e.logger.Info("Queue registered",
		slog.String("queue", name),
		slog.Int("concurrency", opts.Concurrency),
		slog.Duration("poll_interval", opts.PollInterval),
	)
	return nil
}

func (e *Engine) lookup(name string) (*runner, error) {
	r, ok := e.queues.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("queue %q: %w", name, domain.ErrQueueNotFound)
	}
	return r, nil
}

// StartProcessing starts the poll loop of a queue. Starting twice is a no-op.
func (e *Engine) StartProcessing(name string) error {
	r, err := e.lookup(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.running = true
	r.stop = make(chan struct{})
	r.loopDone = make(chan struct{})

	go e.loop(r, r.stop, r.loopDone)

	e.logger.Info("Queue processing started", slog.String("queue", name))
	return nil
}

// StopProcessing stops future polls of a queue. In-flight jobs run to completion.
func (e *Engine) StopProcessing(name string) error {
	r, err := e.lookup(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	done := r.loopDone
	r.mu.Unlock()

	<-done

	e.logger.Info("Queue processing stopped",
		slog.String("queue", name),
		slog.Int64("in_flight", r.inFlight.Load()),
	)
	return nil
}

func (e *Engine) loop(r *runner, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := e.poll(e.handlerCtx, r); err != nil {
			e.logger.Error("Queue poll failed",
				slog.String("queue", r.name),
				slog.Any("error", err),
			)
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single poll of a queue and returns how many jobs it dispatched
func (e *Engine) PollOnce(ctx context.Context, name string) (int, error) {
	r, err := e.lookup(name)
	if err != nil {
		return 0, err
	}
	return e.poll(ctx, r)
}

// Wait blocks until every dispatched job has finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops every queue and waits for in-flight jobs or ctx expiry
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, name := range e.queues.Names() {
		if err := e.StopProcessing(name); err != nil && !errors.Is(err, domain.ErrQueueNotFound) {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Queue engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue engine shutdown: %w", ctx.Err())
	}
}

// Queues reports every registered queue
func (e *Engine) Queues() []QueueInfo {
	out := make([]QueueInfo, 0, e.queues.Len())
	for _, name := range e.queues.Names() {
		r, ok := e.queues.Lookup(name)
		if !ok {
			continue
		}
		r.mu.Lock()
		running := r.running
		r.mu.Unlock()

		out = append(out, QueueInfo{
			Name:              name,
			Concurrency:       r.opts.Concurrency,
			PollInterval:      r.opts.PollInterval,
			VisibilityTimeout: r.opts.VisibilityTimeout,
			Running:           running,
			InFlight:          int(r.inFlight.Load()),
		})
	}
	return out
}

// IsRegistered reports whether a handler is bound to name
func (e *Engine) IsRegistered(name string) bool {
	_, ok := e.queues.Lookup(name)
	return ok
}
