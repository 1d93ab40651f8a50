// Package scheduler runs named recurring tasks on cron expressions and keeps
// their configuration and run history in the schedule store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/registry"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/robfig/cron/v3"
)

// Parser accepts standard five field expressions and @descriptors
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates an expression
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, domain.NewValidationError("cron expression is required")
	}
	sched, err := Parser.Parse(expr)
	if err != nil {
		return nil, domain.NewValidationError("invalid cron expression %q: %v", expr, err)
	}
	return sched, nil
}

// Config holds scheduler dependencies
type Config struct {
	Store    storage.ScheduleStore
	Logger   *slog.Logger
	Location *time.Location
	Clock    func() time.Time
}

// Engine owns the cron runner and every registered task
type Engine struct {
	store    storage.ScheduleStore
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time

	cron  *cron.Cron
	tasks *registry.Registry[Task]

	mu      sync.Mutex
	running bool
	entries map[string]*entry // by scheduled job id
	gens    map[string]uint64
	fixed   map[string]fixedEntry
	locks   map[string]*sync.Mutex
}

type entry struct {
	id         cron.EntryID
	schedule   cron.Schedule
	generation uint64
}

type fixedEntry struct {
	id       cron.EntryID
	expr     string
	schedule cron.Schedule
}

// New creates a scheduler. It does not fire anything until Start.
func New(cfg Config) *Engine {
	e := &Engine{
		store:    cfg.Store,
		logger:   cfg.Logger,
		location: cfg.Location,
		now:      cfg.Clock,
		tasks:    registry.New[Task]("task"),
		entries:  make(map[string]*entry),
		gens:     make(map[string]uint64),
		fixed:    make(map[string]fixedEntry),
		locks:    make(map[string]*sync.Mutex),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.cron = cron.New(
		cron.WithLocation(e.location),
		cron.WithParser(Parser),
		cron.WithLogger(cronLogger{logger: e.logger}),
	)
	return e
}

// Start begins firing scheduled entries
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.cron.Start()

	e.logger.Info("Scheduler started",
		slog.Int("entries", len(e.cron.Entries())),
		slog.String("timezone", e.location.String()),
	)
}

// Stop prevents new ticks and waits for running ones or ctx expiry
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	done := e.cron.Stop()
	select {
	case <-done.Done():
		e.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// RegisterTask binds an in-process task to a name
func (e *Engine) RegisterTask(name string, task Task) error {
	if task == nil {
		return domain.NewConfigurationError("register task", fmt.Errorf("task %q has no handler", name))
	}
	return e.tasks.Register(name, task)
}

// TaskNames lists every registered task
func (e *Engine) TaskNames() []string {
	return e.tasks.Names()
}

// AddFixed schedules a non-persisted entry such as a maintenance task
func (e *Engine) AddFixed(name, expr string, fn func(ctx context.Context)) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return domain.NewConfigurationError("add fixed task "+name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.fixed[name]; ok {
		return domain.NewConfigurationError("add fixed task", fmt.Errorf("fixed task %q is already scheduled", name))
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: e.logger})).Then(cron.FuncJob(func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error("Fixed task panicked",
					slog.String("task", name),
					slog.Any("panic", rec),
				)
			}
		}()
		fn(context.Background())
	}))

	e.fixed[name] = fixedEntry{id: e.cron.Schedule(sched, job), expr: expr, schedule: sched}

	e.logger.Info("Fixed task scheduled",
		slog.String("task", name),
		slog.String("cron", expr),
	)
	return nil
}

// Bootstrap registers each definition's task and schedules it from its
// persisted config, creating the config with the default cadence when absent.
func (e *Engine) Bootstrap(ctx context.Context, defs []Definition) error {
	return e.load(ctx, defs, true)
}

// Restore registers each definition's task and schedules only the configs
// already persisted. Missing ones are left for the admin API to create.
func (e *Engine) Restore(ctx context.Context, defs []Definition) error {
	return e.load(ctx, defs, false)
}

func (e *Engine) load(ctx context.Context, defs []Definition, seed bool) error {
	for _, def := range defs {
		if err := e.RegisterTask(def.Name, def.Task); err != nil {
			return err
		}

		cfg, err := e.store.GetScheduleByName(ctx, def.Name)
		switch {
		case err == nil:
			if err := e.schedulePersisted(ctx, cfg); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrScheduleNotFound):
			if !seed {
				continue
			}
			if _, err := e.create(ctx, CreateRequest{
				Name:           def.Name,
				CronExpression: def.CronExpression,
				Description:    def.Description,
			}); err != nil {
				return err
			}
		default:
			return domain.NewStoreError("get scheduled job", err)
		}
	}

	e.logger.Info("Scheduled jobs loaded", slog.Int("count", len(defs)))
	return nil
}

// RegisterJob binds task to cfg.Name, persists cfg and schedules it. An
// existing config with the same name keeps its id and run history.
func (e *Engine) RegisterJob(ctx context.Context, cfg *domain.ScheduledJobConfig, task Task) (*domain.ScheduledJobConfig, error) {
	if _, err := ParseCron(cfg.CronExpression); err != nil {
		return nil, domain.NewConfigurationError("register job "+cfg.Name, err)
	}
	if err := e.RegisterTask(cfg.Name, task); err != nil {
		return nil, err
	}

	existing, err := e.store.GetScheduleByName(ctx, cfg.Name)
	if err != nil && !errors.Is(err, domain.ErrScheduleNotFound) {
		return nil, domain.NewStoreError("get scheduled job", err)
	}
	if existing == nil {
		return e.create(ctx, CreateRequest{
			Name:           cfg.Name,
			CronExpression: cfg.CronExpression,
			Description:    cfg.Description,
			Paused:         cfg.Status == domain.ScheduleStatusPaused,
		})
	}

	existing.CronExpression = cfg.CronExpression
	if cfg.Description != "" {
		existing.Description = cfg.Description
	}
	if cfg.Status != "" {
		existing.Status = cfg.Status
	}
	existing.UpdatedAt = e.now()
	e.setNextRun(existing)

	if err := e.store.UpdateSchedule(ctx, existing); err != nil {
		return nil, domain.NewStoreError("update scheduled job", err)
	}
	if err := e.schedulePersisted(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// schedulePersisted creates the cron entry for a stored config unless paused
func (e *Engine) schedulePersisted(ctx context.Context, cfg *domain.ScheduledJobConfig) error {
	if _, ok := e.tasks.Lookup(cfg.Name); !ok {
		return fmt.Errorf("scheduled job %q: %w", cfg.Name, domain.ErrTaskNotFound)
	}
	if cfg.Status == domain.ScheduleStatusPaused {
		return nil
	}

	sched, err := ParseCron(cfg.CronExpression)
	if err != nil {
		return domain.NewConfigurationError("schedule "+cfg.Name, err)
	}

	e.mu.Lock()
	e.replaceEntryLocked(cfg.ID, sched)
	e.mu.Unlock()

	next := sched.Next(e.now().In(e.location))
	if cfg.NextRunAt == nil || !cfg.NextRunAt.Equal(next) {
		cfg.NextRunAt = &next
		if err := e.store.UpdateSchedule(ctx, cfg); err != nil {
			return domain.NewStoreError("update scheduled job", err)
		}
	}
	return nil
}

// replaceEntryLocked installs a new entry for id and removes any previous one
func (e *Engine) replaceEntryLocked(id string, sched cron.Schedule) {
	gen := e.nextGenerationLocked(id)
	if old, ok := e.entries[id]; ok {
		e.cron.Remove(old.id)
	}
	entryID := e.cron.Schedule(sched, e.cronJob(id, gen))
	e.entries[id] = &entry{id: entryID, schedule: sched, generation: gen}
}

// nextGenerationLocked never repeats for an id, even across pause and resume
func (e *Engine) nextGenerationLocked(id string) uint64 {
	e.gens[id]++
	return e.gens[id]
}

func (e *Engine) removeEntry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.entries[id]; ok {
		e.cron.Remove(old.id)
		delete(e.entries, id)
	}
}

// forget drops the per-job bookkeeping of a deleted job
func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.gens, id)
	delete(e.locks, id)
}

func (e *Engine) cronJob(id string, gen uint64) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: e.logger})).Then(cron.FuncJob(func() {
		e.fire(id, gen)
	}))
}

// fire runs a tick if gen is still the live generation of id
func (e *Engine) fire(id string, gen uint64) {
	e.mu.Lock()
	current, ok := e.entries[id]
	e.mu.Unlock()
	if !ok || current.generation != gen {
		return
	}

	if _, err := e.execute(context.Background(), id); err != nil {
		e.logger.Error("Scheduled job tick failed",
			slog.String("scheduled_job_id", id),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// execute runs one tick of a scheduled job and records it. Task failures are
// recorded on the config and also returned.
func (e *Engine) execute(ctx context.Context, id string) (Outcome, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := e.store.GetSchedule(ctx, id)
	if err != nil {
		return Outcome{}, domain.NewStoreError("get scheduled job", err)
	}

	task, ok := e.tasks.Lookup(cfg.Name)
	if !ok {
		return Outcome{}, fmt.Errorf("scheduled job %q: %w", cfg.Name, domain.ErrTaskNotFound)
	}

	started := e.now()
	cfg.LastRunAt = &started
	cfg.RunCount++
	cfg.UpdatedAt = started
	if err := e.store.UpdateSchedule(ctx, cfg); err != nil {
		return Outcome{}, domain.NewStoreError("record scheduled job start", err)
	}

	outcome, runErr := e.runTask(ctx, cfg.Name, task)
	if runErr == nil && !outcome.Success {
		msg := outcome.Message
		if msg == "" {
			msg = "task reported failure"
		}
		runErr = errors.New(msg)
	}

	// pick up pause or update calls that happened while the task ran
	latest, err := e.store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			return outcome, runErr
		}
		return outcome, domain.NewStoreError("get scheduled job", err)
	}

	finished := e.now()
	latest.UpdatedAt = finished
	if runErr == nil {
		if latest.Status != domain.ScheduleStatusPaused {
			latest.Status = domain.ScheduleStatusActive
		}
		latest.LastErrorMessage = nil
	} else {
		if latest.Status != domain.ScheduleStatusPaused {
			latest.Status = domain.ScheduleStatusError
		}
		msg := runErr.Error()
		latest.LastErrorMessage = &msg
	}
	e.setNextRun(latest)

	if err := e.store.UpdateSchedule(ctx, latest); err != nil {
		return outcome, domain.NewStoreError("record scheduled job outcome", err)
	}

	if runErr != nil {
		e.logger.Error("Scheduled job failed",
			slog.String("job", cfg.Name),
			slog.Int("run_count", latest.RunCount),
			slog.Any("error", runErr),
		)
	} else {
		e.logger.Info("Scheduled job completed",
			slog.String("job", cfg.Name),
			slog.Int("run_count", latest.RunCount),
			slog.String("message", outcome.Message),
			slog.Duration("duration", finished.Sub(started)),
		)
	}
	return outcome, runErr
}

func (e *Engine) runTask(ctx context.Context, name string, task Task) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Scheduled job panicked",
				slog.String("job", name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("task panic: %v", rec)
		}
	}()
	return task.Run(ctx)
}

// setNextRun recomputes NextRunAt; paused configs have none
func (e *Engine) setNextRun(cfg *domain.ScheduledJobConfig) {
	if cfg.Status == domain.ScheduleStatusPaused {
		cfg.NextRunAt = nil
		return
	}
	sched, err := ParseCron(cfg.CronExpression)
	if err != nil {
		cfg.NextRunAt = nil
		return
	}
	next := sched.Next(e.now().In(e.location))
	cfg.NextRunAt = &next
}

// Status reports the scheduler state, persisted jobs and fixed entries
func (e *Engine) Status(ctx context.Context) (Status, error) {
	cfgs, err := e.store.ListSchedules(ctx)
	if err != nil {
		return Status{}, domain.NewStoreError("list scheduled jobs", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{Running: e.running}
	for _, cfg := range cfgs {
		_, scheduled := e.entries[cfg.ID]
		st.Tasks = append(st.Tasks, TaskStatus{
			ID:             cfg.ID,
			Name:           cfg.Name,
			CronExpression: cfg.CronExpression,
			Status:         string(cfg.Status),
			Scheduled:      scheduled,
			RunCount:       cfg.RunCount,
			LastRunAt:      cfg.LastRunAt,
			NextRunAt:      cfg.NextRunAt,
			LastError:      cfg.LastErrorMessage,
		})
	}

	now := e.now().In(e.location)
	for name, f := range e.fixed {
		st.Fixed = append(st.Fixed, FixedStatus{
			Name:           name,
			CronExpression: f.expr,
			NextRunAt:      f.schedule.Next(now),
		})
	}
	sort.Slice(st.Fixed, func(i, j int) bool { return st.Fixed[i].Name < st.Fixed[j].Name })
	return st, nil
}
