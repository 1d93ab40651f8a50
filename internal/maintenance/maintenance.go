// Package maintenance holds the fixed cleanup tasks that keep file records
// and finished jobs from growing without bound. Each run deletes at most one
// batch so a large backlog is worked off over several runs.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage"
)

const (
	KindExpired      = "expired"
	KindTemp         = "temp"
	KindQuarantine   = "quarantine"
	KindOptimize     = "optimize"
	KindJobRetention = "job-retention"
	KindAll          = "all"
)

const (
	tempMaxAge       = 24 * time.Hour
	quarantineMaxAge = 30 * 24 * time.Hour

	DefaultRetentionDays = 30
)

// JobCleaner deletes finished jobs; the queue engine implements it
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context, queue string, olderThanDays int) (int, error)
}

// FixedScheduler runs a function on a cron cadence without persisting it
type FixedScheduler interface {
	AddFixed(name, expr string, fn func(ctx context.Context)) error
}

// Config holds maintenance dependencies
type Config struct {
	Files  storage.FileStore
	Jobs   JobCleaner
	Logger *slog.Logger
	Clock  func() time.Time

	// RetentionDays is the age after which finished jobs are removed
	RetentionDays int
}

type task struct {
	kind  string
	cron  string
	batch int
	run   func(ctx context.Context, now time.Time, batch int) (int, error)
}

// TaskResult is the outcome of one task within a run
type TaskResult struct {
	Task       string `json:"task"`
	Success    bool   `json:"success"`
	Deleted    int    `json:"deleted"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Result aggregates a manual run. Success is false when any task failed.
type Result struct {
	Success bool         `json:"success"`
	Results []TaskResult `json:"results"`
	Errors  []string     `json:"errors,omitempty"`
}

// Set is the fixed collection of maintenance tasks
type Set struct {
	files         storage.FileStore
	jobs          JobCleaner
	logger        *slog.Logger
	now           func() time.Time
	retentionDays int

	tasks []task
	byKey map[string]task
}

// New builds the task set
func New(cfg Config) *Set {
	s := &Set{
		files:         cfg.Files,
		jobs:          cfg.Jobs,
		logger:        cfg.Logger,
		now:           cfg.Clock,
		retentionDays: cfg.RetentionDays,
		byKey:         make(map[string]task),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.retentionDays <= 0 {
		s.retentionDays = DefaultRetentionDays
	}

	s.tasks = []task{
		{kind: KindExpired, cron: "0 * * * *", batch: 100, run: s.cleanupExpired},
		{kind: KindTemp, cron: "0 */6 * * *", batch: 500, run: s.cleanupTemp},
		{kind: KindQuarantine, cron: "0 3 * * *", batch: 50, run: s.cleanupQuarantine},
		{kind: KindOptimize, cron: "0 4 * * 0", batch: 100, run: s.optimize},
	}
	if s.jobs != nil {
		s.tasks = append(s.tasks, task{kind: KindJobRetention, cron: "15 2 * * *", batch: 0, run: s.cleanupJobs})
	}
	for _, t := range s.tasks {
		s.byKey[t.kind] = t
	}
	return s
}

// Kinds lists the tasks accepted by Run, excluding "all"
func (s *Set) Kinds() []string {
	out := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.kind)
	}
	return out
}

// Register schedules every task on sched under "maintenance:<kind>"
func (s *Set) Register(sched FixedScheduler) error {
	for _, t := range s.tasks {
		t := t
		err := sched.AddFixed("maintenance:"+t.kind, t.cron, func(ctx context.Context) {
			if _, err := s.runOne(ctx, t); err != nil {
				s.logger.Error("Maintenance task failed",
					slog.String("task", t.kind),
					slog.Any("error", err),
				)
			}
		})
		if err != nil {
			return fmt.Errorf("register maintenance task %s: %w", t.kind, err)
		}
	}
	return nil
}

// Run executes one task, or the file tasks for "all". Task failures are
// collected in the result; only an unknown kind returns an error.
func (s *Set) Run(ctx context.Context, kind string) (Result, error) {
	var selected []task
	switch kind {
	case KindAll:
		for _, t := range s.tasks {
			if t.kind != KindJobRetention {
				selected = append(selected, t)
			}
		}
	default:
		t, ok := s.byKey[kind]
		if !ok {
			return Result{}, domain.NewValidationError("unknown maintenance task %q", kind)
		}
		selected = []task{t}
	}

	res := Result{Success: true}
	for _, t := range selected {
		started := time.Now()
		n, err := s.runOne(ctx, t)
		tr := TaskResult{
			Task:       t.kind,
			Success:    err == nil,
			Deleted:    n,
			DurationMs: time.Since(started).Milliseconds(),
		}
		if err != nil {
			tr.Error = err.Error()
			res.Success = false
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.kind, err))
		}
		res.Results = append(res.Results, tr)
	}

	s.logger.Info("Maintenance run finished",
		slog.String("task", kind),
		slog.Bool("success", res.Success),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (s *Set) runOne(ctx context.Context, t task) (int, error) {
	n, err := t.run(ctx, s.now(), t.batch)
	if err != nil {
		return n, err
	}
	s.logger.Info("Maintenance task completed",
		slog.String("task", t.kind),
		slog.Int("deleted", n),
	)
	return n, nil
}

func (s *Set) cleanupExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	n, err := s.files.DeleteFiles(ctx, storage.FileFilter{ExpiresBefore: now}, batch)
	return n, domain.NewStoreError("delete expired files", err)
}

func (s *Set) cleanupTemp(ctx context.Context, now time.Time, batch int) (int, error) {
	n, err := s.files.DeleteFiles(ctx, storage.FileFilter{
		Status:        domain.FileStatusTemp,
		CreatedBefore: now.Add(-tempMaxAge),
	}, batch)
	return n, domain.NewStoreError("delete temp files", err)
}

func (s *Set) cleanupQuarantine(ctx context.Context, now time.Time, batch int) (int, error) {
	n, err := s.files.DeleteFiles(ctx, storage.FileFilter{
		Status:        domain.FileStatusQuarantined,
		CreatedBefore: now.Add(-quarantineMaxAge),
	}, batch)
	return n, domain.NewStoreError("delete quarantined files", err)
}

func (s *Set) optimize(ctx context.Context, _ time.Time, batch int) (int, error) {
	n, err := s.files.DeleteDuplicateFiles(ctx, batch)
	return n, domain.NewStoreError("delete duplicate files", err)
}

// cleanupJobs relies on the engine's own cleanup batch size
func (s *Set) cleanupJobs(ctx context.Context, _ time.Time, _ int) (int, error) {
	return s.jobs.CleanupOldJobs(ctx, "", s.retentionDays)
}
