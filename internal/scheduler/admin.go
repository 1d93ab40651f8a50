package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/google/uuid"
)

// GetJob resolves a scheduled job by id or name
func (e *Engine) GetJob(ctx context.Context, ref string) (*domain.ScheduledJobConfig, error) {
	cfg, err := e.store.GetSchedule(ctx, ref)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrScheduleNotFound) {
		return nil, domain.NewStoreError("get scheduled job", err)
	}

	cfg, err = e.store.GetScheduleByName(ctx, ref)
	if err != nil {
		return nil, domain.NewStoreError("get scheduled job", err)
	}
	return cfg, nil
}

// ListJobs returns every persisted scheduled job
func (e *Engine) ListJobs(ctx context.Context) ([]*domain.ScheduledJobConfig, error) {
	cfgs, err := e.store.ListSchedules(ctx)
	if err != nil {
		return nil, domain.NewStoreError("list scheduled jobs", err)
	}
	return cfgs, nil
}

// CreateJob persists and schedules a job for a registered task
func (e *Engine) CreateJob(ctx context.Context, req CreateRequest) (*domain.ScheduledJobConfig, error) {
	if _, err := ParseCron(req.CronExpression); err != nil {
		return nil, domain.NewConfigurationError("create job "+req.Name, err)
	}
	if _, ok := e.tasks.Lookup(req.Name); !ok {
		return nil, fmt.Errorf("scheduled job %q: %w", req.Name, domain.ErrTaskNotFound)
	}

	_, err := e.store.GetScheduleByName(ctx, req.Name)
	switch {
	case err == nil:
		return nil, domain.NewConfigurationError("create job",
			fmt.Errorf("scheduled job %q: %w", req.Name, domain.ErrDuplicate))
	case !errors.Is(err, domain.ErrScheduleNotFound):
		return nil, domain.NewStoreError("get scheduled job", err)
	}

	return e.create(ctx, req)
}

func (e *Engine) create(ctx context.Context, req CreateRequest) (*domain.ScheduledJobConfig, error) {
	sched, err := ParseCron(req.CronExpression)
	if err != nil {
		return nil, domain.NewConfigurationError("create job "+req.Name, err)
	}

	now := e.now()
	cfg := &domain.ScheduledJobConfig{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		Status:         domain.ScheduleStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Paused {
		cfg.Status = domain.ScheduleStatusPaused
	} else {
		next := sched.Next(now.In(e.location))
		cfg.NextRunAt = &next
	}

	if err := e.store.InsertSchedule(ctx, cfg); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.NewConfigurationError("create job", err)
		}
		return nil, domain.NewStoreError("insert scheduled job", err)
	}

	if !req.Paused {
		e.mu.Lock()
		e.replaceEntryLocked(cfg.ID, sched)
		e.mu.Unlock()
	}

	e.logger.Info("Scheduled job created",
		slog.String("job", cfg.Name),
		slog.String("cron", cfg.CronExpression),
		slog.String("status", string(cfg.Status)),
	)
	return cfg, nil
}

// UpdateJob changes the description or cadence of a scheduled job. A new
// cadence is scheduled before the old entry is removed so the job never
// goes unscheduled; if persisting fails the old entry stays in place.
func (e *Engine) UpdateJob(ctx context.Context, ref string, req UpdateRequest) (*domain.ScheduledJobConfig, error) {
	cfg, err := e.GetJob(ctx, ref)
	if err != nil {
		return nil, err
	}

	if req.Description != nil {
		cfg.Description = *req.Description
	}

	cronChanged := req.CronExpression != nil && *req.CronExpression != cfg.CronExpression
	if !cronChanged {
		cfg.UpdatedAt = e.now()
		if err := e.store.UpdateSchedule(ctx, cfg); err != nil {
			return nil, domain.NewStoreError("update scheduled job", err)
		}
		return cfg, nil
	}

	sched, err := ParseCron(*req.CronExpression)
	if err != nil {
		return nil, domain.NewConfigurationError("update job "+cfg.Name, err)
	}
	cfg.CronExpression = *req.CronExpression
	cfg.UpdatedAt = e.now()
	e.setNextRun(cfg)

	if cfg.Status == domain.ScheduleStatusPaused {
		if err := e.store.UpdateSchedule(ctx, cfg); err != nil {
			return nil, domain.NewStoreError("update scheduled job", err)
		}
		return cfg, nil
	}

	e.mu.Lock()
	old, hadOld := e.entries[cfg.ID]
	gen := e.nextGenerationLocked(cfg.ID)
	// the new entry stays inert until its generation is installed below
	newID := e.cron.Schedule(sched, e.cronJob(cfg.ID, gen))
	e.mu.Unlock()

	if err := e.store.UpdateSchedule(ctx, cfg); err != nil {
		e.cron.Remove(newID)
		return nil, domain.NewStoreError("update scheduled job", err)
	}

	e.mu.Lock()
	e.entries[cfg.ID] = &entry{id: newID, schedule: sched, generation: gen}
	if hadOld {
		e.cron.Remove(old.id)
	}
	e.mu.Unlock()

	e.logger.Info("Scheduled job rescheduled",
		slog.String("job", cfg.Name),
		slog.String("cron", cfg.CronExpression),
	)
	return cfg, nil
}

// DeleteJob unschedules and removes a scheduled job
func (e *Engine) DeleteJob(ctx context.Context, ref string) error {
	cfg, err := e.GetJob(ctx, ref)
	if err != nil {
		return err
	}

	e.removeEntry(cfg.ID)
	if err := e.store.DeleteSchedule(ctx, cfg.ID); err != nil {
		return domain.NewStoreError("delete scheduled job", err)
	}
	e.forget(cfg.ID)

	e.logger.Info("Scheduled job deleted", slog.String("job", cfg.Name))
	return nil
}

// PauseJob removes the cron entry and marks the job paused
func (e *Engine) PauseJob(ctx context.Context, ref string) (*domain.ScheduledJobConfig, error) {
	cfg, err := e.GetJob(ctx, ref)
	if err != nil {
		return nil, err
	}

	e.removeEntry(cfg.ID)

	cfg.Status = domain.ScheduleStatusPaused
	cfg.NextRunAt = nil
	cfg.UpdatedAt = e.now()
	if err := e.store.UpdateSchedule(ctx, cfg); err != nil {
		return nil, domain.NewStoreError("update scheduled job", err)
	}

	e.logger.Info("Scheduled job paused", slog.String("job", cfg.Name))
	return cfg, nil
}

// ResumeJob reschedules a paused job as active
func (e *Engine) ResumeJob(ctx context.Context, ref string) (*domain.ScheduledJobConfig, error) {
	cfg, err := e.GetJob(ctx, ref)
	if err != nil {
		return nil, err
	}

	if cfg.Status == domain.ScheduleStatusPaused {
		cfg.Status = domain.ScheduleStatusActive
	}
	cfg.UpdatedAt = e.now()
	e.setNextRun(cfg)

	if err := e.store.UpdateSchedule(ctx, cfg); err != nil {
		return nil, domain.NewStoreError("update scheduled job", err)
	}
	if err := e.schedulePersisted(ctx, cfg); err != nil {
		return nil, err
	}

	e.logger.Info("Scheduled job resumed", slog.String("job", cfg.Name))
	return cfg, nil
}

// TriggerJob runs a scheduled job now, outside its cadence, and records the run
func (e *Engine) TriggerJob(ctx context.Context, ref string) (Outcome, error) {
	cfg, err := e.GetJob(ctx, ref)
	if err != nil {
		return Outcome{}, err
	}

	e.logger.Info("Scheduled job triggered manually", slog.String("job", cfg.Name))
	return e.execute(ctx, cfg.ID)
}
