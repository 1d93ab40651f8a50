package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/google/uuid"
)

// AddJob persists a pending job. The queue does not have to be registered yet.
func (e *Engine) AddJob(ctx context.Context, queue string, payload any, opts AddOptions) (*domain.Job, error) {
	v := &domain.ValidationError{}
	if queue == "" {
		v.Add("queue name is required")
	}
	if opts.MaxAttempts < 0 || opts.MaxAttempts > MaxAttemptsLimit {
		v.Add("max attempts must be between 0 and %d, got %d", MaxAttemptsLimit, opts.MaxAttempts)
	}
	if opts.Delay < 0 {
		v.Add("delay must not be negative")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		v.Add("%v", err)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = e.defaultMaxAttempts
	}

	now := e.now()
	job := &domain.Job{
		ID:          uuid.NewString(),
		QueueName:   queue,
		Payload:     raw,
		Status:      domain.JobStatusPending,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		// whole seconds so jobs enqueued together compete on priority
		NextEligibleAt: now.Add(opts.Delay).Truncate(time.Second),
	}

	if err := e.store.InsertJob(ctx, job); err != nil {
		return nil, domain.NewStoreError("insert job", err)
	}

	e.logger.Debug("Job enqueued",
		slog.String("queue", queue),
		slog.String("job_id", job.ID),
		slog.Int("priority", job.Priority),
		slog.Duration("delay", opts.Delay),
	)
	return job, nil
}

// GetJob returns a job of the given queue
func (e *Engine) GetJob(ctx context.Context, queue, id string) (*domain.Job, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, domain.NewStoreError("get job", err)
	}
	if job.QueueName != queue {
		return nil, fmt.Errorf("job %s in queue %q: %w", id, queue, domain.ErrJobNotFound)
	}
	return job, nil
}

// GetJobsByStatus lists jobs of a queue; no statuses means every status
func (e *Engine) GetJobsByStatus(ctx context.Context, queue string, statuses []domain.JobStatus, limit, offset int) ([]*domain.Job, error) {
	jobs, err := e.store.ListJobs(ctx, storage.JobFilter{
		Queue:    queue,
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, domain.NewStoreError("list jobs", err)
	}
	return jobs, nil
}

// RetryJob puts a failed job back to pending with a fresh attempt budget.
// It returns false without touching the job for any other status.
func (e *Engine) RetryJob(ctx context.Context, queue, id string) (bool, error) {
	job, err := e.GetJob(ctx, queue, id)
	if err != nil {
		return false, err
	}
	if job.Status != domain.JobStatusFailed {
		return false, nil
	}

	now := e.now()
	job.Status = domain.JobStatusPending
	job.Attempts = 0
	job.Error = nil
	job.FailedAt = nil
	job.UpdatedAt = now
	if job.NextEligibleAt.Before(now) {
		job.NextEligibleAt = now
	}

	if err := e.store.UpdateJob(ctx, job); err != nil {
		return false, domain.NewStoreError("update job", err)
	}

	e.logger.Info("Job requeued",
		slog.String("queue", queue),
		slog.String("job_id", id),
	)
	return true, nil
}

// DeleteJob removes a job of the given queue
func (e *Engine) DeleteJob(ctx context.Context, queue, id string) error {
	if _, err := e.GetJob(ctx, queue, id); err != nil {
		return err
	}
	if err := e.store.DeleteJob(ctx, id); err != nil {
		return domain.NewStoreError("delete job", err)
	}

	e.logger.Info("Job deleted",
		slog.String("queue", queue),
		slog.String("job_id", id),
	)
	return nil
}

// CleanupOldJobs deletes one bounded batch of completed or failed jobs last
// touched more than olderThanDays ago. An empty queue covers every queue.
func (e *Engine) CleanupOldJobs(ctx context.Context, queue string, olderThanDays int) (int, error) {
	if olderThanDays <= 0 || olderThanDays > MaxCleanupDays {
		return 0, domain.NewValidationError("older than days must be between 1 and %d, got %d", MaxCleanupDays, olderThanDays)
	}

	cutoff := e.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := e.store.DeleteTerminalJobs(ctx, queue, cutoff, e.cleanupBatchSize)
	if err != nil {
		return 0, domain.NewStoreError("delete terminal jobs", err)
	}

	e.logger.Info("Old jobs cleaned up",
		slog.String("queue", queue),
		slog.Int("older_than_days", olderThanDays),
		slog.Int("deleted", n),
	)
	return n, nil
}

// GetQueueStats counts the jobs of a queue per status
func (e *Engine) GetQueueStats(ctx context.Context, queue string) (domain.QueueStats, error) {
	counts, err := e.store.CountJobsByStatus(ctx, queue)
	if err != nil {
		return domain.QueueStats{}, domain.NewStoreError("count jobs", err)
	}
	return domain.NewQueueStats(queue, counts), nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(v), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload cannot be encoded: %w", err)
	}
	return data, nil
}
