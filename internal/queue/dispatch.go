package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
)

// poll claims up to the free concurrency budget of ready jobs and dispatches them
func (e *Engine) poll(ctx context.Context, r *runner) (int, error) {
	// a slow store must not stack ticks on top of each other
	if !r.polling.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.polling.Store(false)

	if r.opts.VisibilityTimeout > 0 {
		e.recoverStale(ctx, r)
	}

	available := r.opts.Concurrency - int(r.inFlight.Load())
	if available <= 0 {
		return 0, nil
	}

	r.mu.Lock()
	claimed := len(r.active)
	r.mu.Unlock()

	jobs, err := e.store.FindReadyJobs(ctx, r.name, e.now(), available+claimed)
	if err != nil {
		return 0, domain.NewStoreError("find ready jobs", err)
	}

	dispatched := 0
	for _, job := range jobs {
		if !e.reserve(r, job.ID) {
			continue
		}
		if !r.sem.TryAcquire(1) {
			e.release(r, job.ID)
			break
		}
		r.inFlight.Add(1)
		e.wg.Add(1)
		dispatched++

		go e.dispatch(r, job)
	}

	if dispatched > 0 {
		e.logger.Debug("Jobs dispatched",
			slog.String("queue", r.name),
			slog.Int("count", dispatched),
			slog.Int("available", available),
		)
	}
	return dispatched, nil
}

func (e *Engine) reserve(r *runner, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; ok {
		return false
	}
	r.active[id] = struct{}{}
	return true
}

func (e *Engine) release(r *runner, id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

func (e *Engine) dispatch(r *runner, job *domain.Job) {
	defer func() {
		e.release(r, job.ID)
		r.inFlight.Add(-1)
		r.sem.Release(1)
		e.wg.Done()
	}()

	ctx := e.handlerCtx
	started := e.now()

	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.StartedAt = &started
	job.UpdatedAt = started
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.Error("Failed to mark job processing",
			slog.String("queue", r.name),
			slog.String("job_id", job.ID),
			slog.Any("error", domain.NewStoreError("update job", err)),
		)
		return
	}

	result, handlerErr := e.invoke(ctx, r.handler, job)
	finished := e.now()

	if handlerErr == nil {
		encoded, err := encodeResult(result)
		if err != nil {
			handlerErr = err
		} else {
			ms := finished.Sub(started).Milliseconds()
			job.Status = domain.JobStatusCompleted
			job.CompletedAt = &finished
			job.Result = encoded
			job.Error = nil
			job.ProcessingTimeMs = &ms
		}
	}

	if handlerErr != nil {
		e.fail(r, job, handlerErr, finished)
	} else {
		e.logger.Info("Job completed",
			slog.String("queue", r.name),
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Int64("processing_time_ms", *job.ProcessingTimeMs),
		)
	}

	job.UpdatedAt = finished
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.Error("Failed to persist job outcome",
			slog.String("queue", r.name),
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.Any("error", domain.NewStoreError("update job", err)),
		)
	}
}

// fail moves a job to retrying or failed depending on remaining attempts
func (e *Engine) fail(r *runner, job *domain.Job, cause error, at time.Time) {
	classified := domain.ClassifyHandlerError(job.Attempts, job.MaxAttempts, cause)
	msg := cause.Error()
	job.Error = &msg

	if job.Attempts < job.MaxAttempts {
		next := at.Add(Backoff(e.baseBackoff, job.Attempts))
		if next.Before(job.NextEligibleAt) {
			next = job.NextEligibleAt
		}
		job.Status = domain.JobStatusRetrying
		job.NextEligibleAt = next

		e.logger.Warn("Job failed, scheduled for retry",
			slog.String("queue", r.name),
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Time("next_eligible_at", next),
			slog.Any("error", classified),
		)
		return
	}

	job.Status = domain.JobStatusFailed
	job.FailedAt = &at

	e.logger.Error("Job failed permanently",
		slog.String("queue", r.name),
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Any("error", classified),
	)
}

// invoke runs the handler and turns a panic into an error
func (e *Engine) invoke(ctx context.Context, h Handler, job *domain.Job) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Job handler panicked",
				slog.String("queue", job.QueueName),
				slog.String("job_id", job.ID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return h.Handle(ctx, job.Clone())
}

// recoverStale releases reservations left in processing past the visibility timeout
func (e *Engine) recoverStale(ctx context.Context, r *runner) {
	now := e.now()
	stale, err := e.store.FindStaleJobs(ctx, r.name, now.Add(-r.opts.VisibilityTimeout), staleBatchSize)
	if err != nil {
		e.logger.Error("Failed to look up stale jobs",
			slog.String("queue", r.name),
			slog.Any("error", domain.NewStoreError("find stale jobs", err)),
		)
		return
	}

	for _, job := range stale {
		r.mu.Lock()
		_, mine := r.active[job.ID]
		r.mu.Unlock()
		if mine {
			continue
		}

		cause := fmt.Errorf("visibility timeout of %s exceeded", r.opts.VisibilityTimeout)
		msg := cause.Error()
		job.Error = &msg
		job.UpdatedAt = now

		if job.Attempts >= job.MaxAttempts {
			job.Status = domain.JobStatusFailed
			job.FailedAt = &now
		} else {
			job.Status = domain.JobStatusRetrying
			if job.NextEligibleAt.Before(now) {
				job.NextEligibleAt = now
			}
		}

		if err := e.store.UpdateJob(ctx, job); err != nil {
			e.logger.Error("Failed to release stale job",
				slog.String("queue", r.name),
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		e.logger.Warn("Released stale job reservation",
			slog.String("queue", r.name),
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
	}
}

func encodeResult(result any) (json.RawMessage, error) {
	switch v := result.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("handler returned invalid JSON result")
		}
		return v, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return data, nil
}
