// Package tasks is the catalog of named recurring tasks the service runs
// on the scheduler.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/maintenance"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/internal/scheduler"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/cuongbtq/jobcore/shared/rabbitmq"
)

const (
	CleanupExpiredSessions    = "cleanup-expired-sessions"
	SendReminderNotifications = "send-reminder-notifications"
	ProcessPayouts            = "process-payouts"
	GenerateAnalyticsReport   = "generate-analytics-report"
	SyncExternalData          = "sync-external-data"
	CleanupTempFiles          = "cleanup-temp-files"
)

const (
	NotificationQueue = "notificationQueue"
	PaymentQueue      = "paymentQueue"
	SyncQueue         = "syncQueue"

	DefaultReportRoutingKey = "reports.analytics"

	sessionBatchSize  = 500
	maxSessionBatches = 20
	reminderWindow    = 15 * time.Minute
	syncWindow        = 4 * time.Hour
	dedupeScanLimit   = 500
)

// Enqueuer is the part of the queue engine the catalog uses
type Enqueuer interface {
	AddJob(ctx context.Context, queue string, payload any, opts queue.AddOptions) (*domain.Job, error)
	GetJobsByStatus(ctx context.Context, queue string, statuses []domain.JobStatus, limit, offset int) ([]*domain.Job, error)
	GetQueueStats(ctx context.Context, queue string) (domain.QueueStats, error)
}

// MaintenanceRunner runs a maintenance task by kind
type MaintenanceRunner interface {
	Run(ctx context.Context, kind string) (maintenance.Result, error)
}

// Config holds catalog dependencies. Publisher may be nil when the broker
// is disabled; the analytics report is then only logged.
type Config struct {
	Sessions         storage.SessionStore
	Queue            Enqueuer
	Maintenance      MaintenanceRunner
	Publisher        rabbitmq.Publisher
	KnownQueues      []string
	ReportRoutingKey string
	Logger           *slog.Logger
	Clock            func() time.Time
}

// Catalog builds the scheduled task definitions
type Catalog struct {
	sessions    storage.SessionStore
	queue       Enqueuer
	maintenance MaintenanceRunner
	publisher   rabbitmq.Publisher
	knownQueues []string
	reportKey   string
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a catalog
func New(cfg Config) *Catalog {
	c := &Catalog{
		sessions:    cfg.Sessions,
		queue:       cfg.Queue,
		maintenance: cfg.Maintenance,
		publisher:   cfg.Publisher,
		knownQueues: cfg.KnownQueues,
		reportKey:   cfg.ReportRoutingKey,
		logger:      cfg.Logger,
		now:         cfg.Clock,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.reportKey == "" {
		c.reportKey = DefaultReportRoutingKey
	}
	if len(c.knownQueues) == 0 {
		c.knownQueues = []string{NotificationQueue, PaymentQueue, SyncQueue}
	}
	return c
}

// Definitions returns every task with its default cadence
func (c *Catalog) Definitions() []scheduler.Definition {
	return []scheduler.Definition{
		{
			Name:           CleanupExpiredSessions,
			Description:    "Delete expired login sessions",
			CronExpression: "0 * * * *",
			Task:           scheduler.TaskFunc(c.cleanupExpiredSessions),
		},
		{
			Name:           SendReminderNotifications,
			Description:    "Enqueue the reminder notification batch for the current window",
			CronExpression: "*/15 * * * *",
			Task:           scheduler.TaskFunc(c.sendReminderNotifications),
		},
		{
			Name:           ProcessPayouts,
			Description:    "Enqueue the daily payout batch",
			CronExpression: "0 2 * * *",
			Task:           scheduler.TaskFunc(c.processPayouts),
		},
		{
			Name:           GenerateAnalyticsReport,
			Description:    "Publish queue statistics for the known queues",
			CronExpression: "0 1 * * *",
			Task:           scheduler.TaskFunc(c.generateAnalyticsReport),
		},
		{
			Name:           SyncExternalData,
			Description:    "Enqueue a sync with external providers",
			CronExpression: "0 */4 * * *",
			Task:           scheduler.TaskFunc(c.syncExternalData),
		},
		{
			Name:           CleanupTempFiles,
			Description:    "Remove temporary uploads older than a day",
			CronExpression: "30 */6 * * *",
			Task:           scheduler.TaskFunc(c.cleanupTempFiles),
		},
	}
}

func (c *Catalog) cleanupExpiredSessions(ctx context.Context) (scheduler.Outcome, error) {
	now := c.now()
	total := 0
	for i := 0; i < maxSessionBatches; i++ {
		n, err := c.sessions.DeleteExpiredSessions(ctx, now, sessionBatchSize)
		total += n
		if err != nil {
			return scheduler.Outcome{}, domain.NewStoreError("delete expired sessions", err)
		}
		if n < sessionBatchSize {
			break
		}
	}

	return scheduler.Outcome{
		Success: true,
		Message: fmt.Sprintf("deleted %d expired sessions", total),
		Data:    map[string]any{"deleted": total},
	}, nil
}

func (c *Catalog) sendReminderNotifications(ctx context.Context) (scheduler.Outcome, error) {
	start := c.now().UTC().Truncate(reminderWindow)
	end := start.Add(reminderWindow)
	key := "reminders:" + start.Format(time.RFC3339)

	return c.enqueueOnce(ctx, NotificationQueue, key, map[string]any{
		"type":         "reminder_batch",
		"key":          key,
		"window_start": start,
		"window_end":   end,
	}, queue.AddOptions{Priority: 5})
}

func (c *Catalog) processPayouts(ctx context.Context) (scheduler.Outcome, error) {
	date := c.now().UTC().Format(time.DateOnly)
	key := "payouts:" + date

	return c.enqueueOnce(ctx, PaymentQueue, key, map[string]any{
		"type":        "payout_batch",
		"key":         key,
		"payout_date": date,
	}, queue.AddOptions{Priority: 10, MaxAttempts: 5})
}

func (c *Catalog) syncExternalData(ctx context.Context) (scheduler.Outcome, error) {
	start := c.now().UTC().Truncate(syncWindow)
	key := "sync:" + start.Format(time.RFC3339)

	return c.enqueueOnce(ctx, SyncQueue, key, map[string]any{
		"type":         "external_sync",
		"key":          key,
		"window_start": start,
	}, queue.AddOptions{})
}

// enqueueOnce skips the enqueue when an unfinished job with the same key exists
func (c *Catalog) enqueueOnce(ctx context.Context, queueName, key string, payload map[string]any, opts queue.AddOptions) (scheduler.Outcome, error) {
	existing, err := c.findOpen(ctx, queueName, key)
	if err != nil {
		return scheduler.Outcome{}, err
	}
	if existing != nil {
		return scheduler.Outcome{
			Success: true,
			Message: "batch already queued",
			Data:    map[string]any{"job_id": existing.ID, "key": key},
		}, nil
	}

	job, err := c.queue.AddJob(ctx, queueName, payload, opts)
	if err != nil {
		return scheduler.Outcome{}, err
	}

	c.logger.Info("Scheduled batch enqueued",
		slog.String("queue", queueName),
		slog.String("job_id", job.ID),
		slog.String("key", key),
	)
	return scheduler.Outcome{
		Success: true,
		Message: "batch enqueued",
		Data:    map[string]any{"job_id": job.ID, "key": key},
	}, nil
}

// findOpen pages through every unfinished job of a queue looking for key
func (c *Catalog) findOpen(ctx context.Context, queueName, key string) (*domain.Job, error) {
	statuses := []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusProcessing,
		domain.JobStatusRetrying,
	}

	for offset := 0; ; offset += dedupeScanLimit {
		page, err := c.queue.GetJobsByStatus(ctx, queueName, statuses, dedupeScanLimit, offset)
		if err != nil {
			return nil, err
		}
		for _, job := range page {
			var p struct {
				Key string `json:"key"`
			}
			if json.Unmarshal(job.Payload, &p) == nil && p.Key == key {
				return job, nil
			}
		}
		if len(page) < dedupeScanLimit {
			return nil, nil
		}
	}
}

// AnalyticsReport is the message published by the analytics task
type AnalyticsReport struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Queues      []domain.QueueStats `json:"queues"`
	TotalJobs   int                 `json:"total_jobs"`
	FailedJobs  int                 `json:"failed_jobs"`
}

func (c *Catalog) generateAnalyticsReport(ctx context.Context) (scheduler.Outcome, error) {
	report := AnalyticsReport{GeneratedAt: c.now().UTC()}
	for _, name := range c.knownQueues {
		stats, err := c.queue.GetQueueStats(ctx, name)
		if err != nil {
			return scheduler.Outcome{}, err
		}
		report.Queues = append(report.Queues, stats)
		report.TotalJobs += stats.Total
		report.FailedJobs += stats.Failed
	}

	data := map[string]any{
		"queues":      len(report.Queues),
		"total_jobs":  report.TotalJobs,
		"failed_jobs": report.FailedJobs,
	}

	if c.publisher == nil {
		c.logger.Info("Analytics report generated",
			slog.Int("total_jobs", report.TotalJobs),
			slog.Int("failed_jobs", report.FailedJobs),
		)
		return scheduler.Outcome{Success: true, Message: "report generated, publishing disabled", Data: data}, nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return scheduler.Outcome{}, fmt.Errorf("encode analytics report: %w", err)
	}
	if err := c.publisher.PublishWithRetry(ctx, c.reportKey, body, "application/json"); err != nil {
		return scheduler.Outcome{}, fmt.Errorf("publish analytics report: %w", err)
	}

	return scheduler.Outcome{Success: true, Message: "report published", Data: data}, nil
}

func (c *Catalog) cleanupTempFiles(ctx context.Context) (scheduler.Outcome, error) {
	res, err := c.maintenance.Run(ctx, maintenance.KindTemp)
	if err != nil {
		return scheduler.Outcome{}, err
	}

	deleted := 0
	for _, r := range res.Results {
		deleted += r.Deleted
	}
	out := scheduler.Outcome{
		Success: res.Success,
		Message: fmt.Sprintf("deleted %d temporary files", deleted),
		Data:    map[string]any{"deleted": deleted},
	}
	if !res.Success && len(res.Errors) > 0 {
		out.Message = res.Errors[0]
	}
	return out, nil
}
