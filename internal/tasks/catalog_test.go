package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/maintenance"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/internal/scheduler"
	"github.com/cuongbtq/jobcore/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 9, 22, 0, 0, time.UTC)

type fakePublisher struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	return p.PublishWithRetry(ctx, routingKey, body, contentType)
}

func (p *fakePublisher) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.bodies = append(p.bodies, body)
	return nil
}

type fixture struct {
	catalog   *Catalog
	store     *memory.Store
	engine    *queue.Engine
	publisher *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	store := memory.New()
	engine := queue.New(queue.Config{Store: store, Logger: logger, Clock: clock})
	pub := &fakePublisher{}

	return &fixture{
		catalog: New(Config{
			Sessions:    store,
			Queue:       engine,
			Maintenance: maintenance.New(maintenance.Config{Files: store, Logger: logger, Clock: clock}),
			Publisher:   pub,
			Logger:      logger,
			Clock:       clock,
		}),
		store:     store,
		engine:    engine,
		publisher: pub,
	}
}

func (f *fixture) run(t *testing.T, name string) (scheduler.Outcome, error) {
	t.Helper()
	for _, def := range f.catalog.Definitions() {
		if def.Name == name {
			return def.Task.Run(context.Background())
		}
	}
	t.Fatalf("task %s not in catalog", name)
	return scheduler.Outcome{}, nil
}

func TestDefinitions(t *testing.T) {
	f := newFixture(t)

	want := map[string]string{
		CleanupExpiredSessions:    "0 * * * *",
		SendReminderNotifications: "*/15 * * * *",
		ProcessPayouts:            "0 2 * * *",
		GenerateAnalyticsReport:   "0 1 * * *",
		SyncExternalData:          "0 */4 * * *",
		CleanupTempFiles:          "30 */6 * * *",
	}

	defs := f.catalog.Definitions()
	require.Len(t, defs, len(want))
	for _, def := range defs {
		assert.Equal(t, want[def.Name], def.CronExpression, def.Name)
		assert.NotNil(t, def.Task)
		_, err := scheduler.ParseCron(def.CronExpression)
		assert.NoError(t, err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		require.NoError(t, f.store.InsertSession(ctx, &domain.Session{
			ID:        fmt.Sprintf("expired-%d", i),
			UserID:    "user-1",
			ExpiresAt: testNow.Add(-time.Duration(i+1) * time.Minute),
			CreatedAt: testNow.Add(-48 * time.Hour),
		}))
	}
	require.NoError(t, f.store.InsertSession(ctx, &domain.Session{
		ID:        "live",
		UserID:    "user-2",
		ExpiresAt: testNow.Add(time.Hour),
		CreatedAt: testNow,
	}))

	out, err := f.run(t, CleanupExpiredSessions)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1200, out.Data["deleted"])

	n, err := f.store.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueTasks(t *testing.T) {
	tests := []struct {
		task      string
		queue     string
		key       string
		priority  int
		attempts  int
		payloadTy string
	}{
		{task: SendReminderNotifications, queue: NotificationQueue, key: "reminders:2025-06-01T09:15:00Z", priority: 5, attempts: 3, payloadTy: "reminder_batch"},
		{task: ProcessPayouts, queue: PaymentQueue, key: "payouts:2025-06-01", priority: 10, attempts: 5, payloadTy: "payout_batch"},
		{task: SyncExternalData, queue: SyncQueue, key: "sync:2025-06-01T08:00:00Z", priority: 0, attempts: 3, payloadTy: "external_sync"},
	}

	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			out, err := f.run(t, tt.task)
			require.NoError(t, err)
			assert.True(t, out.Success)
			assert.Equal(t, "batch enqueued", out.Message)

			jobs, err := f.engine.GetJobsByStatus(ctx, tt.queue, nil, 10, 0)
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			assert.Equal(t, tt.priority, jobs[0].Priority)
			assert.Equal(t, tt.attempts, jobs[0].MaxAttempts)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
			assert.Equal(t, tt.key, payload["key"])
			assert.Equal(t, tt.payloadTy, payload["type"])

			// same window while the batch is still open
			out, err = f.run(t, tt.task)
			require.NoError(t, err)
			assert.Equal(t, "batch already queued", out.Message)
			assert.Equal(t, jobs[0].ID, out.Data["job_id"])

			jobs, err = f.engine.GetJobsByStatus(ctx, tt.queue, nil, 10, 0)
			require.NoError(t, err)
			assert.Len(t, jobs, 1)
		})
	}
}

func TestEnqueueTasks_FindsOpenBatchPastFirstPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < dedupeScanLimit+100; i++ {
		created := testNow.Add(-time.Hour).Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, f.store.InsertJob(ctx, &domain.Job{
			ID:             fmt.Sprintf("notify-%04d", i),
			QueueName:      NotificationQueue,
			Payload:        json.RawMessage(`{"type":"push"}`),
			Status:         domain.JobStatusPending,
			MaxAttempts:    3,
			CreatedAt:      created,
			UpdatedAt:      created,
			NextEligibleAt: created,
		}))
	}

	out, err := f.run(t, SendReminderNotifications)
	require.NoError(t, err)
	assert.Equal(t, "batch enqueued", out.Message)
	first := out.Data["job_id"]

	out, err = f.run(t, SendReminderNotifications)
	require.NoError(t, err)
	assert.Equal(t, "batch already queued", out.Message)
	assert.Equal(t, first, out.Data["job_id"])

	jobs, err := f.engine.GetJobsByStatus(ctx, NotificationQueue, nil, 2*dedupeScanLimit, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, dedupeScanLimit+101)
}

func TestGenerateAnalyticsReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.AddJob(ctx, NotificationQueue, map[string]int{"n": i}, queue.AddOptions{})
		require.NoError(t, err)
	}
	_, err := f.engine.AddJob(ctx, PaymentQueue, nil, queue.AddOptions{})
	require.NoError(t, err)

	out, err := f.run(t, GenerateAnalyticsReport)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 4, out.Data["total_jobs"])

	require.Len(t, f.publisher.bodies, 1)
	assert.Equal(t, DefaultReportRoutingKey, f.publisher.keys[0])

	var report AnalyticsReport
	require.NoError(t, json.Unmarshal(f.publisher.bodies[0], &report))
	require.Len(t, report.Queues, 3)
	assert.Equal(t, NotificationQueue, report.Queues[0].Queue)
	assert.Equal(t, 3, report.Queues[0].Pending)
	assert.Equal(t, 4, report.TotalJobs)

	f.publisher.err = errors.New("channel closed")
	_, err = f.run(t, GenerateAnalyticsReport)
	assert.ErrorContains(t, err, "channel closed")
}

func TestGenerateAnalyticsReport_WithoutPublisher(t *testing.T) {
	f := newFixture(t)
	f.catalog.publisher = nil

	out, err := f.run(t, GenerateAnalyticsReport)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Contains(t, out.Message, "publishing disabled")
}

func TestCleanupTempFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, f.store.InsertFile(ctx, &domain.FileRecord{
			ID:        fmt.Sprintf("tmp-%d", i),
			Path:      fmt.Sprintf("/tmp/upload-%d", i),
			Checksum:  fmt.Sprintf("sum-%d", i),
			Status:    domain.FileStatusTemp,
			CreatedAt: testNow.Add(-30 * time.Hour),
		}))
	}

	out, err := f.run(t, CleanupTempFiles)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 4, out.Data["deleted"])

	n, err := f.store.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
