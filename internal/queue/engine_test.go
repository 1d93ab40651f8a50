package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *fakeClock) {
	t.Helper()
	store := memory.New()
	clock := newFakeClock()
	e := New(Config{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  clock.Now,
	})
	return e, store, clock
}

func pollAndWait(t *testing.T, e *Engine, queue string) int {
	t.Helper()
	n, err := e.PollOnce(context.Background(), queue)
	require.NoError(t, err)
	e.Wait()
	return n
}

var errBoom = errors.New("smtp unavailable")

func failing() Handler {
	return HandlerFunc(func(ctx context.Context, job *domain.Job) (any, error) {
		return nil, errBoom
	})
}

func succeeding() Handler {
	return HandlerFunc(func(ctx context.Context, job *domain.Job) (any, error) {
		return map[string]bool{"ok": true}, nil
	})
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 30 * time.Second},
		{attempts: 1, want: 30 * time.Second},
		{attempts: 2, want: 60 * time.Second},
		{attempts: 3, want: 120 * time.Second},
		{attempts: 5, want: 480 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(DefaultBaseBackoff, tt.attempts))
	}
}

func TestBackoff_SaturatesInsteadOfWrapping(t *testing.T) {
	saturated := time.Duration(math.MaxInt64)

	tests := []struct {
		name     string
		base     time.Duration
		attempts int
		want     time.Duration
	}{
		{name: "largest exact value", base: time.Nanosecond, attempts: 63, want: time.Duration(1) << 62},
		{name: "base overflows at attempt 30", base: DefaultBaseBackoff, attempts: 30, want: saturated},
		{name: "shift past word size", base: DefaultBaseBackoff, attempts: 70, want: saturated},
		{name: "shift of exactly 63", base: time.Nanosecond, attempts: 64, want: saturated},
		{name: "zero base", base: 0, attempts: 40, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Backoff(tt.base, tt.attempts)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, time.Duration(0))
		})
	}

	for attempts := 1; attempts <= MaxAttemptsLimit; attempts++ {
		require.GreaterOrEqual(t, Backoff(DefaultBaseBackoff, attempts+1), Backoff(DefaultBaseBackoff, attempts))
	}
}

func TestDispatch_LateRetryNeverImmediate(t *testing.T) {
	e, store, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("q", failing(), Options{}))
	job, err := e.AddJob(ctx, "q", nil, AddOptions{MaxAttempts: 40})
	require.NoError(t, err)

	// as if 29 attempts had already failed
	job.Attempts = 29
	job.Status = domain.JobStatusRetrying
	require.NoError(t, store.UpdateJob(ctx, job))

	assert.Equal(t, 1, pollAndWait(t, e, "q"))

	got, err := e.GetJob(ctx, "q", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, got.Status)
	assert.Equal(t, 30, got.Attempts)
	assert.True(t, got.NextEligibleAt.After(clock.Now().AddDate(100, 0, 0)))
	assert.Equal(t, 0, pollAndWait(t, e, "q"))
}

func TestRegisterQueue(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.NoError(t, e.RegisterQueue("emailQueue", succeeding(), Options{}))

	err := e.RegisterQueue("emailQueue", succeeding(), Options{})
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	err = e.RegisterQueue("bad", succeeding(), Options{Concurrency: -1})
	assert.True(t, domain.IsValidation(err))

	err = e.RegisterQueue("nil", nil, Options{})
	assert.True(t, errors.As(err, &cfgErr))

	queues := e.Queues()
	require.Len(t, queues, 1)
	assert.Equal(t, DefaultConcurrency, queues[0].Concurrency)
	assert.Equal(t, DefaultPollInterval, queues[0].PollInterval)
	assert.False(t, queues[0].Running)
}

func TestStartStopProcessing(t *testing.T) {
	e, _, _ := newTestEngine(t)

	assert.ErrorIs(t, e.StartProcessing("missing"), domain.ErrQueueNotFound)
	assert.ErrorIs(t, e.StopProcessing("missing"), domain.ErrQueueNotFound)
	_, err := e.PollOnce(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)

	require.NoError(t, e.RegisterQueue("q", succeeding(), Options{PollInterval: time.Hour}))

	require.NoError(t, e.StartProcessing("q"))
	require.NoError(t, e.StartProcessing("q"))
	assert.True(t, e.Queues()[0].Running)

	require.NoError(t, e.StopProcessing("q"))
	require.NoError(t, e.StopProcessing("q"))
	assert.False(t, e.Queues()[0].Running)
}

func TestAddJob_Defaults(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job, err := e.AddJob(ctx, "emailQueue", map[string]string{"to": "a@example.com"}, AddOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, 0, job.Priority)
	assert.True(t, job.NextEligibleAt.Equal(clock.Now()))
	assert.JSONEq(t, `{"to":"a@example.com"}`, string(job.Payload))

	got, err := e.GetJob(ctx, "emailQueue", job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	delayed, err := e.AddJob(ctx, "emailQueue", nil, AddOptions{Delay: 90 * time.Second, MaxAttempts: 5, Priority: 7})
	require.NoError(t, err)
	assert.True(t, delayed.NextEligibleAt.Equal(clock.Now().Add(90*time.Second)))
	assert.Equal(t, 5, delayed.MaxAttempts)
	assert.JSONEq(t, `{}`, string(delayed.Payload))
}

func TestAddJob_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		queue   string
		payload any
		opts    AddOptions
	}{
		{name: "empty queue", queue: "", payload: nil},
		{name: "negative attempts", queue: "q", opts: AddOptions{MaxAttempts: -1}},
		{name: "attempts above limit", queue: "q", opts: AddOptions{MaxAttempts: MaxAttemptsLimit + 1}},
		{name: "negative delay", queue: "q", opts: AddOptions{Delay: -time.Second}},
		{name: "invalid raw json", queue: "q", payload: json.RawMessage(`{"a":`)},
		{name: "unencodable", queue: "q", payload: make(chan int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddJob(ctx, tt.queue, tt.payload, tt.opts)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestEnqueueBeforeRegistration(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	job, err := e.AddJob(ctx, "syncQueue", nil, AddOptions{})
	require.NoError(t, err)

	require.NoError(t, e.RegisterQueue("syncQueue", succeeding(), Options{}))
	assert.Equal(t, 1, pollAndWait(t, e, "syncQueue"))

	got, err := e.GetJob(ctx, "syncQueue", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}

func TestDispatch_RetryBackoffUntilFailed(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, e.RegisterQueue("emailQueue", failing(), Options{}))
	job, err := e.AddJob(ctx, "emailQueue", nil, AddOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, pollAndWait(t, e, "emailQueue"))
	got, err := e.GetJob(ctx, "emailQueue", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, errBoom.Error(), *got.Error)
	assert.True(t, got.NextEligibleAt.Equal(start.Add(30*time.Second)))

	// not eligible yet
	assert.Equal(t, 0, pollAndWait(t, e, "emailQueue"))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, pollAndWait(t, e, "emailQueue"))
	got, err = e.GetJob(ctx, "emailQueue", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.NextEligibleAt.Equal(start.Add(90*time.Second)))

	clock.Advance(60 * time.Second)
	assert.Equal(t, 1, pollAndWait(t, e, "emailQueue"))
	got, err = e.GetJob(ctx, "emailQueue", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, got.MaxAttempts, got.Attempts)
	require.NotNil(t, got.FailedAt)
	assert.True(t, got.FailedAt.Equal(clock.Now()))
	assert.Nil(t, got.Result)

	// terminal jobs are never picked again
	clock.Advance(time.Hour)
	assert.Equal(t, 0, pollAndWait(t, e, "emailQueue"))
}

func TestDispatch_SucceedsOnSecondAttempt(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	handler := HandlerFunc(func(ctx context.Context, job *domain.Job) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("scanner busy")
		}
		return map[string]string{"thumbnail": "/thumbs/1.png"}, nil
	})

	require.NoError(t, e.RegisterQueue("fileProcessingQueue", handler, Options{}))
	job, err := e.AddJob(ctx, "fileProcessingQueue", map[string]string{"file": "1.png"}, AddOptions{MaxAttempts: 2})
	require.NoError(t, err)

	pollAndWait(t, e, "fileProcessingQueue")
	clock.Advance(30 * time.Second)
	pollAndWait(t, e, "fileProcessingQueue")

	got, err := e.GetJob(ctx, "fileProcessingQueue", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.Error)
	assert.JSONEq(t, `{"thumbnail":"/thumbs/1.png"}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ProcessingTimeMs)
}

func TestDispatch_PriorityOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	handler := HandlerFunc(func(ctx context.Context, job *domain.Job) (any, error) {
		mu.Lock()
		order = append(order, job.Priority)
		mu.Unlock()
		return nil, nil
	})
	require.NoError(t, e.RegisterQueue("notificationQueue", handler, Options{Concurrency: 1}))

	for _, p := range []int{0, 10, 5} {
		_, err := e.AddJob(ctx, "notificationQueue", nil, AddOptions{Priority: p})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, pollAndWait(t, e, "notificationQueue"))
	}
	assert.Equal(t, []int{10, 5, 0}, order)
}

func TestDispatch_ConcurrencyBound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	release := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, job *domain.Job) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, e.RegisterQueue("paymentQueue", handler, Options{Concurrency: 2}))

	for i := 0; i < 5; i++ {
		_, err := e.AddJob(ctx, "paymentQueue", nil, AddOptions{})
		require.NoError(t, err)
	}

	n, err := e.PollOnce(ctx, "paymentQueue")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.PollOnce(ctx, "paymentQueue")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, e.Queues()[0].InFlight)

	close(release)
	e.Wait()

	assert.Equal(t, 2, pollAndWait(t, e, "paymentQueue"))
	assert.Equal(t, 1, pollAndWait(t, e, "paymentQueue"))

	stats, err := e.GetQueueStats(ctx, "paymentQueue")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Completed)
	assert.Equal(t, 5, stats.Total)
}

func TestDispatch_PanicIsFailure(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	handler := HandlerFunc(func(ctx context.Context, job *domain.Job) (any, error) {
		panic("nil map write")
	})
	require.NoError(t, e.RegisterQueue("q", handler, Options{}))
	job, err := e.AddJob(ctx, "q", nil, AddOptions{})
	require.NoError(t, err)

	pollAndWait(t, e, "q")

	got, err := e.GetJob(ctx, "q", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "handler panic: nil map write")
}

func TestDispatch_NilResultStoredAsEmptyObject(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("q", HandlerFunc(func(ctx context.Context, job *domain.Job) (any, error) {
		return nil, nil
	}), Options{}))
	job, err := e.AddJob(ctx, "q", nil, AddOptions{})
	require.NoError(t, err)

	pollAndWait(t, e, "q")

	got, err := e.GetJob(ctx, "q", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{}`, string(got.Result))
}

func TestDispatch_RecoversStaleReservation(t *testing.T) {
	e, store, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("syncQueue", succeeding(), Options{VisibilityTimeout: time.Minute}))
	job, err := e.AddJob(ctx, "syncQueue", nil, AddOptions{})
	require.NoError(t, err)

	// simulate a crash after the job was marked processing
	started := clock.Now()
	job.Status = domain.JobStatusProcessing
	job.Attempts = 1
	job.StartedAt = &started
	require.NoError(t, store.UpdateJob(ctx, job))

	assert.Equal(t, 0, pollAndWait(t, e, "syncQueue"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, pollAndWait(t, e, "syncQueue"))

	got, err := e.GetJob(ctx, "syncQueue", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestRetryJob(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("q", failing(), Options{}))
	job, err := e.AddJob(ctx, "q", nil, AddOptions{MaxAttempts: 1})
	require.NoError(t, err)
	pollAndWait(t, e, "q")

	ok, err := e.RetryJob(ctx, "other", job.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	clock.Advance(time.Minute)
	ok, err = e.RetryJob(ctx, "q", job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := e.GetJob(ctx, "q", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.FailedAt)
	assert.True(t, got.NextEligibleAt.Equal(clock.Now()))

	// only failed jobs can be retried
	ok, err = e.RetryJob(ctx, "q", job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := e.GetJob(ctx, "q", job.ID)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestGetJobsByStatusAndDelete(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("q", failing(), Options{}))
	failed, err := e.AddJob(ctx, "q", nil, AddOptions{MaxAttempts: 1})
	require.NoError(t, err)
	pollAndWait(t, e, "q")
	_, err = e.AddJob(ctx, "q", nil, AddOptions{Delay: time.Hour})
	require.NoError(t, err)

	jobs, err := e.GetJobsByStatus(ctx, "q", []domain.JobStatus{domain.JobStatusFailed}, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, failed.ID, jobs[0].ID)

	all, err := e.GetJobsByStatus(ctx, "q", nil, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, e.DeleteJob(ctx, "other", failed.ID), domain.ErrJobNotFound)
	require.NoError(t, e.DeleteJob(ctx, "q", failed.ID))
	_, err = e.GetJob(ctx, "q", failed.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCleanupOldJobsAndStats(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("emailQueue", succeeding(), Options{Concurrency: 10}))
	for i := 0; i < 4; i++ {
		_, err := e.AddJob(ctx, "emailQueue", nil, AddOptions{})
		require.NoError(t, err)
	}
	pollAndWait(t, e, "emailQueue")
	_, err := e.AddJob(ctx, "emailQueue", nil, AddOptions{})
	require.NoError(t, err)

	stats, err := e.GetQueueStats(ctx, "emailQueue")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Completed)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, stats.Pending+stats.Processing+stats.Completed+stats.Failed+stats.Retrying, stats.Total)

	_, err = e.CleanupOldJobs(ctx, "emailQueue", 0)
	assert.True(t, domain.IsValidation(err))

	n, err := e.CleanupOldJobs(ctx, "emailQueue", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(8 * 24 * time.Hour)
	n, err = e.CleanupOldJobs(ctx, "", 7)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stats, err = e.GetQueueStats(ctx, "emailQueue")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestCleanupOldJobs_RejectsAgesBeyondLimit(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("q", succeeding(), Options{}))
	_, err := e.AddJob(ctx, "q", nil, AddOptions{})
	require.NoError(t, err)
	pollAndWait(t, e, "q")

	tests := []struct {
		name    string
		days    int
		wantErr bool
	}{
		{name: "upper bound accepted", days: MaxCleanupDays},
		{name: "one past upper bound", days: MaxCleanupDays + 1, wantErr: true},
		{name: "large enough to overflow a duration", days: 200000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := e.CleanupOldJobs(ctx, "q", tt.days)
			if tt.wantErr {
				assert.True(t, domain.IsValidation(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 0, n)
		})
	}

	stats, err := e.GetQueueStats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
}

func TestStartProcessing_PollsOnTimer(t *testing.T) {
	store := memory.New()
	e := New(Config{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	require.NoError(t, e.RegisterQueue("emailQueue", succeeding(), Options{PollInterval: 10 * time.Millisecond}))
	job, err := e.AddJob(ctx, "emailQueue", nil, AddOptions{})
	require.NoError(t, err)

	require.NoError(t, e.StartProcessing("emailQueue"))

	require.Eventually(t, func() bool {
		got, err := e.GetJob(ctx, "emailQueue", job.ID)
		return err == nil && got.Status == domain.JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(shutdownCtx))
	assert.False(t, e.Queues()[0].Running)
}
