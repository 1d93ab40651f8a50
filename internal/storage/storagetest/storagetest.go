// Package storagetest holds behaviour tests shared by every Store backend.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh empty store for one subtest
type Factory func(t *testing.T) storage.Store

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// Run executes the full behaviour suite against a backend
func Run(t *testing.T, newStore Factory) {
	t.Run("JobCRUD", func(t *testing.T) { testJobCRUD(t, newStore(t)) })
	t.Run("FindReadyJobsOrdering", func(t *testing.T) { testFindReady(t, newStore(t)) })
	t.Run("FindStaleJobs", func(t *testing.T) { testFindStale(t, newStore(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, newStore(t)) })
	t.Run("DeleteTerminalJobs", func(t *testing.T) { testDeleteTerminal(t, newStore(t)) })
	t.Run("Schedules", func(t *testing.T) { testSchedules(t, newStore(t)) })
	t.Run("Files", func(t *testing.T) { testFiles(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
}

// NewJob builds a pending job for tests
func NewJob(queue string, priority int, eligible, created time.Time) *domain.Job {
	return &domain.Job{
		ID:             uuid.NewString(),
		QueueName:      queue,
		Payload:        json.RawMessage(`{"n":1}`),
		Status:         domain.JobStatusPending,
		Priority:       priority,
		MaxAttempts:    3,
		CreatedAt:      created,
		UpdatedAt:      created,
		NextEligibleAt: eligible,
	}
}

func testJobCRUD(t *testing.T, s storage.Store) {
	ctx := context.Background()
	job := NewJob("emailQueue", 1, base, base)

	require.NoError(t, s.InsertJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.QueueName, got.QueueName)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.True(t, got.NextEligibleAt.Equal(base))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Error)

	started := base.Add(time.Second)
	completed := base.Add(2 * time.Second)
	ms := int64(1000)
	got.Status = domain.JobStatusCompleted
	got.Attempts = 1
	got.StartedAt = &started
	got.CompletedAt = &completed
	got.Result = json.RawMessage(`{"sent":true}`)
	got.ProcessingTimeMs = &ms
	got.UpdatedAt = completed
	require.NoError(t, s.UpdateJob(ctx, got))

	again, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, again.Status)
	assert.Equal(t, 1, again.Attempts)
	require.NotNil(t, again.CompletedAt)
	assert.True(t, again.CompletedAt.Equal(completed))
	assert.JSONEq(t, `{"sent":true}`, string(again.Result))
	require.NotNil(t, again.ProcessingTimeMs)
	assert.Equal(t, int64(1000), *again.ProcessingTimeMs)

	require.NoError(t, s.DeleteJob(ctx, job.ID))
	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), domain.ErrJobNotFound)

	missing := NewJob("emailQueue", 0, base, base)
	assert.ErrorIs(t, s.UpdateJob(ctx, missing), domain.ErrJobNotFound)
}

func testFindReady(t *testing.T, s storage.Store) {
	ctx := context.Background()

	low := NewJob("q", 0, base, base)
	high := NewJob("q", 10, base, base.Add(time.Second))
	earlier := NewJob("q", -5, base.Add(-time.Minute), base.Add(2*time.Second))
	future := NewJob("q", 100, base.Add(time.Hour), base)
	other := NewJob("other", 100, base, base)
	done := NewJob("q", 100, base, base)
	done.Status = domain.JobStatusCompleted
	retrying := NewJob("q", 0, base, base.Add(3*time.Second))
	retrying.Status = domain.JobStatusRetrying

	for _, j := range []*domain.Job{low, high, earlier, future, other, done, retrying} {
		require.NoError(t, s.InsertJob(ctx, j))
	}

	ready, err := s.FindReadyJobs(ctx, "q", base, 10)
	require.NoError(t, err)
	require.Len(t, ready, 4)
	assert.Equal(t, earlier.ID, ready[0].ID)
	assert.Equal(t, high.ID, ready[1].ID)
	assert.Equal(t, low.ID, ready[2].ID)
	assert.Equal(t, retrying.ID, ready[3].ID)

	limited, err := s.FindReadyJobs(ctx, "q", base, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testFindStale(t *testing.T, s storage.Store) {
	ctx := context.Background()

	old := NewJob("q", 0, base, base)
	old.Status = domain.JobStatusProcessing
	oldStart := base.Add(-time.Hour)
	old.StartedAt = &oldStart

	fresh := NewJob("q", 0, base, base)
	fresh.Status = domain.JobStatusProcessing
	freshStart := base
	fresh.StartedAt = &freshStart

	require.NoError(t, s.InsertJob(ctx, old))
	require.NoError(t, s.InsertJob(ctx, fresh))

	stale, err := s.FindStaleJobs(ctx, "q", base.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func testListAndCount(t *testing.T, s storage.Store) {
	ctx := context.Background()

	statuses := []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusPending,
		domain.JobStatusFailed,
		domain.JobStatusCompleted,
		domain.JobStatusRetrying,
	}
	for i, st := range statuses {
		j := NewJob("q", 0, base, base.Add(time.Duration(i)*time.Second))
		j.Status = st
		require.NoError(t, s.InsertJob(ctx, j))
	}
	require.NoError(t, s.InsertJob(ctx, NewJob("other", 0, base, base)))

	all, err := s.ListJobs(ctx, storage.JobFilter{Queue: "q"})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	pending, err := s.ListJobs(ctx, storage.JobFilter{Queue: "q", Statuses: []domain.JobStatus{domain.JobStatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	page, err := s.ListJobs(ctx, storage.JobFilter{Queue: "q", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, domain.JobStatusPending, page[0].Status)
	assert.Equal(t, domain.JobStatusFailed, page[1].Status)

	counts, err := s.CountJobsByStatus(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.JobStatusPending])
	assert.Equal(t, 1, counts[domain.JobStatusFailed])
	assert.Equal(t, 1, counts[domain.JobStatusCompleted])
	assert.Equal(t, 1, counts[domain.JobStatusRetrying])
	assert.Equal(t, 0, counts[domain.JobStatusProcessing])
}

func testDeleteTerminal(t *testing.T, s storage.Store) {
	ctx := context.Background()
	old := base.Add(-10 * 24 * time.Hour)

	for i := 0; i < 5; i++ {
		j := NewJob("q", 0, old, old.Add(time.Duration(i)*time.Second))
		j.Status = domain.JobStatusCompleted
		require.NoError(t, s.InsertJob(ctx, j))
	}
	failed := NewJob("other", 0, old, old)
	failed.Status = domain.JobStatusFailed
	require.NoError(t, s.InsertJob(ctx, failed))

	pending := NewJob("q", 0, old, old)
	require.NoError(t, s.InsertJob(ctx, pending))

	recent := NewJob("q", 0, base, base)
	recent.Status = domain.JobStatusCompleted
	require.NoError(t, s.InsertJob(ctx, recent))

	cutoff := base.Add(-7 * 24 * time.Hour)

	n, err := s.DeleteTerminalJobs(ctx, "q", cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.DeleteTerminalJobs(ctx, "q", cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteTerminalJobs(ctx, "", cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetJob(ctx, pending.ID)
	assert.NoError(t, err)
	_, err = s.GetJob(ctx, recent.ID)
	assert.NoError(t, err)
}

func testSchedules(t *testing.T, s storage.Store) {
	ctx := context.Background()
	next := base.Add(time.Hour)

	cfg := &domain.ScheduledJobConfig{
		ID:             uuid.NewString(),
		Name:           "cleanup-expired-sessions",
		Description:    "hourly",
		CronExpression: "0 * * * *",
		Status:         domain.ScheduleStatusActive,
		NextRunAt:      &next,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
	require.NoError(t, s.InsertSchedule(ctx, cfg))

	dup := *cfg
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.InsertSchedule(ctx, &dup), domain.ErrDuplicate)

	got, err := s.GetScheduleByName(ctx, cfg.Name)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, got.ID)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))

	msg := "boom"
	got.Status = domain.ScheduleStatusError
	got.LastErrorMessage = &msg
	got.RunCount = 4
	got.LastRunAt = &base
	require.NoError(t, s.UpdateSchedule(ctx, got))

	byID, err := s.GetSchedule(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusError, byID.Status)
	assert.Equal(t, 4, byID.RunCount)
	require.NotNil(t, byID.LastErrorMessage)
	assert.Equal(t, "boom", *byID.LastErrorMessage)

	second := &domain.ScheduledJobConfig{
		ID:             uuid.NewString(),
		Name:           "another",
		CronExpression: "*/5 * * * *",
		Status:         domain.ScheduleStatusPaused,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
	require.NoError(t, s.InsertSchedule(ctx, second))

	list, err := s.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "another", list[0].Name)

	require.NoError(t, s.DeleteSchedule(ctx, cfg.ID))
	_, err = s.GetSchedule(ctx, cfg.ID)
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
	_, err = s.GetScheduleByName(ctx, cfg.Name)
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
}

func testFiles(t *testing.T, s storage.Store) {
	ctx := context.Background()

	insert := func(status domain.FileStatus, checksum string, created time.Time, expires *time.Time) {
		require.NoError(t, s.InsertFile(ctx, &domain.FileRecord{
			ID:        uuid.NewString(),
			Path:      fmt.Sprintf("/uploads/%s", uuid.NewString()),
			Checksum:  checksum,
			SizeBytes: 42,
			Status:    status,
			CreatedAt: created,
			ExpiresAt: expires,
		}))
	}

	expired := base.Add(-time.Minute)
	insert(domain.FileStatusActive, "a", base.Add(-time.Hour), &expired)
	insert(domain.FileStatusTemp, "b", base.Add(-48*time.Hour), nil)
	insert(domain.FileStatusTemp, "c", base.Add(-time.Hour), nil)
	insert(domain.FileStatusActive, "a", base.Add(-30*time.Minute), nil)
	insert(domain.FileStatusActive, "a", base.Add(-20*time.Minute), nil)

	n, err := s.DeleteFiles(ctx, storage.FileFilter{ExpiresBefore: base}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteFiles(ctx, storage.FileFilter{Status: domain.FileStatusTemp, CreatedBefore: base.Add(-24 * time.Hour)}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the expired "a" is gone so the oldest remaining "a" is kept
	n, err = s.DeleteDuplicateFiles(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func testSessions(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertSession(ctx, &domain.Session{
			ID:        uuid.NewString(),
			UserID:    "u1",
			ExpiresAt: base.Add(time.Duration(i-3) * time.Hour),
			CreatedAt: base.Add(-24 * time.Hour),
		}))
	}

	n, err := s.DeleteExpiredSessions(ctx, base, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteExpiredSessions(ctx, base, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
