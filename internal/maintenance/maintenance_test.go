package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/cuongbtq/jobcore/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSet(t *testing.T, jobs JobCleaner) (*Set, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(Config{
		Files:  store,
		Jobs:   jobs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  func() time.Time { return testNow },
	}), store
}

func seedFiles(t *testing.T, store *memory.Store, prefix string, n int, mutate func(i int, f *domain.FileRecord)) {
	t.Helper()
	for i := 0; i < n; i++ {
		f := &domain.FileRecord{
			ID:        fmt.Sprintf("%s-%04d", prefix, i),
			Path:      fmt.Sprintf("/uploads/%s/%d.bin", prefix, i),
			Checksum:  fmt.Sprintf("%s-sum-%d", prefix, i),
			SizeBytes: 1024,
			Status:    domain.FileStatusActive,
			CreatedAt: testNow.Add(-time.Duration(n-i) * time.Minute),
		}
		if mutate != nil {
			mutate(i, f)
		}
		require.NoError(t, store.InsertFile(context.Background(), f))
	}
}

func countFiles(t *testing.T, store *memory.Store) int {
	t.Helper()
	n, err := store.CountFiles(context.Background())
	require.NoError(t, err)
	return n
}

func TestRun_ExpiredIsBatchCapped(t *testing.T) {
	set, store := newTestSet(t, nil)
	ctx := context.Background()

	expired := testNow.Add(-time.Hour)
	seedFiles(t, store, "expired", 500, func(i int, f *domain.FileRecord) {
		f.ExpiresAt = &expired
	})
	future := testNow.Add(time.Hour)
	seedFiles(t, store, "live", 10, func(i int, f *domain.FileRecord) {
		f.ExpiresAt = &future
	})

	res, err := set.Run(ctx, KindExpired)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 100, res.Results[0].Deleted)
	assert.Equal(t, 410, countFiles(t, store))

	// later runs keep making progress
	for i := 0; i < 4; i++ {
		_, err := set.Run(ctx, KindExpired)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, countFiles(t, store))

	res, err = set.Run(ctx, KindExpired)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Results[0].Deleted)
}

func TestRun_Predicates(t *testing.T) {
	tests := []struct {
		name        string
		kind        string
		seed        func(t *testing.T, store *memory.Store)
		wantDeleted int
		wantLeft    int
	}{
		{
			name: "temp older than a day",
			kind: KindTemp,
			seed: func(t *testing.T, store *memory.Store) {
				seedFiles(t, store, "old-temp", 3, func(i int, f *domain.FileRecord) {
					f.Status = domain.FileStatusTemp
					f.CreatedAt = testNow.Add(-25 * time.Hour)
				})
				seedFiles(t, store, "fresh-temp", 2, func(i int, f *domain.FileRecord) {
					f.Status = domain.FileStatusTemp
					f.CreatedAt = testNow.Add(-23 * time.Hour)
				})
				seedFiles(t, store, "old-active", 2, func(i int, f *domain.FileRecord) {
					f.CreatedAt = testNow.Add(-48 * time.Hour)
				})
			},
			wantDeleted: 3,
			wantLeft:    4,
		},
		{
			name: "temp capped at 500",
			kind: KindTemp,
			seed: func(t *testing.T, store *memory.Store) {
				seedFiles(t, store, "temp", 520, func(i int, f *domain.FileRecord) {
					f.Status = domain.FileStatusTemp
					f.CreatedAt = testNow.Add(-48*time.Hour - time.Duration(i)*time.Second)
				})
			},
			wantDeleted: 500,
			wantLeft:    20,
		},
		{
			name: "quarantine older than thirty days capped at 50",
			kind: KindQuarantine,
			seed: func(t *testing.T, store *memory.Store) {
				seedFiles(t, store, "old-q", 60, func(i int, f *domain.FileRecord) {
					f.Status = domain.FileStatusQuarantined
					f.CreatedAt = testNow.Add(-31 * 24 * time.Hour)
				})
				seedFiles(t, store, "new-q", 5, func(i int, f *domain.FileRecord) {
					f.Status = domain.FileStatusQuarantined
					f.CreatedAt = testNow.Add(-29 * 24 * time.Hour)
				})
			},
			wantDeleted: 50,
			wantLeft:    15,
		},
		{
			name: "optimize keeps one record per checksum",
			kind: KindOptimize,
			seed: func(t *testing.T, store *memory.Store) {
				seedFiles(t, store, "dup", 6, func(i int, f *domain.FileRecord) {
					f.Checksum = fmt.Sprintf("sha256-%d", i%2)
				})
				seedFiles(t, store, "unique", 3, nil)
			},
			wantDeleted: 4,
			wantLeft:    5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, store := newTestSet(t, nil)
			tt.seed(t, store)

			res, err := set.Run(context.Background(), tt.kind)
			require.NoError(t, err)
			assert.True(t, res.Success)
			require.Len(t, res.Results, 1)
			assert.Equal(t, tt.kind, res.Results[0].Task)
			assert.Equal(t, tt.wantDeleted, res.Results[0].Deleted)
			assert.Equal(t, tt.wantLeft, countFiles(t, store))
		})
	}
}

func TestRun_OptimizeKeepsOldest(t *testing.T) {
	set, store := newTestSet(t, nil)
	ctx := context.Background()

	seedFiles(t, store, "copy", 3, func(i int, f *domain.FileRecord) {
		f.Checksum = "sha256-same"
	})

	_, err := set.Run(ctx, KindOptimize)
	require.NoError(t, err)

	require.Equal(t, 1, countFiles(t, store))

	// copies were created three, two and one minutes ago
	n, err := store.DeleteFiles(ctx, storage.FileFilter{CreatedBefore: testNow.Add(-150 * time.Second)}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_UnknownKind(t *testing.T) {
	set, _ := newTestSet(t, nil)

	_, err := set.Run(context.Background(), "defrag")
	var valErr *domain.ValidationError
	assert.True(t, errors.As(err, &valErr))

	_, err = set.Run(context.Background(), KindJobRetention)
	assert.True(t, domain.IsValidation(err), "job retention needs a job cleaner")
}

type brokenDedupStore struct {
	*memory.Store
}

func (s brokenDedupStore) DeleteDuplicateFiles(ctx context.Context, limit int) (int, error) {
	return 0, errors.New("checksum index unavailable")
}

func TestRun_AllCollectsFailuresIndependently(t *testing.T) {
	store := memory.New()
	set := New(Config{
		Files:  brokenDedupStore{Store: store},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  func() time.Time { return testNow },
	})
	ctx := context.Background()

	expired := testNow.Add(-time.Minute)
	seedFiles(t, store, "expired", 3, func(i int, f *domain.FileRecord) {
		f.ExpiresAt = &expired
	})
	seedFiles(t, store, "temp", 2, func(i int, f *domain.FileRecord) {
		f.Status = domain.FileStatusTemp
		f.CreatedAt = testNow.Add(-72 * time.Hour)
	})

	res, err := set.Run(ctx, KindAll)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Results, 4)

	byTask := make(map[string]TaskResult)
	for _, r := range res.Results {
		byTask[r.Task] = r
	}
	assert.True(t, byTask[KindExpired].Success)
	assert.Equal(t, 3, byTask[KindExpired].Deleted)
	assert.True(t, byTask[KindTemp].Success)
	assert.Equal(t, 2, byTask[KindTemp].Deleted)
	assert.True(t, byTask[KindQuarantine].Success)
	assert.False(t, byTask[KindOptimize].Success)
	assert.Contains(t, byTask[KindOptimize].Error, "checksum index unavailable")

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "optimize")
	assert.Equal(t, 0, countFiles(t, store))
}

type fakeCleaner struct {
	calls []int
	err   error
}

func (c *fakeCleaner) CleanupOldJobs(ctx context.Context, queue string, olderThanDays int) (int, error) {
	c.calls = append(c.calls, olderThanDays)
	return 7, c.err
}

type fakeScheduler struct {
	entries map[string]string
	fns     map[string]func(ctx context.Context)
	failOn  string
}

func (s *fakeScheduler) AddFixed(name, expr string, fn func(ctx context.Context)) error {
	if name == s.failOn {
		return errors.New("entry rejected")
	}
	s.entries[name] = expr
	s.fns[name] = fn
	return nil
}

func TestRegister(t *testing.T) {
	cleaner := &fakeCleaner{}
	set, store := newTestSet(t, cleaner)
	sched := &fakeScheduler{entries: map[string]string{}, fns: map[string]func(ctx context.Context){}}

	require.NoError(t, set.Register(sched))
	assert.Equal(t, map[string]string{
		"maintenance:expired":       "0 * * * *",
		"maintenance:temp":          "0 */6 * * *",
		"maintenance:quarantine":    "0 3 * * *",
		"maintenance:optimize":      "0 4 * * 0",
		"maintenance:job-retention": "15 2 * * *",
	}, sched.entries)

	expired := testNow.Add(-time.Minute)
	seedFiles(t, store, "expired", 2, func(i int, f *domain.FileRecord) {
		f.ExpiresAt = &expired
	})
	sched.fns["maintenance:expired"](context.Background())
	assert.Equal(t, 0, countFiles(t, store))

	sched.fns["maintenance:job-retention"](context.Background())
	assert.Equal(t, []int{DefaultRetentionDays}, cleaner.calls)

	failing := &fakeScheduler{entries: map[string]string{}, fns: map[string]func(ctx context.Context){}, failOn: "maintenance:temp"}
	assert.Error(t, set.Register(failing))
}

func TestRun_JobRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	set, _ := newTestSet(t, cleaner)

	assert.Contains(t, set.Kinds(), KindJobRetention)

	res, err := set.Run(context.Background(), KindJobRetention)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 7, res.Results[0].Deleted)

	// "all" covers file records only
	res, err = set.Run(context.Background(), KindAll)
	require.NoError(t, err)
	assert.Len(t, res.Results, 4)
	assert.Len(t, cleaner.calls, 1)

	cleaner.err = errors.New("jobs table locked")
	res, err = set.Run(context.Background(), KindJobRetention)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"job-retention: jobs table locked"}, res.Errors)
}
