// Package memory is an in-process Store used by tests and the memory driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage"
)

// Store keeps every record in maps guarded by one mutex
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*domain.Job
	schedules map[string]*domain.ScheduledJobConfig
	files     map[string]*domain.FileRecord
	sessions  map[string]*domain.Session
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		jobs:      make(map[string]*domain.Job),
		schedules: make(map[string]*domain.ScheduledJobConfig),
		files:     make(map[string]*domain.FileRecord),
		sessions:  make(map[string]*domain.Session),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// InsertJob stores a copy of job
func (s *Store) InsertJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrDuplicate)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// UpdateJob replaces the stored job
func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("update job %s: %w", job.ID, domain.ErrJobNotFound)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", id, domain.ErrJobNotFound)
	}
	return job.Clone(), nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("delete job %s: %w", id, domain.ErrJobNotFound)
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) FindReadyJobs(ctx context.Context, queue string, now time.Time, limit int) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Job
	for _, job := range s.jobs {
		if job.QueueName == queue && job.Status.IsReady() && !job.NextEligibleAt.After(now) {
			out = append(out, job.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.NextEligibleAt.Equal(b.NextEligibleAt) {
			return a.NextEligibleAt.Before(b.NextEligibleAt)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	return truncate(out, limit), nil
}

func (s *Store) FindStaleJobs(ctx context.Context, queue string, cutoff time.Time, limit int) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Job
	for _, job := range s.jobs {
		if job.QueueName != queue || job.Status != domain.JobStatusProcessing {
			continue
		}
		if job.StartedAt == nil || job.StartedAt.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	sortByCreated(out)
	return truncate(out, limit), nil
}

func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[domain.JobStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	var out []*domain.Job
	for _, job := range s.jobs {
		if filter.Queue != "" && job.QueueName != filter.Queue {
			continue
		}
		if len(statuses) > 0 && !statuses[job.Status] {
			continue
		}
		out = append(out, job.Clone())
	}
	sortByCreated(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	return truncate(out, filter.Limit), nil
}

func (s *Store) CountJobsByStatus(ctx context.Context, queue string) (map[domain.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		if job.QueueName == queue {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func (s *Store) DeleteTerminalJobs(ctx context.Context, queue string, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []*domain.Job
	for _, job := range s.jobs {
		if queue != "" && job.QueueName != queue {
			continue
		}
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			victims = append(victims, job)
		}
	}
	sortByCreated(victims)
	victims = truncate(victims, limit)

	for _, job := range victims {
		delete(s.jobs, job.ID)
	}
	return len(victims), nil
}

func (s *Store) InsertSchedule(ctx context.Context, cfg *domain.ScheduledJobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.schedules {
		if existing.Name == cfg.Name {
			return fmt.Errorf("scheduled job %q: %w", cfg.Name, domain.ErrDuplicate)
		}
	}
	s.schedules[cfg.ID] = cfg.Clone()
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, cfg *domain.ScheduledJobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[cfg.ID]; !ok {
		return fmt.Errorf("update scheduled job %s: %w", cfg.ID, domain.ErrScheduleNotFound)
	}
	s.schedules[cfg.ID] = cfg.Clone()
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*domain.ScheduledJobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("get scheduled job %s: %w", id, domain.ErrScheduleNotFound)
	}
	return cfg.Clone(), nil
}

func (s *Store) GetScheduleByName(ctx context.Context, name string) (*domain.ScheduledJobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cfg := range s.schedules {
		if cfg.Name == name {
			return cfg.Clone(), nil
		}
	}
	return nil, fmt.Errorf("get scheduled job %q: %w", name, domain.ErrScheduleNotFound)
}

func (s *Store) ListSchedules(ctx context.Context) ([]*domain.ScheduledJobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.ScheduledJobConfig, 0, len(s.schedules))
	for _, cfg := range s.schedules {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("delete scheduled job %s: %w", id, domain.ErrScheduleNotFound)
	}
	delete(s.schedules, id)
	return nil
}

func (s *Store) InsertFile(ctx context.Context, f *domain.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[f.ID]; ok {
		return fmt.Errorf("file %s: %w", f.ID, domain.ErrDuplicate)
	}
	c := *f
	s.files[f.ID] = &c
	return nil
}

func (s *Store) DeleteFiles(ctx context.Context, filter storage.FileFilter, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []*domain.FileRecord
	for _, f := range s.files {
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !f.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if !filter.ExpiresBefore.IsZero() && (f.ExpiresAt == nil || !f.ExpiresAt.Before(filter.ExpiresBefore)) {
			continue
		}
		victims = append(victims, f)
	}
	sortFiles(victims)
	if limit > 0 && len(victims) > limit {
		victims = victims[:limit]
	}

	for _, f := range victims {
		delete(s.files, f.ID)
	}
	return len(victims), nil
}

func (s *Store) DeleteDuplicateFiles(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*domain.FileRecord, 0, len(s.files))
	for _, f := range s.files {
		all = append(all, f)
	}
	sortFiles(all)

	seen := make(map[string]bool)
	var victims []*domain.FileRecord
	for _, f := range all {
		if f.Checksum == "" {
			continue
		}
		if seen[f.Checksum] {
			victims = append(victims, f)
			continue
		}
		seen[f.Checksum] = true
	}
	if limit > 0 && len(victims) > limit {
		victims = victims[:limit]
	}

	for _, f := range victims {
		delete(s.files, f.ID)
	}
	return len(victims), nil
}

func (s *Store) CountFiles(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files), nil
}

func (s *Store) InsertSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrDuplicate)
	}
	c := *sess
	s.sessions[sess.ID] = &c
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []*domain.Session
	for _, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			victims = append(victims, sess)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		if !victims[i].ExpiresAt.Equal(victims[j].ExpiresAt) {
			return victims[i].ExpiresAt.Before(victims[j].ExpiresAt)
		}
		return victims[i].ID < victims[j].ID
	})
	if limit > 0 && len(victims) > limit {
		victims = victims[:limit]
	}

	for _, sess := range victims {
		delete(s.sessions, sess.ID)
	}
	return len(victims), nil
}

func (s *Store) CountSessions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

func sortByCreated(jobs []*domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func sortFiles(files []*domain.FileRecord) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].CreatedAt.Before(files[j].CreatedAt)
		}
		return files[i].ID < files[j].ID
	})
}

func truncate(jobs []*domain.Job, limit int) []*domain.Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}
