package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
)

// Jobs is an in-memory job store with the same status guards as the MySQL one.
type Jobs struct {
	mu     sync.Mutex
	jobs   map[int64]*models.VideoJob
	logs   map[int64][]models.JobLog
	nextID int64

	// Looks receives the look link written by CreateWithLimit.
	Looks *Looks
	// CreateErr, when set, is returned by CreateWithLimit.
	CreateErr error
	// OnProgress runs after every accepted progress update, outside the lock.
	OnProgress func(id int64, percent int)
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[int64]*models.VideoJob), logs: make(map[int64][]models.JobLog)}
}

func copyJob(j *models.VideoJob) *models.VideoJob {
	c := *j
	c.ReferenceImageURLs = append([]string(nil), j.ReferenceImageURLs...)
	c.Logs = nil
	return &c
}

// Insert stores job directly, bypassing the admission limit. Test setup only.
func (s *Jobs) Insert(job models.VideoJob) *models.VideoJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	job.ID = s.nextID
	if job.Status == "" {
		job.Status = models.JobPending
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = copyJob(&job)
	return copyJob(&job)
}

func (s *Jobs) CreateWithLimit(ctx context.Context, job *models.VideoJob, limit int, logs []string) error {
	s.mu.Lock()
	if s.CreateErr != nil {
		s.mu.Unlock()
		return s.CreateErr
	}
	active := 0
	for _, j := range s.jobs {
		if j.UserID == job.UserID && j.Status.IsActive() {
			active++
		}
	}
	if active >= limit {
		s.mu.Unlock()
		return repository.ErrActiveJobLimit
	}
	s.nextID++
	job.ID = s.nextID
	job.Status = models.JobPending
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = copyJob(job)
	for _, msg := range logs {
		s.appendLocked(job.ID, models.LogInfo, msg)
	}
	s.mu.Unlock()

	if job.LookID != nil && s.Looks != nil {
		return s.Looks.Link(ctx, *job.LookID, job.ID)
	}
	return nil
}

func (s *Jobs) Get(_ context.Context, id int64) (*models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return copyJob(j), nil
}

func (s *Jobs) List(_ context.Context, f repository.JobFilter) ([]models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VideoJob
	for _, j := range s.jobs {
		if f.UserID != 0 && j.UserID != f.UserID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.HideDeleted && j.Status == models.JobDeleted {
			continue
		}
		out = append(out, *copyJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	if f.Offset >= len(out) {
		return nil, nil
	}
	end := len(out)
	if f.Limit > 0 {
		end = min(f.Offset+f.Limit, len(out))
	}
	return out[f.Offset:end], nil
}

func (s *Jobs) CountActive(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.UserID == userID && j.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

// transition applies next when the lifecycle allows it.
func (s *Jobs) transition(id int64, next models.JobStatus, apply func(j *models.VideoJob)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.Status.CanTransitionTo(next) {
		return false
	}
	j.Status = next
	now := time.Now().UTC()
	j.UpdatedAt = now
	if next.IsTerminal() {
		j.CompletedAt = &now
	}
	if apply != nil {
		apply(j)
	}
	return true
}

func (s *Jobs) Claim(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	pending := ok && j.Status == models.JobPending
	s.mu.Unlock()
	if !pending {
		return false, nil
	}
	return s.transition(id, models.JobRunning, func(j *models.VideoJob) {
		now := time.Now().UTC()
		j.StartedAt = &now
		j.StatusMessage = "Processing started"
	}), nil
}

func (s *Jobs) UpdateProgress(_ context.Context, id int64, percent int, message string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobRunning {
		s.mu.Unlock()
		return false, nil
	}
	j.ProgressPercentage = max(j.ProgressPercentage, percent)
	j.StatusMessage = message
	j.UpdatedAt = time.Now().UTC()
	hook := s.OnProgress
	s.mu.Unlock()

	if hook != nil {
		hook(id, percent)
	}
	return true, nil
}

func (s *Jobs) SetOperation(_ context.Context, id int64, operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == models.JobRunning {
		j.OperationName = operation
	}
	return nil
}

func (s *Jobs) SetProviderResult(_ context.Context, id int64, uri string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == models.JobRunning {
		j.ProviderResultURI = uri
		j.ProviderResponse = append([]byte(nil), response...)
	}
	return nil
}

func (s *Jobs) MarkSucceeded(_ context.Context, id int64, resultURL string) (bool, error) {
	return s.transition(id, models.JobSucceeded, func(j *models.VideoJob) {
		j.ResultURL = resultURL
		j.ProgressPercentage = 100
		j.StatusMessage = "Video generated successfully"
	}), nil
}

func (s *Jobs) MarkFailed(_ context.Context, id int64, reason string) (bool, error) {
	return s.transition(id, models.JobFailed, func(j *models.VideoJob) {
		j.ErrorMessage = reason
		j.StatusMessage = "Generation failed"
	}), nil
}

func (s *Jobs) Override(_ context.Context, id int64, status models.JobStatus, message string) (bool, error) {
	return s.transition(id, status, func(j *models.VideoJob) {
		j.StatusMessage = message
	}), nil
}

func (s *Jobs) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || !j.Status.IsTerminal() {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.jobs, id)
	delete(s.logs, id)
	s.mu.Unlock()

	if s.Looks != nil {
		s.Looks.dropJob(id)
	}
	return true, nil
}

func (s *Jobs) AppendLog(_ context.Context, id int64, level models.LogLevel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(id, level, message)
	return nil
}

func (s *Jobs) appendLocked(id int64, level models.LogLevel, message string) {
	logs := s.logs[id]
	s.logs[id] = append(logs, models.JobLog{
		ID:         int64(len(logs) + 1),
		VideoJobID: id,
		Level:      level,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *Jobs) Logs(_ context.Context, id int64) ([]models.JobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobLog(nil), s.logs[id]...), nil
}

func (s *Jobs) ListStaleRunning(_ context.Context, olderThan time.Duration) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var ids []int64
	for id, j := range s.jobs {
		if j.Status == models.JobRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids, nil
}

// SetStartedAt backdates a job's start. Test setup only.
func (s *Jobs) SetStartedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.StartedAt = &at
	}
}
