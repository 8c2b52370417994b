package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
	"github.com/digkill/lookstudio/internal/settings"
)

const (
	maxReferenceImages = 3
	inputFolder        = "video-inputs"
)

var videoModels = map[string]bool{"veo3": true, "veo3_fast": true}

// Upload is an input image received with a job submission.
type Upload struct {
	Data        []byte
	ContentType string
}

type SubmitParams struct {
	Prompt          string
	Model           string
	Resolution      string
	AspectRatio     string
	DurationSeconds int
	GenerateAudio   bool
	LookID          *int64
	InitialImage    *Upload
	EndImage        *Upload
	References      []Upload
}

// VideoService admits video jobs and manages them afterwards. Admission charges
// tokens first and refunds them on every rejection that happens before the job
// row exists.
type VideoService struct {
	tokens       *TokenService
	jobs         JobStore
	looks        LookStore
	content      ContentStore
	queue        Enqueuer
	log          *slog.Logger
	defaultModel string
}

func NewVideoService(tokens *TokenService, jobs JobStore, looks LookStore, content ContentStore, queue Enqueuer, defaultModel string, log *slog.Logger) *VideoService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if defaultModel == "" {
		defaultModel = "veo3_fast"
	}
	return &VideoService{
		tokens:       tokens,
		jobs:         jobs,
		looks:        looks,
		content:      content,
		queue:        queue,
		log:          log,
		defaultModel: defaultModel,
	}
}

func (s *VideoService) Submit(ctx context.Context, user *models.User, p SubmitParams) (*models.VideoJob, error) {
	charge, err := s.tokens.Consume(ctx, user.ID, models.OpVideoGeneration, "Video generation")
	if err != nil {
		return nil, err
	}
	if !charge.Success {
		return nil, apperr.PaymentRequired(charge.Message, charge.Cost, charge.AvailableTokens)
	}
	// Compensating writes must land even when the request itself was cancelled.
	cleanupCtx := context.WithoutCancel(ctx)
	refund := func(reason string) {
		if _, err := s.tokens.Refund(cleanupCtx, user.ID, charge.Cost, "Refund: "+reason); err != nil {
			s.log.Error("refund video charge failed", "user_id", user.ID, "amount", charge.Cost, "err", err)
		}
	}

	active, err := s.jobs.CountActive(ctx, user.ID)
	if err != nil {
		refund("job admission failed")
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= models.MaxActiveJobsPerUser {
		refund("too many concurrent video jobs")
		return nil, tooManyJobs()
	}

	if err := s.validate(ctx, user, &p); err != nil {
		refund("invalid video request")
		return nil, err
	}

	job := &models.VideoJob{
		UserID:          user.ID,
		LookID:          p.LookID,
		Prompt:          p.Prompt,
		Model:           p.Model,
		Resolution:      p.Resolution,
		AspectRatio:     p.AspectRatio,
		DurationSeconds: p.DurationSeconds,
		GenerateAudio:   p.GenerateAudio,
		TokensConsumed:  charge.Cost,
		StatusMessage:   "Queued",
	}
	if err := s.storeInputs(ctx, job, p); err != nil {
		s.removeInputs(cleanupCtx, job)
		refund("input upload failed")
		return nil, apperr.Wrap(apperr.KindStorageError, err, "failed to store input images")
	}
	job.RequestSnapshot = requestSnapshot(job)

	logs := []string{
		"Job created",
		fmt.Sprintf("Charged %d tokens", charge.Cost),
	}
	if err := s.jobs.CreateWithLimit(ctx, job, models.MaxActiveJobsPerUser, logs); err != nil {
		s.removeInputs(cleanupCtx, job)
		switch {
		case errors.Is(err, repository.ErrActiveJobLimit):
			refund("too many concurrent video jobs")
			return nil, tooManyJobs()
		case errors.Is(err, repository.ErrNotFound):
			refund("user not found")
			return nil, apperr.NotFound("user %d not found", user.ID)
		default:
			refund("job creation failed")
			return nil, fmt.Errorf("create video job: %w", err)
		}
	}
	s.log.Info("video job created", "job_id", job.ID, "user_id", user.ID, "model", job.Model, "resolution", job.Resolution)

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.log.Error("enqueue video job failed", "job_id", job.ID, "err", err)
		reason := "Failed to enqueue job: " + err.Error()
		if _, ferr := s.jobs.MarkFailed(cleanupCtx, job.ID, reason); ferr != nil {
			s.log.Error("mark unqueued job failed", "job_id", job.ID, "err", ferr)
		}
		if lerr := s.jobs.AppendLog(cleanupCtx, job.ID, models.LogError, reason); lerr != nil {
			s.log.Error("append job log failed", "job_id", job.ID, "err", lerr)
		}
		job.Status = models.JobFailed
		job.ErrorMessage = reason
		return job, nil
	}
	return job, nil
}

func tooManyJobs() error {
	return apperr.New(apperr.KindTooManyConcurrentJobs,
		"you already have %d video jobs in progress; wait for one to finish", models.MaxActiveJobsPerUser)
}

func (s *VideoService) validate(ctx context.Context, user *models.User, p *SubmitParams) error {
	p.Prompt = strings.TrimSpace(p.Prompt)
	if p.Model == "" {
		p.Model = s.defaultModel
	}
	if !videoModels[p.Model] {
		return apperr.BadRequest("unsupported model %q", p.Model)
	}
	if p.Resolution == "" {
		p.Resolution = "720p"
	}
	if !settings.ValidResolution(p.Resolution) {
		return apperr.BadRequest("resolution must be 720p or 1080p")
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}
	if !settings.ValidAspectRatio(p.AspectRatio) {
		return apperr.BadRequest("aspect ratio must be 16:9 or 9:16")
	}
	switch p.DurationSeconds {
	case 0, 4, 6, 8:
	default:
		return apperr.BadRequest("duration must be 4, 6 or 8 seconds")
	}
	if p.Prompt == "" && p.InitialImage == nil {
		return apperr.BadRequest("a prompt or an initial image is required")
	}
	if p.EndImage != nil && p.InitialImage == nil {
		return apperr.BadRequest("an end frame requires an initial image")
	}
	if p.InitialImage != nil && len(p.References) > 0 {
		return apperr.BadRequest("reference images cannot be combined with an initial image")
	}
	if len(p.References) > maxReferenceImages {
		return apperr.BadRequest("at most %d reference images are allowed", maxReferenceImages)
	}
	if p.LookID != nil {
		if _, err := s.ownedLook(ctx, user, *p.LookID); err != nil {
			return err
		}
	}
	return nil
}

func (s *VideoService) storeInputs(ctx context.Context, job *models.VideoJob, p SubmitParams) error {
	put := func(u *Upload) (string, error) {
		return s.content.Put(ctx, u.Data, u.ContentType, inputFolder)
	}
	var err error
	if p.InitialImage != nil {
		if job.InputImageURL, err = put(p.InitialImage); err != nil {
			return err
		}
	}
	if p.EndImage != nil {
		if job.EndImageURL, err = put(p.EndImage); err != nil {
			return err
		}
	}
	for i := range p.References {
		url, err := put(&p.References[i])
		if err != nil {
			return err
		}
		job.ReferenceImageURLs = append(job.ReferenceImageURLs, url)
	}
	return nil
}

func (s *VideoService) removeInputs(ctx context.Context, job *models.VideoJob) {
	for _, url := range job.InputURLs() {
		if _, err := s.content.Delete(ctx, url); err != nil {
			s.log.Warn("delete input image failed", "url", url, "err", err)
		}
	}
}

func requestSnapshot(job *models.VideoJob) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"prompt":             job.Prompt,
		"model":              job.Model,
		"resolution":         job.Resolution,
		"aspectRatio":        job.AspectRatio,
		"durationSeconds":    job.DurationSeconds,
		"generateAudio":      job.GenerateAudio,
		"inputImageUrl":      job.InputImageURL,
		"endImageUrl":        job.EndImageURL,
		"referenceImageUrls": job.ReferenceImageURLs,
	})
	return raw
}

// Get returns a job with its logs. Jobs of other users look missing unless the
// caller is an admin.
func (s *VideoService) Get(ctx context.Context, user *models.User, id int64) (*models.VideoJob, error) {
	job, err := s.visibleJob(ctx, user, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.jobs.Logs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	job.Logs = logs
	return job, nil
}

func (s *VideoService) visibleJob(ctx context.Context, user *models.User, id int64) (*models.VideoJob, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get video job: %w", err)
	}
	if job == nil || (job.UserID != user.ID && !user.IsAdmin()) {
		return nil, apperr.NotFound("video job %d not found", id)
	}
	return job, nil
}

func (s *VideoService) List(ctx context.Context, userID int64, status models.JobStatus, limit, offset int) ([]models.VideoJob, error) {
	limit, offset = pageBounds(limit, offset)
	jobs, err := s.jobs.List(ctx, repository.JobFilter{UserID: userID, Status: status, HideDeleted: true, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	return nonNilJobs(jobs), nil
}

// ListAll is the admin monitor view across users; userID 0 means everyone.
func (s *VideoService) ListAll(ctx context.Context, userID int64, status models.JobStatus, limit, offset int) ([]models.VideoJob, error) {
	limit, offset = pageBounds(limit, offset)
	jobs, err := s.jobs.List(ctx, repository.JobFilter{UserID: userID, Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	return nonNilJobs(jobs), nil
}

func nonNilJobs(jobs []models.VideoJob) []models.VideoJob {
	if jobs == nil {
		return []models.VideoJob{}
	}
	return jobs
}

func (s *VideoService) DownloadURL(ctx context.Context, user *models.User, id int64) (string, error) {
	job, err := s.visibleJob(ctx, user, id)
	if err != nil {
		return "", err
	}
	if job.Status != models.JobSucceeded || job.ResultURL == "" {
		return "", apperr.BadRequest("video job %d is %s, no video to download", id, job.Status)
	}
	return job.ResultURL, nil
}

// Cancel marks a waiting or running job CANCELLED. An in-flight provider render
// is not stopped; the worker notices the status and discards the result.
func (s *VideoService) Cancel(ctx context.Context, user *models.User, id int64) (*models.VideoJob, error) {
	job, err := s.visibleJob(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, apperr.BadRequest("video job %d is already %s", id, job.Status)
	}
	ok, err := s.jobs.Override(ctx, id, models.JobCancelled, "Cancelled by user")
	if err != nil {
		return nil, fmt.Errorf("cancel video job: %w", err)
	}
	if !ok {
		return nil, apperr.BadRequest("video job %d finished before it could be cancelled", id)
	}
	if err := s.jobs.AppendLog(ctx, id, models.LogWarning, "Job cancelled"); err != nil {
		s.log.Warn("append job log failed", "job_id", id, "err", err)
	}
	s.log.Info("video job cancelled", "job_id", id, "by", user.ID)
	return s.Get(ctx, user, id)
}

// Delete soft-deletes an unfinished job so the worker's guarded writes stop
// applying to it, and removes a finished job together with its stored files.
// Tokens are not refunded.
func (s *VideoService) Delete(ctx context.Context, user *models.User, id int64) error {
	job, err := s.visibleJob(ctx, user, id)
	if err != nil {
		return err
	}

	if !job.Status.IsTerminal() {
		ok, err := s.jobs.Override(ctx, id, models.JobDeleted, "Deleted by user")
		if err != nil {
			return fmt.Errorf("delete video job: %w", err)
		}
		if ok {
			if err := s.jobs.AppendLog(ctx, id, models.LogWarning, "Job deleted"); err != nil {
				s.log.Warn("append job log failed", "job_id", id, "err", err)
			}
			s.log.Info("video job marked deleted", "job_id", id, "by", user.ID)
			return nil
		}
		// Finished meanwhile; reload and remove it for real.
		if job, err = s.visibleJob(ctx, user, id); err != nil {
			return err
		}
	}

	ok, err := s.jobs.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete video job: %w", err)
	}
	if !ok {
		return apperr.NotFound("video job %d not found", id)
	}
	urls := job.InputURLs()
	if job.ResultURL != "" {
		urls = append(urls, job.ResultURL)
	}
	for _, url := range urls {
		if _, err := s.content.Delete(ctx, url); err != nil {
			s.log.Warn("delete stored video file failed", "job_id", id, "url", url, "err", err)
		}
	}
	s.log.Info("video job deleted", "job_id", id, "by", user.ID)
	return nil
}

func (s *VideoService) ownedLook(ctx context.Context, user *models.User, lookID int64) (*models.Look, error) {
	look, err := s.looks.Get(ctx, lookID)
	if err != nil {
		return nil, fmt.Errorf("get look: %w", err)
	}
	if look == nil {
		return nil, apperr.NotFound("look %d not found", lookID)
	}
	if look.UserID != user.ID && !user.IsAdmin() {
		return nil, apperr.Forbidden("look %d belongs to another user", lookID)
	}
	return look, nil
}

// AttachToLook links an existing job of the user to one of their looks.
func (s *VideoService) AttachToLook(ctx context.Context, user *models.User, lookID, jobID int64) error {
	if _, err := s.ownedLook(ctx, user, lookID); err != nil {
		return err
	}
	job, err := s.visibleJob(ctx, user, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobDeleted {
		return apperr.BadRequest("video job %d is deleted", jobID)
	}
	if err := s.looks.Link(ctx, lookID, jobID); err != nil {
		return fmt.Errorf("link look video: %w", err)
	}
	return nil
}

func (s *VideoService) ListLookVideos(ctx context.Context, user *models.User, lookID int64) ([]models.LookVideo, error) {
	if _, err := s.ownedLook(ctx, user, lookID); err != nil {
		return nil, err
	}
	videos, err := s.looks.ListVideos(ctx, lookID)
	if err != nil {
		return nil, fmt.Errorf("list look videos: %w", err)
	}
	out := make([]models.LookVideo, 0, len(videos))
	for _, lv := range videos {
		job, err := s.jobs.Get(ctx, lv.VideoJobID)
		if err != nil {
			return nil, fmt.Errorf("get video job: %w", err)
		}
		if job == nil || job.Status == models.JobDeleted {
			continue
		}
		lv.Job = job
		out = append(out, lv)
	}
	return out, nil
}

// SetDefaultForLook makes jobID the look's only default video.
func (s *VideoService) SetDefaultForLook(ctx context.Context, user *models.User, lookID, jobID int64) error {
	if _, err := s.ownedLook(ctx, user, lookID); err != nil {
		return err
	}
	if err := s.looks.SetDefault(ctx, lookID, jobID); err != nil {
		if errors.Is(err, repository.ErrNotLinked) {
			return apperr.NotFound("video %d is not linked to look %d", jobID, lookID)
		}
		return fmt.Errorf("set default look video: %w", err)
	}
	s.log.Info("default look video set", "look_id", lookID, "job_id", jobID)
	return nil
}

func (s *VideoService) UnsetDefaultForLook(ctx context.Context, user *models.User, lookID, jobID int64) error {
	if _, err := s.ownedLook(ctx, user, lookID); err != nil {
		return err
	}
	if err := s.looks.UnsetDefault(ctx, lookID, jobID); err != nil {
		return fmt.Errorf("unset default look video: %w", err)
	}
	return nil
}

// RemoveFromLook unlinks the video from the look and deletes the job.
func (s *VideoService) RemoveFromLook(ctx context.Context, user *models.User, lookID, jobID int64) error {
	if _, err := s.ownedLook(ctx, user, lookID); err != nil {
		return err
	}
	ok, err := s.looks.Unlink(ctx, lookID, jobID)
	if err != nil {
		return fmt.Errorf("unlink look video: %w", err)
	}
	if !ok {
		return apperr.NotFound("video %d is not linked to look %d", jobID, lookID)
	}
	return s.Delete(ctx, user, jobID)
}
