// Package worker runs video jobs taken from the queue: it drives the provider
// render, stores the result and records every step on the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/digkill/lookstudio/internal/kie"
	"github.com/digkill/lookstudio/internal/models"
)

const resultFolder = "videos"

// JobStore is the part of the job repository the worker writes through. Every
// status write is guarded, so a false result means someone else moved the job.
type JobStore interface {
	Get(ctx context.Context, id int64) (*models.VideoJob, error)
	Claim(ctx context.Context, id int64) (bool, error)
	UpdateProgress(ctx context.Context, id int64, percent int, message string) (bool, error)
	SetOperation(ctx context.Context, id int64, operation string) error
	SetProviderResult(ctx context.Context, id int64, uri string, response []byte) error
	MarkSucceeded(ctx context.Context, id int64, resultURL string) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)
	AppendLog(ctx context.Context, id int64, level models.LogLevel, message string) error
	ListStaleRunning(ctx context.Context, olderThan time.Duration) ([]int64, error)
}

type Generator interface {
	StartVideo(ctx context.Context, req kie.VideoRequest) (string, error)
	VideoStatus(ctx context.Context, taskID, resolution string) (*kie.VideoResult, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type ContentStore interface {
	Put(ctx context.Context, data []byte, contentType, folder string) (string, error)
	Delete(ctx context.Context, url string) (bool, error)
}

// Notifier hears about jobs that reached SUCCEEDED or FAILED.
type Notifier interface {
	JobFinished(ctx context.Context, job *models.VideoJob)
}

type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// errStopped means the job left RUNNING under the worker, through a cancel or
// delete. The worker stops without writing anything else.
var errStopped = errors.New("job no longer running")

type Processor struct {
	jobs         JobStore
	generator    Generator
	content      ContentStore
	notifier     Notifier
	log          *slog.Logger
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
}

func NewProcessor(jobs JobStore, generator Generator, content ContentStore, notifier Notifier, opts Options, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	return &Processor{
		jobs:         jobs,
		generator:    generator,
		content:      content,
		notifier:     notifier,
		log:          log,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		now:          time.Now,
	}
}

type nopNotifier struct{}

func (nopNotifier) JobFinished(context.Context, *models.VideoJob) {}

// Process handles one delivery. Job outcomes are recorded on the job itself;
// an error is returned only when the job could not be read or claimed, so the
// queue delivers it again.
func (p *Processor) Process(ctx context.Context, jobID int64) error {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load video job %d: %w", jobID, err)
	}
	if job == nil {
		p.log.Warn("video job not found, dropping delivery", "job_id", jobID)
		return nil
	}

	switch job.Status {
	case models.JobPending:
		ok, err := p.jobs.Claim(ctx, jobID)
		if err != nil {
			return fmt.Errorf("claim video job %d: %w", jobID, err)
		}
		if !ok {
			p.log.Info("video job changed before claim, skipping", "job_id", jobID)
			return nil
		}
		job.Status = models.JobRunning
	case models.JobRunning:
		// A previous worker died mid-job; the render state is unknown.
		p.fail(ctx, job, "Worker interrupted while processing the job")
		return nil
	case models.JobCancelled, models.JobDeleted:
		p.log.Info("video job withdrawn before processing", "job_id", jobID, "status", job.Status)
		p.removeInputs(ctx, job)
		return nil
	case models.JobSucceeded, models.JobFailed:
		p.log.Info("video job already finished, skipping", "job_id", jobID, "status", job.Status)
		return nil
	default:
		p.log.Error("video job has unknown status", "job_id", jobID, "status", job.Status)
		return nil
	}

	p.run(ctx, job)
	return nil
}

func (p *Processor) run(ctx context.Context, job *models.VideoJob) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("video job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			p.fail(ctx, job, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()

	started := p.now()
	err := p.execute(ctx, job)
	switch {
	case err == nil:
		p.log.Info("video job succeeded", "job_id", job.ID, "duration", p.now().Sub(started).Round(time.Second))
	case errors.Is(err, errStopped):
		p.log.Info("video job withdrawn while running", "job_id", job.ID)
		p.removeInputs(ctx, job)
	case ctx.Err() != nil:
		p.fail(ctx, job, "Worker stopped before the job finished")
	default:
		p.fail(ctx, job, err.Error())
	}
}

func (p *Processor) execute(ctx context.Context, job *models.VideoJob) error {
	if err := p.progress(ctx, job, 5, "Preparing generation"); err != nil {
		return err
	}
	p.appendLog(ctx, job.ID, models.LogInfo, fmt.Sprintf("Parameters: model=%s resolution=%s aspect_ratio=%s duration=%ds audio=%t",
		job.Model, job.Resolution, job.AspectRatio, job.DurationSeconds, job.GenerateAudio))
	req := kie.VideoRequest{
		Model:              job.Model,
		Prompt:             job.Prompt,
		AspectRatio:        job.AspectRatio,
		Resolution:         job.Resolution,
		InputImageURL:      job.InputImageURL,
		EndImageURL:        job.EndImageURL,
		ReferenceImageURLs: job.ReferenceImageURLs,
		DurationSeconds:    job.DurationSeconds,
		GenerateAudio:      job.GenerateAudio,
	}
	if err := p.progress(ctx, job, 10, fmt.Sprintf("Inputs ready (%d images)", len(job.InputURLs()))); err != nil {
		return err
	}

	taskID, err := p.generator.StartVideo(ctx, req)
	if err != nil {
		return fmt.Errorf("Failed to start generation: %w", err)
	}
	if err := p.jobs.SetOperation(ctx, job.ID, taskID); err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	job.OperationName = taskID
	if err := p.progress(ctx, job, 15, "Generation started"); err != nil {
		return err
	}

	result, err := p.poll(ctx, job, taskID)
	if err != nil {
		return err
	}
	if err := p.jobs.SetProviderResult(ctx, job.ID, result.ResultURL, result.Raw); err != nil {
		return fmt.Errorf("record provider result: %w", err)
	}
	if err := p.progress(ctx, job, 70, "Video rendered"); err != nil {
		return err
	}

	if err := p.progress(ctx, job, 75, "Downloading video"); err != nil {
		return err
	}
	data, contentType, err := p.generator.Download(ctx, result.ResultURL)
	if err != nil {
		return fmt.Errorf("Failed to download video: %w", err)
	}
	if err := p.progress(ctx, job, 85, fmt.Sprintf("Video downloaded (%d bytes)", len(data))); err != nil {
		return err
	}

	if err := p.progress(ctx, job, 90, "Uploading video"); err != nil {
		return err
	}
	url, err := p.content.Put(ctx, data, contentType, resultFolder)
	if err != nil {
		return fmt.Errorf("Failed to store video: %w", err)
	}

	ok, err := p.jobs.MarkSucceeded(ctx, job.ID, url)
	if err != nil {
		p.deleteQuietly(ctx, url)
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	if !ok {
		p.deleteQuietly(ctx, url)
		return errStopped
	}
	job.Status = models.JobSucceeded
	job.ResultURL = url
	job.ProgressPercentage = 100
	p.appendLog(ctx, job.ID, models.LogInfo, "Video generated successfully")
	p.removeInputs(ctx, job)
	p.notifier.JobFinished(ctx, job)
	return nil
}

// poll waits for the render, bounded by the wall-clock timeout. Progress moves
// from 15 toward 65 with elapsed time.
func (p *Processor) poll(ctx context.Context, job *models.VideoJob, taskID string) (*kie.VideoResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := p.now()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, p.timeoutError()
		case <-ticker.C:
		}

		res, err := p.generator.VideoStatus(pollCtx, taskID, job.Resolution)
		if err != nil {
			if pollCtx.Err() != nil {
				continue
			}
			// A failed status check ends the job; it is not retried.
			return nil, fmt.Errorf("Failed to check generation status: %w", err)
		}

		switch res.State {
		case kie.VideoSucceeded:
			if res.ResultURL == "" {
				return nil, errors.New("Generation finished without a video URL")
			}
			return res, nil
		case kie.VideoFailed:
			msg := res.Message
			if msg == "" {
				msg = "provider reported a failure"
			}
			return nil, fmt.Errorf("Generation failed: %s", msg)
		case kie.VideoRunning:
			elapsed := p.now().Sub(started)
			percent := min(15+int(float64(elapsed)/float64(p.timeout)*50), 65)
			if err := p.progress(ctx, job, percent, "Rendering video"); err != nil {
				return nil, err
			}
		}
	}
}

func (p *Processor) timeoutError() error {
	return fmt.Errorf("Timeout: video was not ready after %s", p.timeout)
}

// progress raises the job's progress and logs the step. It returns errStopped
// when the job is no longer RUNNING.
func (p *Processor) progress(ctx context.Context, job *models.VideoJob, percent int, message string) error {
	ok, err := p.jobs.UpdateProgress(ctx, job.ID, percent, message)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if !ok {
		return errStopped
	}
	if percent > job.ProgressPercentage {
		job.ProgressPercentage = percent
	}
	p.appendLog(ctx, job.ID, models.LogInfo, fmt.Sprintf("%s (%d%%)", message, percent))
	return nil
}

// fail marks the job FAILED. Writes use a context detached from ctx so a
// shutting down worker still records the outcome.
func (p *Processor) fail(ctx context.Context, job *models.VideoJob, reason string) {
	ctx = context.WithoutCancel(ctx)
	ok, err := p.jobs.MarkFailed(ctx, job.ID, reason)
	if err != nil {
		p.log.Error("mark video job failed", "job_id", job.ID, "reason", reason, "err", err)
		return
	}
	if !ok {
		p.log.Info("video job left RUNNING before it could be failed", "job_id", job.ID)
		p.removeInputs(ctx, job)
		return
	}
	p.log.Warn("video job failed", "job_id", job.ID, "reason", reason)
	p.appendLog(ctx, job.ID, models.LogError, reason)
	p.removeInputs(ctx, job)

	job.Status = models.JobFailed
	job.ErrorMessage = reason
	p.notifier.JobFinished(ctx, job)
}

func (p *Processor) appendLog(ctx context.Context, id int64, level models.LogLevel, message string) {
	if err := p.jobs.AppendLog(ctx, id, level, message); err != nil {
		p.log.Warn("append job log failed", "job_id", id, "err", err)
	}
}

func (p *Processor) removeInputs(ctx context.Context, job *models.VideoJob) {
	for _, url := range job.InputURLs() {
		p.deleteQuietly(ctx, url)
	}
}

func (p *Processor) deleteQuietly(ctx context.Context, url string) {
	if _, err := p.content.Delete(context.WithoutCancel(ctx), url); err != nil {
		p.log.Warn("delete stored file failed", "url", url, "err", err)
	}
}
