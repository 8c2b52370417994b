package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/digkill/lookstudio/internal/models"
)

// Requeuer returns deliveries abandoned by dead consumers to the queue.
type Requeuer interface {
	RequeueExpired(ctx context.Context) (int, error)
}

// Sweeper fails jobs stuck in RUNNING and, when the queue supports it, puts
// abandoned deliveries back.
type Sweeper struct {
	jobs       JobStore
	requeuer   Requeuer
	notifier   Notifier
	staleAfter time.Duration
	interval   time.Duration
	log        *slog.Logger
}

// NewSweeper builds a sweeper; requeuer may be nil.
func NewSweeper(jobs JobStore, requeuer Requeuer, notifier Notifier, staleAfter, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		jobs:       jobs,
		requeuer:   requeuer,
		notifier:   notifier,
		staleAfter: staleAfter,
		interval:   interval,
		log:        log,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("job sweep failed", "err", err)
			}
		}
	}
}

// Sweep runs one pass and returns how many jobs it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.requeuer != nil {
		n, err := s.requeuer.RequeueExpired(ctx)
		if err != nil {
			s.log.Error("requeue abandoned deliveries failed", "err", err)
		} else if n > 0 {
			s.log.Warn("abandoned deliveries requeued", "count", n)
		}
	}

	ids, err := s.jobs.ListStaleRunning(ctx, s.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	reason := fmt.Sprintf("Job timed out: still running after %s", s.staleAfter)
	failed := 0
	for _, id := range ids {
		ok, err := s.jobs.MarkFailed(ctx, id, reason)
		if err != nil {
			s.log.Error("fail stale job", "job_id", id, "err", err)
			continue
		}
		if !ok {
			continue
		}
		failed++
		if err := s.jobs.AppendLog(ctx, id, models.LogError, reason); err != nil {
			s.log.Warn("append job log failed", "job_id", id, "err", err)
		}
		s.log.Warn("stale video job failed", "job_id", id)
		if job, err := s.jobs.Get(ctx, id); err == nil && job != nil {
			s.notifier.JobFinished(ctx, job)
		}
	}
	return failed, nil
}
