package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisQueue is a reliable list queue: deliveries move atomically from the
// pending list to a processing list and stay there until acknowledged. A
// per-job lock key, refreshed while the handler runs, keeps a job with a
// single active consumer.
type RedisQueue struct {
	client  redis.UniversalClient
	name    string
	lockTTL time.Duration
	block   time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	suspects map[string]struct{}
}

type RedisOptions struct {
	Name    string
	LockTTL time.Duration
	// Block bounds a single BLMOVE wait so ctx cancellation is noticed.
	Block time.Duration
}

func NewRedisQueue(client redis.UniversalClient, opts RedisOptions, log *slog.Logger) *RedisQueue {
	name := strings.TrimSuffix(strings.TrimSpace(opts.Name), ":")
	if name == "" {
		name = "video_jobs"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisQueue{
		client:   client,
		name:     name,
		lockTTL:  opts.LockTTL,
		block:    opts.Block,
		log:      log,
		suspects: make(map[string]struct{}),
	}
}

func (q *RedisQueue) pendingKey() string    { return q.name + ":pending" }
func (q *RedisQueue) processingKey() string { return q.name + ":processing" }
func (q *RedisQueue) lockKey(id string) string {
	return q.name + ":lock:" + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID int64) error {
	if err := q.client.LPush(ctx, q.pendingKey(), encodeJobID(jobID)).Err(); err != nil {
		return fmt.Errorf("enqueue job %d: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	consumer := uuid.NewString()
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", q.block).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.log.Error("queue receive failed", "queue", q.name, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		q.deliver(ctx, consumer, raw, h)
	}
}

func (q *RedisQueue) deliver(ctx context.Context, consumer, raw string, h Handler) {
	// Acks must reach Redis even when the consumer is shutting down.
	bg := context.WithoutCancel(ctx)

	id, err := decodeJobID(raw)
	if err != nil {
		q.log.Warn("dropping malformed delivery", "queue", q.name, "payload", raw)
		q.client.LRem(bg, q.processingKey(), 1, raw)
		return
	}

	ok, err := q.client.SetNX(bg, q.lockKey(raw), consumer, q.lockTTL).Result()
	if err != nil {
		q.log.Error("acquire job lock failed", "job_id", id, "err", err)
		q.requeue(bg, raw)
		return
	}
	if !ok {
		q.log.Warn("job already held by another consumer, dropping duplicate", "job_id", id)
		q.client.LRem(bg, q.processingKey(), 1, raw)
		return
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.heartbeat(bg, raw, consumer, stop)
	}()

	herr := h(ctx, id)
	close(stop)
	wg.Wait()

	if herr != nil {
		q.log.Error("job handler failed, requeueing", "job_id", id, "err", herr)
		q.requeue(bg, raw)
	} else if err := q.client.LRem(bg, q.processingKey(), 1, raw).Err(); err != nil {
		q.log.Error("ack job failed", "job_id", id, "err", err)
	}
	if err := releaseLockScript.Run(bg, q.client, []string{q.lockKey(raw)}, consumer).Err(); err != nil {
		q.log.Warn("release job lock failed", "job_id", id, "err", err)
	}
}

func (q *RedisQueue) heartbeat(ctx context.Context, raw, consumer string, stop <-chan struct{}) {
	ticker := time.NewTicker(q.lockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := refreshLockScript.Run(ctx, q.client, []string{q.lockKey(raw)}, consumer, q.lockTTL.Milliseconds()).Err()
			if err != nil {
				q.log.Warn("refresh job lock failed", "job", raw, "err", err)
			}
		}
	}
}

func (q *RedisQueue) requeue(ctx context.Context, raw string) {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(), 1, raw)
		p.RPush(ctx, q.pendingKey(), raw)
		return nil
	})
	if err != nil {
		q.log.Error("requeue job failed", "job", raw, "err", err)
	}
}

// RequeueExpired moves processing entries whose lock has expired back to the
// head of the pending list. An entry must be seen unlocked on two consecutive
// sweeps, which leaves a consumer time to take the lock right after BLMOVE.
func (q *RedisQueue) RequeueExpired(ctx context.Context) (int, error) {
	items, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]struct{}, len(items))
	requeued := 0
	for _, raw := range items {
		n, err := q.client.Exists(ctx, q.lockKey(raw)).Result()
		if err != nil {
			return requeued, fmt.Errorf("check lock: %w", err)
		}
		if n > 0 {
			continue
		}
		if _, ok := q.suspects[raw]; !ok {
			seen[raw] = struct{}{}
			continue
		}
		q.requeue(ctx, raw)
		requeued++
		q.log.Warn("requeued job with expired lock", "job", raw)
	}
	q.suspects = seen
	return requeued, nil
}

// Depth reports pending and in-flight counts.
func (q *RedisQueue) Depth(ctx context.Context) (pending, processing int64, err error) {
	pending, err = q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.client.LLen(ctx, q.processingKey()).Result()
	return pending, processing, err
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
