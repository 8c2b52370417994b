package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/digkill/lookstudio/internal/queue"
)

// Consumer feeds deliveries to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h queue.Handler) error
}

// Pool runs size consumers side by side. Each consumer handles one job at a
// time.
type Pool struct {
	consumer Consumer
	handler  queue.Handler
	size     int
	log      *slog.Logger
}

func NewPool(consumer Consumer, handler queue.Handler, size int, log *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{consumer: consumer, handler: handler, size: size, log: log}
}

// Run blocks until ctx is done or a consumer fails. A failing consumer stops
// the others.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.log.Info("video worker started", "slot", slot)
			err := p.consumer.Consume(ctx, p.handler)
			if err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error("video worker stopped", "slot", slot, "err", err)
				once.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			p.log.Info("video worker stopped", "slot", slot)
		}(i + 1)
	}
	wg.Wait()
	return firstErr
}
