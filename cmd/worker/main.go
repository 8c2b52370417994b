package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/digkill/lookstudio/internal/app"
	"github.com/digkill/lookstudio/internal/config"
	"github.com/digkill/lookstudio/internal/repository"
	"github.com/digkill/lookstudio/internal/worker"
	"github.com/digkill/lookstudio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	content, err := app.NewContentStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	jobQueue, requeuer, err := app.OpenQueue(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	defer jobQueue.Close()

	notifier, err := app.NewNotifier(cfg, logr)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	jobRepo := repository.NewVideoJobRepository(db)
	processor := worker.NewProcessor(jobRepo, app.NewKIEClient(cfg, logr), content, notifier, worker.Options{
		PollInterval: cfg.VideoPollInterval,
		Timeout:      cfg.VideoTimeout,
	}, logr)

	sweeper := worker.NewSweeper(jobRepo, requeuer, notifier, cfg.StaleJobAfter, 0, logr)
	go sweeper.Run(ctx)

	pool := worker.NewPool(jobQueue, processor.Process, cfg.WorkerConcurrency, logr)
	logr.Info("video worker started", "concurrency", cfg.WorkerConcurrency, "queue", cfg.QueueDriver)
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("video worker stopped", "err", err)
	}
}
