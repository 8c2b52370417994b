package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/digkill/lookstudio/internal/api"
	"github.com/digkill/lookstudio/internal/app"
	"github.com/digkill/lookstudio/internal/auth"
	"github.com/digkill/lookstudio/internal/config"
	"github.com/digkill/lookstudio/internal/repository"
	"github.com/digkill/lookstudio/internal/service"
	"github.com/digkill/lookstudio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
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

	jobQueue, _, err := app.OpenQueue(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	defer jobQueue.Close()

	kieClient := app.NewKIEClient(cfg, logr)

	userRepo := repository.NewUserRepository(db)
	jobRepo := repository.NewVideoJobRepository(db)
	lookRepo := repository.NewLookRepository(db)

	tokenService := service.NewTokenService(repository.NewSubscriptionRepository(db), logr)
	userService := service.NewUserService(userRepo, logr)

	if _, err := userService.EnsureAdmin(ctx, cfg.FirstAdminEmail); err != nil {
		log.Fatalf("ensure admin: %v", err)
	}

	services := api.Services{
		Tokens:     tokenService,
		Videos:     service.NewVideoService(tokenService, jobRepo, lookRepo, content, jobQueue, cfg.VideoModel, logr),
		Looks:      service.NewLookService(lookRepo, content, logr),
		Generation: service.NewGenerationService(tokenService, content, kieClient, logr),
		Users:      userService,
		Settings:   service.NewSettingsService(repository.NewSettingsRepository(db), cfg.VideoModel),
	}

	server := api.NewServer(api.Options{
		Addr:           cfg.HTTPListenAddr,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	}, auth.NewVerifier(cfg.JWTSecret, userRepo), services, logr)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}
