// Package app wires the shared infrastructure used by the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"github.com/digkill/lookstudio/internal/config"
	"github.com/digkill/lookstudio/internal/database"
	"github.com/digkill/lookstudio/internal/kie"
	"github.com/digkill/lookstudio/internal/queue"
	"github.com/digkill/lookstudio/internal/storage"
	"github.com/digkill/lookstudio/internal/telegram"
	"github.com/digkill/lookstudio/internal/worker"
)

// OpenDatabase connects to MySQL and applies the bootstrap schema.
func OpenDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := database.Connect(cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("database connect: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migrate: %w", err)
	}
	return db, nil
}

func NewContentStore(cfg config.Config) (*storage.Store, error) {
	return storage.NewStore(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
}

func NewKIEClient(cfg config.Config, log *slog.Logger) *kie.Client {
	return kie.NewClient(kie.Options{
		APIKey:            cfg.KIEAPIKey,
		BaseURL:           cfg.KIEBaseURL,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.KIERequestsPerSecond,
	}, log)
}

// OpenQueue connects the configured queue driver. The redis queue is also
// returned as a requeuer for the sweeper; it is nil for amqp, where the broker
// redelivers unacknowledged messages itself.
func OpenQueue(ctx context.Context, cfg config.Config, log *slog.Logger) (queue.Queue, worker.Requeuer, error) {
	switch cfg.QueueDriver {
	case "amqp":
		q, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.QueueName, log)
		if err != nil {
			return nil, nil, err
		}
		return q, nil, nil
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		q := queue.NewRedisQueue(client, queue.RedisOptions{Name: cfg.QueueName, LockTTL: cfg.QueueLockTTL}, log)
		return q, q, nil
	}
}

// NewNotifier returns the telegram ops notifier, or nil when it is not configured.
func NewNotifier(cfg config.Config, log *slog.Logger) (worker.Notifier, error) {
	if cfg.TelegramBotToken == "" || cfg.TelegramOpsChatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return telegram.NewNotifier(bot, cfg.TelegramOpsChatID, log), nil
}
