package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meetingScribe/api/storage"
	"meetingScribe/worker/cache"
	"meetingScribe/worker/config"
	"meetingScribe/worker/intelligence"
	"meetingScribe/worker/kafka"
	"meetingScribe/worker/pool"
	"meetingScribe/worker/repository"
	"meetingScribe/worker/retry"
	"meetingScribe/worker/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	store, err := storage.NewStore(ctx, storage.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		logger.Fatal("Failed to create object store", zap.Error(err))
	}

	intel := intelligence.NewClient(intelligence.Config{
		BaseURL:            cfg.IntelligenceBaseURL,
		APIKey:             cfg.IntelligenceAPIKey,
		TranscriptionModel: cfg.TranscriptionModel,
		CompletionModel:    cfg.CompletionModel,
		Timeout:            time.Duration(cfg.IntelligenceTimeoutSec) * time.Second,
	})

	processor := service.NewProcessor(
		repository.NewPostgresRepo(db),
		cache.NewStatusCache(redisClient),
		store,
		intel,
		retry.New(cfg.MaxRetries),
		logger,
	)

	consumer, err := kafka.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID)
	if err != nil {
		logger.Fatal("Failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	workers := pool.NewWorkerPool(cfg.WorkerCount)

	logger.Info("Worker service started",
		zap.String("topic", cfg.KafkaTopic),
		zap.Int("worker_count", cfg.WorkerCount),
		zap.Int("max_retries", cfg.MaxRetries),
	)

	for {
		err := consumer.Consume(ctx, cfg.KafkaTopic, func(ctx context.Context, msg *kafka.IngestMessage) error {
			workers.Submit(ctx, msg, processor.Process)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Consumer error", zap.Error(err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	logger.Info("Shutting down, draining in-flight jobs")
	workers.Wait()
}
