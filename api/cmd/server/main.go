package main

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"meetingScribe/api/cache"
	"meetingScribe/api/config"
	"meetingScribe/api/database"
	"meetingScribe/api/handlers"
	"meetingScribe/api/kafka"
	applogger "meetingScribe/api/logger"
	"meetingScribe/api/middleware"
	"meetingScribe/api/migrations"
	"meetingScribe/api/repository"
	"meetingScribe/api/service"
	"meetingScribe/api/storage"
)

func main() {
	cfg := config.Load()

	logger := applogger.New(cfg.Env, cfg.LogPath)
	defer logger.Sync()

	ctx := context.Background()

	if err := runMigrations(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	cacheConn, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer cacheConn.Close()

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

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		logger.Fatal("Failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	repo := repository.NewPostgresRepo(db)
	statusCache := cache.NewStatusCache(cacheConn)
	svc := service.NewIngestService(repo, statusCache, store, producer, cfg.KafkaTopic,
		time.Duration(cfg.UploadURLTTLMinutes)*time.Minute)
	handler := handlers.NewIngestHandler(svc, logger, cfg.MaxFileSize)

	apiMux := http.NewServeMux()
	handler.Register(apiMux)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	root.Handle("/", middleware.Identity(apiMux))

	chain := middleware.TraceID(
		middleware.Logging(logger)(
			middleware.Recovery(logger)(root)))

	logger.Info("API service started", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, chain); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func runMigrations(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}
