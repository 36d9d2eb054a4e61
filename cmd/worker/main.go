// Package main runs the background pass export worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pz26/confpass/config"
	"github.com/pz26/confpass/internal/passview"
	"github.com/pz26/confpass/internal/registrations"
	"github.com/pz26/confpass/internal/worker"
	"github.com/pz26/confpass/pkg/database"
	"github.com/pz26/confpass/pkg/queue"
	"github.com/pz26/confpass/pkg/redis"
	"github.com/pz26/confpass/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.AWS.PassesBucket == "" {
		logger.Fatal("AWS_S3_PASSES_BUCKET is required for the pass export worker")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		PassesBucket:         cfg.AWS.PassesBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	renderOpts := passview.Options{Size: cfg.Event.QRSize}
	if cfg.Event.LogoPath != "" {
		if logo, err := passview.LoadLogo(cfg.Event.LogoPath); err != nil {
			logger.Warn("pass logo disabled", zap.Error(err))
		} else {
			renderOpts.Logo = logo
		}
	}

	regRepo := registrations.NewRepository(pool, registrations.DefaultRetryPolicy())
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewPassExportProcessor(jobQueue, passview.NewRenderer(renderOpts), s3Client, regRepo, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started", zap.String("queue", queue.QueuePasses))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
