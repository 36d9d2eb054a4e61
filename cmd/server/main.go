// Package main runs the confpass HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pz26/confpass/config"
	"github.com/pz26/confpass/internal/auth"
	"github.com/pz26/confpass/internal/passview"
	"github.com/pz26/confpass/internal/realtime"
	"github.com/pz26/confpass/internal/registrations"
	"github.com/pz26/confpass/internal/stats"
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

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	policy := registrations.RetryPolicy{
		MaxRetries:      cfg.Allocator.MaxRetries,
		InitialInterval: cfg.Allocator.InitialBackoff(),
		MaxInterval:     cfg.Allocator.MaxBackoff(),
	}
	registrationRepo := registrations.NewRepository(pool, policy)
	if cfg.Event.CounterBootstrap {
		if err := registrationRepo.BootstrapCounter(ctx, cfg.Event.Prefix, cfg.Event.CounterStart); err != nil {
			logger.Fatal("bootstrap counter", zap.Error(err))
		}
	}
	if counter, found, err := registrationRepo.GetCounter(ctx); err != nil {
		logger.Warn("counter check failed", zap.Error(err))
	} else if !found {
		logger.Warn("registration counter missing; registrations will fail until COUNTER_BOOTSTRAP=true is set")
	} else {
		logger.Info("registration counter ready", zap.String("prefix", counter.Prefix), zap.Int("next_serial", counter.NextSerial))
	}

	authRepo := auth.NewRepository(pool)
	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		created, err := auth.EnsureAdmin(ctx, authRepo, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			logger.Fatal("admin account", zap.Error(err))
		}
		if created {
			logger.Info("admin account created", zap.String("email", cfg.Admin.Email))
		}
	}

	renderOpts := passview.Options{Size: cfg.Event.QRSize}
	if cfg.Event.LogoPath != "" {
		logo, err := passview.LoadLogo(cfg.Event.LogoPath)
		if err != nil {
			logger.Warn("pass logo disabled", zap.Error(err))
		} else {
			renderOpts.Logo = logo
		}
	}

	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, pubsub, pubsub)

	d := deps{
		cfg:         cfg,
		logger:      logger,
		jwt:         auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours),
		revocations: auth.NewRedisRevocations(rdb.Client),
		users:       authRepo,
		store:       registrationRepo,
		counts:      stats.NewService(registrationRepo, rdb.Client, time.Duration(cfg.Stats.CacheTTLSeconds)*time.Second, logger).WithFeed(hub),
		hub:         hub,
		renderer:    passview.NewRenderer(renderOpts),
	}

	if cfg.AWS.PassesBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			PassesBucket:         cfg.AWS.PassesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("pass export disabled", zap.Error(err))
		} else {
			d.exportQueue = queue.NewQueue(rdb.Client, logger)
			d.exports = s3Client
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(d),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
