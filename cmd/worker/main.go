// Package main runs the background job worker (results export to S3).
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livepoll/backend/config"
	"github.com/livepoll/backend/internal/events"
	"github.com/livepoll/backend/internal/exports"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/internal/responses"
	"github.com/livepoll/backend/internal/sessions"
	"github.com/livepoll/backend/internal/worker"
	"github.com/livepoll/backend/pkg/database"
	"github.com/livepoll/backend/pkg/queue"
	"github.com/livepoll/backend/pkg/redis"
	"github.com/livepoll/backend/pkg/storage"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := newLogger(cfg != nil && cfg.Log.Development)
	defer logger.Sync()
	if cfgErr != nil {
		logger.Fatal("load config", zap.Error(cfgErr))
	}
	if !cfg.Redis.Enabled() {
		logger.Fatal("worker requires REDIS_ADDR")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Endpoint:             cfg.AWS.Endpoint,
		ExportsBucket:        cfg.AWS.ExportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	publisher, err := events.NewEventPublisher(cfg.RabbitMQ.URI, logger)
	if err != nil {
		logger.Fatal("rabbitmq", zap.Error(err))
	}
	defer publisher.Close()

	jobs := queue.NewQueue(rdb.Client, logger)
	logBacklog(ctx, jobs, logger)

	processor := worker.NewExportProcessor(worker.Deps{
		Exports:   exports.NewRepository(pool),
		Sessions:  sessions.NewRepository(pool),
		Polls:     polls.NewRepository(pool),
		Responses: responses.NewRepository(pool),
		Uploader:  s3Client,
		Queue:     jobs,
		Events:    publisher,
	}, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(runCtx)
	}()
	logger.Info("worker started", zap.String("queue", queue.QueueExports))

	<-runCtx.Done()
	select {
	case <-done:
	case <-time.After(queue.PollTimeout + 5*time.Second):
		logger.Warn("export worker did not stop in time")
	}
	logger.Info("worker stopped")
}

// logBacklog reports queued and dead-lettered jobs left over from a previous run.
func logBacklog(ctx context.Context, jobs *queue.Queue, logger *zap.Logger) {
	pending, err := jobs.Pending(ctx)
	if err != nil {
		logger.Warn("read queue length", zap.Error(err))
		return
	}
	dead, err := jobs.DeadLetters(ctx, 100)
	if err != nil {
		logger.Warn("read dead letters", zap.Error(err))
		return
	}
	fields := []zap.Field{zap.Int64("pending", pending), zap.Int("dead_letters", len(dead))}
	if len(dead) > 0 {
		fields = append(fields, zap.String("oldest_dead_job", dead[0].ID))
	}
	logger.Info("export queue backlog", fields...)
}

func newLogger(development bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
