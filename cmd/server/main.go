// Package main runs the live polling HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livepoll/backend/config"
	"github.com/livepoll/backend/internal/auth"
	"github.com/livepoll/backend/internal/events"
	"github.com/livepoll/backend/internal/exports"
	"github.com/livepoll/backend/internal/feedback"
	"github.com/livepoll/backend/internal/gateway"
	"github.com/livepoll/backend/internal/middleware"
	"github.com/livepoll/backend/internal/participants"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/internal/realtime"
	"github.com/livepoll/backend/internal/responses"
	"github.com/livepoll/backend/internal/sessions"
	"github.com/livepoll/backend/internal/worker"
	"github.com/livepoll/backend/pkg/database"
	"github.com/livepoll/backend/pkg/queue"
	"github.com/livepoll/backend/pkg/redis"
	"github.com/livepoll/backend/pkg/response"
	"github.com/livepoll/backend/pkg/storage"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := newLogger(cfg != nil && cfg.Log.Development)
	defer logger.Sync()
	if cfgErr != nil {
		logger.Fatal("load config", zap.Error(cfgErr))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	// Redis is optional: without it the server runs as a single instance with in-memory revisions,
	// no rate limits and no export queue.
	var (
		hubOpts       []realtime.HubOption
		answerLimiter gateway.Limiter
		authLimiter   middleware.Limiter
		jobQueue      *queue.Queue
		redisClient   *redis.Client
	)
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		redisClient = rdb

		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hubOpts = append(hubOpts, realtime.WithBridge(redisPubSub), realtime.WithRevisions(redisPubSub))
		answerLimiter = redis.NewRateLimiter(rdb, "answer", cfg.RateLimit.AnswerLimit, time.Duration(cfg.RateLimit.AnswerWindowSec)*time.Second)
		authLimiter = redis.NewRateLimiter(rdb, "auth", cfg.RateLimit.AuthLimit, time.Duration(cfg.RateLimit.AuthWindowSec)*time.Second)
		jobQueue = queue.NewQueue(rdb.Client, logger)
	} else {
		logger.Warn("REDIS_ADDR is empty, running single-instance without rate limits or exports")
	}

	var s3Client *storage.S3
	if cfg.AWS.ExportsBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Endpoint:             cfg.AWS.Endpoint,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	publisher, err := events.NewEventPublisher(cfg.RabbitMQ.URI, logger)
	if err != nil {
		logger.Warn("event publishing disabled", zap.Error(err))
		publisher, _ = events.NewEventPublisher("", logger)
	}
	defer publisher.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.SessionExpireHours)
	hub := realtime.NewHub(logger, hubOpts...)

	// Repositories
	authRepo := auth.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	pollRepo := polls.NewRepository(pool)
	responseRepo := responses.NewRepository(pool)
	participantRepo := participants.NewRepository(pool)
	feedbackRepo := feedback.NewRepository(pool)
	exportRepo := exports.NewRepository(pool)

	// Handlers
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	sessionHandler := sessions.NewHandler(sessionRepo, jwtService, publisher, logger)
	pollHandler := polls.NewHandler(pollRepo, responseRepo, logger)
	participantHandler := participants.NewHandler(participantRepo, sessionRepo, responseRepo, hub, logger)
	feedbackHandler := feedback.NewHandler(feedbackRepo, sessionRepo)

	var (
		exportQueue     exports.Enqueuer
		exportPresigner exports.Presigner
	)
	if jobQueue != nil {
		exportQueue = jobQueue
	}
	if s3Client != nil {
		exportPresigner = s3Client
	}
	exportHandler := exports.NewHandler(exportRepo, sessionRepo, exportQueue, exportPresigner, logger)

	// Realtime gateway
	gw := gateway.New(gateway.Deps{
		Sessions:     sessionRepo,
		Polls:        pollRepo,
		Responses:    responseRepo,
		Participants: participantRepo,
		Feedback:     feedbackRepo,
		Hosts:        jwtService,
		Limiter:      answerLimiter,
		Hub:          hub,
		Events:       publisher,
	}, logger)
	upgrader := realtime.NewUpgrader(cfg.Server.WSAllowedOrigins)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if redisClient != nil {
			if err := redisClient.Healthy(ctx); err != nil {
				response.ServiceUnavailable(c, "redis unavailable")
				return
			}
		}
		response.OK(c, gin.H{"status": "ok", "redis": redisClient != nil, "events": publisher.Enabled()})
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	if authLimiter != nil {
		authGroup.Use(middleware.RateLimitByIP(authLimiter, logger))
	}
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public: join flow and presenter reads
	router.GET("/sessions/code/:code", sessionHandler.GetByCode)
	router.GET("/sessions/:id", sessionHandler.Get)
	router.GET("/sessions/:id/polls", pollHandler.List)
	router.GET("/polls/:id/results", pollHandler.Results)
	router.POST("/sessions/:id/participants", participantHandler.Join)
	router.GET("/sessions/:id/participants/count", participantHandler.Count)
	router.GET("/sessions/:id/feedback", middleware.OptionalJWT(jwtService), feedbackHandler.List)

	// Host API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", sessionHandler.Create)
		api.POST("/sessions/:id/host-token", sessions.RequireOwner(sessionRepo), sessionHandler.HostToken)
		api.POST("/sessions/:id/polls", sessions.RequireOwner(sessionRepo), pollHandler.Create)
		api.POST("/sessions/:id/exports", sessions.RequireOwner(sessionRepo), exportHandler.Create)
		api.GET("/exports/:id", exportHandler.Get)
	}

	// WebSocket (participants are anonymous; host commands carry the session host token)
	router.GET("/ws", realtime.ServeWs(gw, upgrader, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (results export to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Export.InProcessWorker && jobQueue != nil && s3Client != nil {
		processor := worker.NewExportProcessor(worker.Deps{
			Exports:   exportRepo,
			Sessions:  sessionRepo,
			Polls:     pollRepo,
			Responses: responseRepo,
			Uploader:  s3Client,
			Queue:     jobQueue,
			Events:    publisher,
		}, logger)
		go processor.Run(workerCtx)
		logger.Info("export worker started in-process")
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

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
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
