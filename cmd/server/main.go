package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/api"
	"github.com/eduanalytics/notify-relay/internal/config"
	"github.com/eduanalytics/notify-relay/internal/db"
	"github.com/eduanalytics/notify-relay/internal/dlq"
	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/idempotency"
	"github.com/eduanalytics/notify-relay/internal/metrics"
	"github.com/eduanalytics/notify-relay/internal/notify"
	"github.com/eduanalytics/notify-relay/internal/queue"
	"github.com/eduanalytics/notify-relay/internal/ratelimiter"
	"github.com/eduanalytics/notify-relay/internal/repository"
	"github.com/eduanalytics/notify-relay/internal/sender"
	"github.com/eduanalytics/notify-relay/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- idempotency store ----
	// Redis keeps the dedup window shared across instances; without it the
	// window lives in process memory and the janitor purges expired keys.
	var idem idempotency.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close() //nolint:errcheck
		idem = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
		logger.Info("idempotency store: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		idem = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
		logger.Info("idempotency store: in-memory")
	}

	// ---- core dependencies ----
	queues := queue.New(queue.Config{
		MainSize:       cfg.MainQueueSize,
		RetrySize:      cfg.RetryQueueSize,
		DeadLetterSize: cfg.DeadLetterQueueSize,
		PoisonSize:     cfg.PoisonQueueSize,
	})
	repo := repository.NewPgMessageRepository(pool)
	orch := dlq.NewOrchestrator(repo, queues, idem, logger)
	limiter := ratelimiter.New(cfg.RateLimit)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, queues.Depths)

	// ---- channel senders ----
	// Every provider is wrapped in a circuit breaker so a degraded channel
	// sheds load instead of tying workers up in timeouts.
	senders := sender.NewRegistry(
		sender.WithBreaker(sender.NewEmailSender(
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom,
		), logger),
		sender.WithBreaker(sender.NewTelegramSender(
			cfg.TelegramToken, cfg.TelegramBaseURL, cfg.ProviderTimeout,
		), logger),
		sender.WithBreaker(sender.NewWebhookSender(
			domain.ChannelSMS, cfg.SMSGatewayURL, cfg.ProviderTimeout,
		), logger),
		sender.WithBreaker(sender.NewWebhookSender(
			domain.ChannelPush, cfg.PushGatewayURL, cfg.ProviderTimeout,
		), logger),
		sender.WithBreaker(sender.NewInAppSender(pool), logger),
	)

	// ---- notification system ----
	wpool := worker.NewPool(cfg, orch, senders, limiter, logger, m.WorkerHooks())
	janitor := worker.NewJanitor(orch, idem, logger)
	sys := notify.New(cfg, repo, orch, wpool, janitor, logger)

	if err := sys.Start(ctx); err != nil {
		logger.Fatal("failed to start notification system", zap.Error(err))
	}

	// ---- HTTP server ----
	router := api.NewRouter(sys, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the janitor, cancel the workers and wait for in-flight
	//    deliveries to report their outcome.
	sys.Shutdown()

	logger.Info("server stopped cleanly")
}
