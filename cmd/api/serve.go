package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/adapter/handler"
	"github.com/ibrahimkeyboad/payflow/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/payflow/internal/adapter/ratelimit"
	"github.com/ibrahimkeyboad/payflow/internal/adapter/storage"
	"github.com/ibrahimkeyboad/payflow/internal/adapter/storage/memory"
	"github.com/ibrahimkeyboad/payflow/internal/core/config"
	"github.com/ibrahimkeyboad/payflow/internal/core/logging"
	"github.com/ibrahimkeyboad/payflow/internal/core/notifications"
	"github.com/ibrahimkeyboad/payflow/internal/core/security"
	"github.com/ibrahimkeyboad/payflow/internal/core/transfer"
	"github.com/ibrahimkeyboad/payflow/internal/core/worker"
)

// backend is what a ledger store must provide to run the API.
type backend interface {
	transfer.Store
	handler.UserRepository
	middleware.IdempotencyStore
	worker.Queue
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the webhook worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. Load Config
	cfg, dotenv, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 2. Setup Logger
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if !dotenv {
		logger.Debug("no .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the ledger store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	// 4. Setup services & handlers
	secret := cfg.JWTSecret
	if secret == "" {
		if secret, err = security.GenerateSecret("dev_"); err != nil {
			return err
		}
		logger.Warn("JWT_SECRET not set, tokens will not survive a restart")
	}

	svc := transfer.NewService(store,
		transfer.WithLogger(logger),
		transfer.WithTracerProvider(tp),
		transfer.WithWebhookURL(cfg.WebhookURL),
		transfer.WithRetry(cfg.TxMaxAttempts, 20*time.Millisecond),
	)

	limiterStorage, closeLimiter, err := openLimiterStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	app := handler.NewRouter(handler.Deps{
		Users:          store,
		Payments:       svc,
		Ledger:         svc,
		Tokens:         security.NewTokenIssuer(secret, cfg.JWTTTL),
		Idempotency:    store,
		RateLimit:      ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow, limiterStorage),
		TracerProvider: tp,
		Logger:         logger,
	})

	// 5. Start Worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	var workerDone <-chan struct{}
	if cfg.WebhookURL != "" {
		sender := notifications.NewSender(cfg.WebhookSecret, logger)
		workerDone = worker.NewProcessor(store, sender, logger, cfg.WorkerInterval).Start(workerCtx)
	}
	drainWorker := func() {
		stopWorker()
		if workerDone != nil {
			<-workerDone
		}
	}

	// Run Server in a separate Goroutine so it doesn't block
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("env", cfg.Env), zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		serverErr <- app.Listen(":" + cfg.Port)
	}()

	// Block here until we receive a stop signal
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
			drainWorker()
			return err
		}
	}

	// Tell Fiber to stop accepting new requests and finish active ones
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	drainWorker()

	logger.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(memory.WithLockTimeout(cfg.LockTimeout)), func() {}, nil
	}

	if err := storage.Migrate(cfg.DatabaseURL, false, logger); err != nil {
		return nil, nil, err
	}
	pool, err := storage.ConnectDB(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		pool.Close()
		logger.Info("database connection closed")
	}
	return storage.NewStore(pool, cfg.LockTimeout), closeFn, nil
}

// openLimiterStorage shares rate limit counters through Redis when
// REDIS_URL is set. Nil storage keeps them in process.
func openLimiterStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (fiber.Storage, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	client, err := ratelimit.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	logger.Info("rate limiter using redis")
	return ratelimit.NewRedisStorage(client), func() { _ = client.Close() }, nil
}
