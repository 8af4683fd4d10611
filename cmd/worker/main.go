// The worker binary consumes execution tasks and drives transactions through
// settlement, balance mutation, retry and dead lettering.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/breaker"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/config"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/lock"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/pipeline"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/postgres"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
	libRedis "github.com/Necmettin94/PaymentGatewaySystem/internal/redis"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/settlement"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/storage"
)

func main() {
	cfg := config.Load()

	logger, err := log.NewZapLogger(cfg.LogLevel, !cfg.IsProduction())
	if err != nil {
		panic(err)
	}

	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg := &postgres.Connection{
		ConnectionString: cfg.DatabaseDSN,
		DatabaseName:     cfg.DatabaseName,
		MigrationsPath:   cfg.MigrationsPath,
		Logger:           logger,
	}

	db, err := pg.GetDB(ctx)
	if err != nil {
		logger.Errorf("postgres unavailable: %v", err)
		os.Exit(1)
	}

	defer func() { _ = pg.Close() }()

	redisConn := &libRedis.Connection{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Logger:   logger,
	}

	if err := redisConn.Connect(ctx); err != nil {
		logger.Errorf("redis unavailable: %v", err)
		os.Exit(1)
	}

	defer func() { _ = redisConn.Close() }()

	amqpConn := &queue.Connection{URL: cfg.AMQPURL, Logger: logger}

	if err := amqpConn.Connect(ctx); err != nil {
		logger.Errorf("rabbitmq unavailable: %v", err)
		os.Exit(1)
	}

	defer func() { _ = amqpConn.Close() }()

	lockManager, err := lock.NewManager(redisConn, logger)
	if err != nil {
		logger.Errorf("lock manager init failed: %v", err)
		os.Exit(1)
	}

	accounts := storage.NewAccountRepository(db, logger)
	transactions := storage.NewTransactionRepository(db, logger)
	idempotencyRepo := storage.NewIdempotencyRepository(db, logger)
	deadLetters := storage.NewDeadLetterRepository(db, logger)

	gateway := settlement.NewSimulator(cfg.Settlement, logger)
	settlementBreaker := breaker.New("settlement", cfg.Breaker, logger)
	publisher := queue.NewPublisher(amqpConn, logger)

	executor := pipeline.NewExecutor(
		cfg.Pipeline,
		pipeline.NewRedisLocker(lockManager),
		transactions,
		accounts,
		deadLetters,
		publisher,
		settlementBreaker,
		gateway,
		logger,
	)

	consumer := queue.NewConsumer(amqpConn, cfg.WorkerConcurrency, logger)
	worker := pipeline.NewWorker(consumer, executor, idempotencyRepo, logger)

	logger.Infof("worker starting with concurrency %d", cfg.WorkerConcurrency)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("worker stopped: %v", err)
		os.Exit(1)
	}

	logger.Infof("bye")
}
