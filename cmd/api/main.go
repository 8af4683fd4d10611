// The api binary serves the HTTP admission surface: account management,
// deposit and withdrawal admission, and the read endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/api"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/config"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/idempotency"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/postgres"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/ratelimit"
	libRedis "github.com/Necmettin94/PaymentGatewaySystem/internal/redis"
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

	accounts := storage.NewAccountRepository(db, logger)
	transactions := storage.NewTransactionRepository(db, logger)
	idempotencyRepo := storage.NewIdempotencyRepository(db, logger)
	deadLetters := storage.NewDeadLetterRepository(db, logger)

	guard := idempotency.NewGuard(idempotencyRepo, transactions, redisConn, cfg.IdempotencyTTL, logger)
	publisher := queue.NewPublisher(amqpConn, logger)
	limiter := ratelimit.NewLimiter(redisConn, cfg.GlobalLimit, logger)

	app := api.NewApp(api.Handlers{
		Accounts:     api.NewAccountHandler(accounts, transactions, logger),
		Transactions: api.NewTransactionHandler(guard, accounts, transactions, publisher, logger),
		DeadLetters:  api.NewDeadLetterHandler(deadLetters, transactions, publisher, logger),
		Ready: func(ctx context.Context) map[string]bool {
			redisUp := false
			if client, err := redisConn.GetClient(ctx); err == nil {
				redisUp = client.Ping(ctx).Err() == nil
			}

			return map[string]bool{
				"postgres": pg.IsConnected(),
				"redis":    redisUp,
				"rabbitmq": amqpConn.IsConnected(),
			}
		},
	}, api.Limits{
		Limiter: limiter,
		Write:   cfg.WriteLimit,
		Read:    cfg.ReadLimit,
	}, logger)

	go func() {
		logger.Infof("api listening on :%s", cfg.HTTPPort)

		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			logger.Errorf("http server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Infof("shutting down...")

	if err := app.Shutdown(); err != nil {
		logger.Errorf("http shutdown failed: %v", err)
	}

	logger.Infof("bye")
}
