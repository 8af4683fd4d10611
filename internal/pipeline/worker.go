package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/backoff"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
)

// Purger drops expired idempotency claims.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

const (
	consumeRetryBase = time.Second
	consumeRetryCap  = 30 * time.Second
	purgeInterval    = time.Hour
)

// Worker ties the consumer to the executor and runs periodic housekeeping.
// Run blocks until ctx is canceled; broker drops are retried with backoff.
type Worker struct {
	consumer *queue.Consumer
	executor *Executor
	purger   Purger
	logger   log.Logger
}

func NewWorker(consumer *queue.Consumer, executor *Executor, purger Purger, logger log.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		executor: executor,
		purger:   purger,
		logger:   log.OrNone(logger),
	}
}

// Run consumes until ctx is canceled. In-flight tasks drain before return.
func (w *Worker) Run(ctx context.Context) error {
	if w.purger != nil {
		go w.purgeLoop(ctx)
	}

	for attempt := 0; ; attempt++ {
		err := w.consumer.Consume(ctx, w.executor.Handle)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.ExponentialCapped(consumeRetryBase, attempt, consumeRetryCap)

		w.logger.Errorf("consumer stopped: %v; reconnecting in %s", err, delay)

		if err := backoff.SleepWithContext(ctx, delay); err != nil {
			return err
		}
	}
}

func (w *Worker) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.purger.PurgeExpired(ctx, time.Now().UTC()); err != nil {
				w.logger.Warnf("idempotency purge failed: %v", err)
			}
		}
	}
}
