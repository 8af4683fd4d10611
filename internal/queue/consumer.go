package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// Handler processes one decoded task. A nil return acknowledges the
// delivery. A non-nil return requeues it; handlers must therefore return
// errors only for infrastructure faults, never for outcomes the pipeline has
// already recorded.
type Handler func(ctx context.Context, task Task) error

// Consumer pulls tasks off the work queue with manual acknowledgement.
type Consumer struct {
	conn        *Connection
	prefetch    int
	concurrency int
	logger      log.Logger
}

func NewConsumer(conn *Connection, concurrency int, logger log.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Consumer{
		conn: conn,
		// One unacked delivery per in-flight handler keeps redistribution
		// fair across workers.
		prefetch:    concurrency,
		concurrency: concurrency,
		logger:      log.OrNone(logger),
	}
}

// Consume blocks, dispatching deliveries to handler until ctx is canceled or
// the channel dies. On a dead channel it returns the close error; the caller
// owns the reconnect loop.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	channel, err := c.conn.GetChannel(ctx)
	if err != nil {
		return err
	}

	if err := channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := channel.Consume(WorkQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", WorkQueue, err)
	}

	c.logger.Infof("consuming %s with concurrency %d", WorkQueue, c.concurrency)

	var wg sync.WaitGroup

	sem := make(chan struct{}, c.concurrency)

	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}

			sem <- struct{}{}

			wg.Add(1)

			go func(delivery amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()

				c.dispatch(ctx, delivery, handler)
			}(delivery)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	task, err := DecodeTask(delivery.Body)
	if err != nil {
		c.logger.Errorf("rejecting malformed delivery %s: %v", delivery.MessageId, err)

		// No requeue: the body will never become parseable. The work queue's
		// dead letter exchange routes it to the DLQ.
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Errorf("failed to nack delivery: %v", nackErr)
		}

		return
	}

	if err := handler(ctx, task); err != nil {
		c.logger.Warnf("handler failed for task %s, requeueing: %v", task.TransactionID, err)

		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Errorf("failed to nack delivery: %v", nackErr)
		}

		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Errorf("failed to ack delivery for task %s: %v", task.TransactionID, ackErr)
	}
}
