package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// Publisher emits execution tasks. Messages are persistent; a broker restart
// does not lose admitted work.
type Publisher struct {
	conn   *Connection
	logger log.Logger
}

func NewPublisher(conn *Connection, logger log.Logger) *Publisher {
	return &Publisher{conn: conn, logger: log.OrNone(logger)}
}

// PublishExecute enqueues a task for immediate execution.
func (p *Publisher) PublishExecute(ctx context.Context, task Task) error {
	return p.publish(ctx, ExecuteRoutingKey, task, 0)
}

// ScheduleRetry parks a task on the retry queue; the broker redelivers it to
// the work queue after delay.
func (p *Publisher) ScheduleRetry(ctx context.Context, task Task, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	return p.publish(ctx, RetryRoutingKey, task, delay)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, task Task, expiration time.Duration) error {
	body, err := task.Encode()
	if err != nil {
		return err
	}

	channel, err := p.conn.GetChannel(ctx)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    task.TransactionID.String(),
		Body:         body,
	}

	if expiration > 0 {
		msg.Expiration = strconv.FormatInt(expiration.Milliseconds(), 10)
	}

	if err := channel.PublishWithContext(ctx, Exchange, routingKey, false, false, msg); err != nil {
		p.logger.Errorf("failed to publish task %s to %s: %v", task.TransactionID, routingKey, err)

		return fmt.Errorf("publish task: %w", err)
	}

	p.logger.Debugf("published task %s to %s (attempt %d, delay %s)",
		task.TransactionID, routingKey, task.Attempt, expiration)

	return nil
}
