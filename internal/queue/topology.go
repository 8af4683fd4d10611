package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology: the API publishes execute tasks to the work queue. Retries go
// through a TTL-expiring retry queue whose dead-letter target is the work
// queue again, which gives delayed redelivery without a broker plugin.
// Poisoned deliveries land on the dead letter queue for operators.
const (
	Exchange    = "transactions"
	DLXExchange = "transactions.dlx"

	WorkQueue  = "transactions.execute"
	RetryQueue = "transactions.retry"
	DeadQueue  = "transactions.dlq"

	ExecuteRoutingKey = "execute"
	RetryRoutingKey   = "retry"
	DeadRoutingKey    = "dead"
)

// DeclareTopology declares the exchanges, queues and bindings. Declarations
// are idempotent; every connecting process runs this.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	if err := ch.ExchangeDeclare(DLXExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DLXExchange, err)
	}

	if _, err := ch.QueueDeclare(WorkQueue, true, false, false, false, workQueueArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", WorkQueue, err)
	}

	if err := ch.QueueBind(WorkQueue, ExecuteRoutingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", WorkQueue, err)
	}

	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, retryQueueArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", RetryQueue, err)
	}

	if err := ch.QueueBind(RetryQueue, RetryRoutingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", RetryQueue, err)
	}

	if _, err := ch.QueueDeclare(DeadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadQueue, err)
	}

	if err := ch.QueueBind(DeadQueue, DeadRoutingKey, DLXExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", DeadQueue, err)
	}

	return nil
}

// workQueueArgs routes rejected deliveries to the dead letter queue.
func workQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    DLXExchange,
		"x-dead-letter-routing-key": DeadRoutingKey,
	}
}

// retryQueueArgs bounces expired messages back to the work queue. The
// per-message TTL carries the backoff delay.
func retryQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    Exchange,
		"x-dead-letter-routing-key": ExecuteRoutingKey,
	}
}
