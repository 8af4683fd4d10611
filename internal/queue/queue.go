// Package queue is the rabbitmq transport for the execution pipeline. It
// owns the connection hub, the exchange/queue topology, and the task codec
// shared by the API (producer) and the worker (consumer).
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// ErrNilConnection is returned when a method is called on a nil Connection.
var ErrNilConnection = errors.New("rabbitmq connection is nil")

// Connection is a hub which deals with the rabbitmq connection and a shared
// channel. Declared topology survives reconnects because DeclareTopology runs
// on every Connect.
type Connection struct {
	URL    string
	Logger log.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
}

// Connect dials the broker, opens the shared channel and declares the
// topology. Safe to call again after a broker drop.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

func (c *Connection) connectLocked(ctx context.Context) error {
	c.Logger = log.OrNone(c.Logger)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}

	c.closeLocked()

	c.Logger.Infof("Connecting to rabbitmq...")

	conn, err := amqp.Dial(c.URL)
	if err != nil {
		c.Logger.Errorf("failed to dial rabbitmq: %v", err)
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		c.Logger.Errorf("failed to open rabbitmq channel: %v", err)

		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := DeclareTopology(channel); err != nil {
		_ = channel.Close()
		_ = conn.Close()

		c.Logger.Errorf("failed to declare topology: %v", err)

		return err
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	c.Logger.Infof("Connected to rabbitmq")

	return nil
}

// GetChannel returns the shared channel, reconnecting when the previous
// connection died underneath us.
func (c *Connection) GetChannel(ctx context.Context) (*amqp.Channel, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	return c.channel, nil
}

// Close releases the channel and connection.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	return nil
}

func (c *Connection) closeLocked() {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	c.connected = false
}

// IsConnected reports whether a live connection is held.
func (c *Connection) IsConnected() bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected && c.conn != nil && !c.conn.IsClosed()
}
