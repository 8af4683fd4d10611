// Package redis wraps the go-redis client behind a small connection hub so
// components share one lazily-connected client.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

// ErrNilConnection is returned when a method is called on a nil Connection.
var ErrNilConnection = errors.New("redis connection is nil")

// Connection is a hub which deals with redis connections.
type Connection struct {
	Addr     string
	Password string
	DB       int
	Logger   log.Logger

	mu        sync.Mutex
	client    *redis.Client
	connected bool
}

// Connect establishes and verifies the connection.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

func (c *Connection) connectLocked(ctx context.Context) error {
	logger := log.OrNone(c.Logger)
	logger.Infof("connecting to redis at %s", c.Addr)

	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Errorf("redis ping failed: %v", err)
		return fmt.Errorf("redis connect: %w", err)
	}

	c.client = client
	c.connected = true

	logger.Infof("connected to redis")

	return nil
}

// GetClient returns the shared client, connecting on first use.
func (c *Connection) GetClient(ctx context.Context) (*redis.Client, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	return c.client, nil
}

// SetClient injects a pre-built client. Used by tests running against
// miniredis.
func (c *Connection) SetClient(client *redis.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client = client
	c.connected = client != nil
}

// Close releases the underlying client.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.connected = false

	return err
}
