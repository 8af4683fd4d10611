// Package postgres is the connection hub for the engine's durable store. It
// opens the pool, applies schema migrations on connect, and hands the *sql.DB
// to the repositories.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	dbNamePattern                      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// ErrNilConnection is returned when operations run on a nil hub.
var ErrNilConnection = errors.New("postgres connection is nil")

// Connection is a hub which deals with the postgres connection. Migrations
// run once on connect; the pool is shared by every repository.
type Connection struct {
	ConnectionString   string
	DatabaseName       string
	MigrationsPath     string
	Logger             log.Logger
	MaxOpenConnections int
	MaxIdleConnections int

	mu        sync.RWMutex
	db        *sql.DB
	connected bool
}

func (c *Connection) initDefaults() {
	c.Logger = log.OrNone(c.Logger)

	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = defaultMaxOpenConns
	}

	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = defaultMaxIdleConns
	}
}

// Connect opens the pool, runs pending migrations and verifies the link with
// a ping. Safe to call again after Close.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

// connectLocked performs the actual connection. Caller must hold c.mu.
func (c *Connection) connectLocked(ctx context.Context) error {
	c.initDefaults()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	if c.db != nil {
		if err := c.closeLocked(); err != nil {
			c.Logger.Warnf("failed to close previous connection before reconnect: %v", err)
		}
	}

	c.Logger.Infof("Connecting to postgres...")

	db, err := sql.Open("pgx", c.ConnectionString)
	if err != nil {
		sanitizedErr := sanitizeSensitiveError(err)
		c.Logger.Errorf("failed to open database: %s", sanitizedErr)

		return fmt.Errorf("failed to open database: %s", sanitizedErr)
	}

	var success bool

	defer func() {
		if !success {
			db.Close()
		}
	}()

	db.SetMaxOpenConns(c.MaxOpenConnections)
	db.SetMaxIdleConns(c.MaxIdleConnections)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if c.MigrationsPath != "" {
		migrationsPath, err := sanitizePath(c.MigrationsPath)
		if err != nil {
			c.Logger.Errorf("failed to resolve migrations path: %v", err)
			return err
		}

		if err := runMigrations(db, migrationsPath, c.DatabaseName, c.Logger); err != nil {
			return err
		}
	}

	if err := db.PingContext(ctx); err != nil {
		c.Logger.Errorf("failed to ping database: %v", err)
		return fmt.Errorf("failed to ping database: %w", err)
	}

	c.db = db
	c.connected = true

	c.Logger.Infof("Connected to postgres")

	success = true

	return nil
}

// GetDB returns the shared pool, connecting lazily on first use.
func (c *Connection) GetDB(ctx context.Context) (*sql.DB, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.RLock()

	if c.db != nil {
		db := c.db
		c.mu.RUnlock()

		return db, nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring the write lock.
	if c.db != nil {
		return c.db, nil
	}

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	return c.db, nil
}

// Close releases the pool.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.db == nil {
		return nil
	}

	err := c.db.Close()
	c.db = nil
	c.connected = false

	return err
}

// IsConnected reports whether the pool is initialized.
func (c *Connection) IsConnected() bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

func runMigrations(db *sql.DB, migrationsPath, dbName string, logger log.Logger) error {
	if !dbNamePattern.MatchString(dbName) {
		err := fmt.Errorf("invalid database name: %q", dbName)
		logger.Errorf("migrations aborted: %v", err)

		return err
	}

	sourceURL, err := url.Parse(filepath.ToSlash(migrationsPath))
	if err != nil {
		logger.Errorf("failed to parse migrations url: %v", err)
		return fmt.Errorf("failed to parse migrations url: %w", err)
	}

	sourceURL.Scheme = "file"

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		// pgx's extended protocol rejects multi-command statements, so the
		// driver must split migration files itself.
		MultiStatementEnabled: true,
		DatabaseName:          dbName,
		SchemaName:            "public",
	})
	if err != nil {
		logger.Errorf("failed to create postgres driver instance: %v", err)
		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL.String(), dbName, driver)
	if err != nil {
		logger.Errorf("failed to load migrations: %v", err)
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Infof("No new migrations found. Skipping...")
			return nil
		}

		if errors.Is(err, os.ErrNotExist) {
			logger.Warnf("No migration files found. Skipping migration step...")
			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			logger.Errorf("Migration failed with dirty version %d", dirtyErr.Version)
			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}

		logger.Errorf("Migration failed: %v", err)

		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := connectionStringCredentialsPattern.ReplaceAllString(err.Error(), "://***@")
	sanitized = connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")

	return sanitized
}

func sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("invalid migrations path: %q", path)
		}
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	return absPath, nil
}
