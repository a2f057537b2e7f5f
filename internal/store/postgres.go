// Package store persists bulk download jobs and user credits in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientCredits is returned when a debit would leave a
	// negative balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// DB wraps the sqlx connection with observability.
type DB struct {
	conn    *sqlx.DB
	logger  observability.Logger
	metrics observability.Metrics
}

// Connect opens a PostgreSQL connection pool and verifies it with a ping.
func Connect(cfg *config.DatabaseConfig, logger observability.Logger, metrics observability.Metrics) (*DB, error) {
	logger.Info("connecting to postgres",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database)

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logger.Error("failed to open database connection", "error", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to postgres")
	metrics.IncrementCounter("database.connection.success", nil)

	return &DB{
		conn:    conn,
		logger:  logger.WithFields(map[string]interface{}{"component": "store"}),
		metrics: metrics.WithTags(map[string]string{"component": "store"}),
	}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	start := time.Now()
	result, err := d.conn.ExecContext(ctx, query, args...)
	d.metrics.RecordHistogram("database.query.duration_seconds",
		time.Since(start).Seconds(),
		map[string]string{"operation": op})

	if err != nil {
		d.logger.Error("query failed", "error", err, "operation", op)
		d.metrics.IncrementCounter("database.query.errors", map[string]string{"operation": op})
		return 0, err
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

func (d *DB) get(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := d.conn.GetContext(ctx, dest, query, args...)
	d.metrics.RecordHistogram("database.query.duration_seconds",
		time.Since(start).Seconds(),
		map[string]string{"operation": op})
	return err
}
