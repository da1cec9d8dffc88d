package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/retry"
	"github.com/mgamer/indexer-v3-sub017/pkg/utils"
)

// Client wraps a native ClickHouse connection used for the activity search index.
type Client struct {
	Logger         *zap.Logger
	Db             driver.Conn
	TargetDatabase string
}

const (
	MergeTree          = "MergeTree"
	ReplacingMergeTree = "ReplacingMergeTree"
)

// New initializes and returns a new ClickHouse client with provided context and logger.
// The connection string comes from CLICKHOUSE_ADDR. Pool sizing is tuned for bulk
// insert throughput rather than interactive queries.
func New(ctx context.Context, logger *zap.Logger, dbName string) (client Client, err error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	client.Logger = logger
	client.TargetDatabase = dbName
	retryConfig := retry.DefaultConfig()

	dsn := utils.Env("CLICKHOUSE_ADDR", "clickhouse://localhost:9000?sslmode=disable")

	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return Client{}, fmt.Errorf("failed to parse CLICKHOUSE_ADDR: %w", err)
	}

	options.DialTimeout = 30 * time.Second
	options.MaxOpenConns = utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 20)
	options.MaxIdleConns = utils.EnvInt("CLICKHOUSE_MAX_IDLE_CONNS", 10)
	options.ConnMaxLifetime = utils.EnvDuration("CLICKHOUSE_CONN_MAX_LIFETIME", time.Hour)
	options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}

	if logger != nil && logger.Core().Enabled(zap.DebugLevel) {
		sugar := logger.Named("clickhouse.driver").Sugar()
		options.Debugf = sugar.Debugf
	}

	retryErr := retry.WithBackoff(connCtx, retryConfig, logger, "clickhouse_connection", func() error {
		conn, openErr := clickhouse.Open(options)
		if openErr != nil {
			return fmt.Errorf("failed to open clickhouse connection: %w", openErr)
		}

		client.Db = conn

		logger.Debug("Pinging ClickHouse connection")
		if pingErr := conn.Ping(connCtx); pingErr != nil {
			return fmt.Errorf("failed to ping clickhouse: %w", pingErr)
		}

		return nil
	})
	if retryErr != nil {
		return Client{}, retryErr
	}

	logger.Info("ClickHouse connection configured",
		zap.String("database", dbName),
		zap.Int("max_open_conns", options.MaxOpenConns))

	return client, nil
}

// Exec executes a statement without returning rows.
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.Db.Exec(ctx, query, args...)
}

// Query executes a query returning rows.
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.Db.Query(ctx, query, args...)
}

// PrepareBatch creates a batch for bulk inserts.
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.Db.PrepareBatch(ctx, query)
}

// CreateDbIfNotExists ensures the target database exists.
func (c *Client) CreateDbIfNotExists(ctx context.Context, dbName string) error {
	return c.Exec(ctx, fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS "%s"`, dbName))
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.Db.Close()
}
