package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
	"github.com/mgamer/indexer-v3-sub017/pkg/utils"
)

// DB is the relational market store: canonical events, the order book
// projection, token/collection/balance rows with their colocated aggregate
// caches, job cursors and dead letters. It is the single source of truth;
// every cache mutation goes through a conditional UPDATE so concurrent
// recomputes converge.
type DB struct {
	postgres.Client
	Name string
}

// NewWithPoolConfig creates and initializes the market database with custom
// pool configuration.
func NewWithPoolConfig(ctx context.Context, logger *zap.Logger, poolConfig postgres.PoolConfig) (*DB, error) {
	name := postgres.SanitizeName(utils.Env("POSTGRES_DB", "marketdex"))

	client, err := postgres.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", poolConfig.Component),
	), name, &poolConfig)
	if err != nil {
		return nil, err
	}

	marketDB := &DB{
		Client: client,
		Name:   name,
	}

	if err := marketDB.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return marketDB, nil
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// DatabaseName returns the name of the market database
func (db *DB) DatabaseName() string {
	return db.Name
}

// InitializeDB ensures the required database and tables exist
// Creates all tables in parallel for efficiency
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	db.Logger.Info("Initializing market database", zap.String("database", db.Name))

	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"market_events", db.initEvents},
		{"orders", db.initOrders},
		{"order_status_events", db.initOrderStatusEvents},
		{"tokens", db.initTokens},
		{"token_set_tokens", db.initTokenSetTokens},
		{"collections", db.initCollections},
		{"nft_balances", db.initBalances},
		{"job_cursors", db.initCursors},
		{"dead_letter_events", db.initDeadLetters},
		{"order_sources", db.initSources},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	// Launch all init operations in parallel
	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			db.Logger.Debug("Initializing table", zap.String("table", name))
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	// Check for errors
	for err := range errChan {
		return err
	}

	db.Logger.Info("Market database initialized successfully",
		zap.String("database", db.Name),
		zap.Duration("duration", time.Since(initStart)))

	return nil
}
