package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient manages the connection pool to PostgreSQL
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, databaseError("connect to database", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, databaseError("ping database", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// Close closes every pooled connection
func (c *PostgresClient) Close() error {
	c.pool.Close()
	return nil
}

// Pool returns the underlying pool
func (c *PostgresClient) Pool() *pgxpool.Pool {
	return c.pool
}
