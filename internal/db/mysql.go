package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// MySQLClient manages the connection to MySQL
type MySQLClient struct {
	db       *sql.DB
	database string
}

// NewMySQLClient creates a new MySQL client from a driver DSN such as
// user:pass@tcp(host:3306)/shop
func NewMySQLClient(ctx context.Context, dsn string) (*MySQLClient, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.DBName == "" {
		return nil, fmt.Errorf("MySQL DSN must name a database")
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	db := sql.OpenDB(connector)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, databaseError("ping database", err)
	}

	return &MySQLClient{db: db, database: cfg.DBName}, nil
}

// Close closes the database connection
func (c *MySQLClient) Close() error {
	return c.db.Close()
}

// DB returns the underlying database handle
func (c *MySQLClient) DB() *sql.DB {
	return c.db
}

// Database returns the database named in the DSN
func (c *MySQLClient) Database() string {
	return c.database
}
