package db

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteClient manages the connection to SQLite
type SQLiteClient struct {
	db   *sql.DB
	path string
}

// NewSQLiteClient opens a database file. The driver is chosen at build time,
// see sqlite_cgo.go and sqlite_purego.go.
func NewSQLiteClient(ctx context.Context, path string) (*SQLiteClient, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}

	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, databaseError("ping database", err)
	}

	return &SQLiteClient{db: db, path: path}, nil
}

// Close closes the database connection
func (c *SQLiteClient) Close() error {
	return c.db.Close()
}

// DB returns the underlying database handle
func (c *SQLiteClient) DB() *sql.DB {
	return c.db
}
