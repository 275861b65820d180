package database

import (
	"context"
	"fmt"

	"github.com/johnewart/go-orleans-storage/query"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connection is the shared transactional session provider the stores run
// on: one GORM handle plus the query registry matching its dialect. It
// holds no other state, so any number of processes may point at the same
// backing database.
type Connection struct {
	db      *gorm.DB
	queries query.Registry
}

func OpenPostgres(dsn string) (*Connection, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("unable to open postgres connection: %w", err)
	}
	return newConnection(db, query.PostgresQueries())
}

func OpenSQLite(dsn string) (*Connection, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite connection: %w", err)
	}
	// A single writer matches the engine's own locking model and keeps
	// in-memory databases on one connection.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return newConnection(db, query.SQLiteQueries())
}

func newConnection(db *gorm.DB, queries query.Registry) (*Connection, error) {
	c := &Connection{db: db, queries: queries}
	if err := c.setupSession(); err != nil {
		return nil, err
	}
	return c, nil
}

// setupSession runs the one-time, idempotent isolation setup for the
// dialect before first use.
func (c *Connection) setupSession() error {
	setup, err := c.queries.Get(query.SessionSetup)
	if err != nil {
		return err
	}
	if result := c.db.Exec(setup); result.Error != nil {
		return fmt.Errorf("unable to prepare session: %w", result.Error)
	}
	return nil
}

func (c *Connection) Queries() query.Registry {
	return c.queries
}

// Session returns a request-scoped handle; cancellation of ctx before
// commit aborts cleanly.
func (c *Connection) Session(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

// Transaction runs fn inside one bounded transaction. Returning an error
// from fn rolls everything back.
func (c *Connection) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.db.WithContext(ctx).Transaction(fn)
}

func (c *Connection) HasTable(name string) bool {
	return c.db.Migrator().HasTable(name)
}

// Close releases the underlying connection pool. Operations issued after
// Close fail with a transient error.
func (c *Connection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
