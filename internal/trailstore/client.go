package trailstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"livetrail.dev/internal/appconf"
	"livetrail.dev/internal/logging"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schema.sql
var ddl string

const memoryPath = ":memory:"

// ErrFileDBInTest is returned when a test configuration points at a file.
var ErrFileDBInTest = errors.New("test environment requires an in-memory database")

// Client is the SQLite implementation of Store.
type Client struct {
	config Config
	DB     *sql.DB
	logger *slog.Logger
}

var _ Store = (*Client)(nil)

// NewClient opens the database and applies the embedded schema.
func NewClient(config Config) (*Client, error) {
	if config.Env == appconf.Test && config.DBPath != memoryPath {
		return nil, fmt.Errorf("%w: %s", ErrFileDBInTest, config.DBPath)
	}

	db, err := sql.Open("sqlite", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if config.DBPath == memoryPath {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
			logging.SafeCloseWithLogging(db, config.Logger, "close_after_pragma_failure")
			return nil, fmt.Errorf("error enabling WAL: %w", err)
		}
	}

	if err := performDatabaseMigration(context.Background(), db); err != nil {
		logging.SafeCloseWithLogging(db, config.Logger, "close_after_migration_failure")
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{config: config, DB: db, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	statements := strings.Split(ddl, "-- migrate")
	for _, stmt := range statements {
		trimmedStmt := strings.TrimSpace(stmt)
		if trimmedStmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmedStmt); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmedStmt, err)
		}
	}
	return nil
}
