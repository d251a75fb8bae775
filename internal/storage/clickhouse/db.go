// Package clickhouse implements the durable-store boundary on top of
// ClickHouse. Signature rows are keyed (chain_id, height, address) on a
// ReplacingMergeTree, so re-inserting the same fact is harmless and the
// sink's at-least-once delivery is safe.
package clickhouse

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds ClickHouse connection settings. Credentials normally come
// from the environment (expanded into the YAML config).
type Config struct {
	Addr        string        `yaml:"addr"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Migrate     bool          `yaml:"migrate"`
}

// DB wraps a native ClickHouse connection.
type DB struct {
	conn driver.Conn
}

// Open connects, pings, and optionally applies the embedded migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if cfg.Migrate {
		if err := migrate(opts); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return &DB{conn: conn}, nil
}

// migrate runs goose over a database/sql handle; the native conn is kept
// for the batch-insert path.
func migrate(opts *clickhouse.Options) error {
	db := clickhouse.OpenDB(opts)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Health checks connectivity.
func (db *DB) Health(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Close releases the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
