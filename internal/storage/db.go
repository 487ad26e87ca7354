package storage

import (
	"context"
	"fmt"
)

// Config holds settings for every store the pipeline can write to.
// PostgreSQL is required; the ClickHouse archive is optional.
type Config struct {
	Postgres   PostgresConfig    `yaml:"postgres" validate:"required"`
	ClickHouse *ClickHouseConfig `yaml:"clickhouse,omitempty"`
	LedgerPath string            `yaml:"ledger_path"`
}

// DefaultConfig returns a configuration with local development defaults.
func DefaultConfig() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "rail_delays",
			User:     "rail",
			Password: "rail",
		},
		LedgerPath: "ledgers.db",
	}
}

// DB bundles the stores for one pipeline run.
type DB struct {
	PG     *PostgresDB   // primary spatially-indexed store
	CH     *ClickHouseDB // analytics archive, nil when not configured
	Ledger *LedgerDB     // append-only side channels
}

// Open opens all configured stores. On partial failure everything already
// opened is closed again.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	pg, err := OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	ledger, err := OpenLedger(cfg.LedgerPath)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}

	db := &DB{PG: pg, Ledger: ledger}

	if cfg.ClickHouse != nil {
		ch, err := OpenClickHouse(ctx, *cfg.ClickHouse)
		if err != nil {
			_ = ledger.Close()
			pg.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		db.CH = ch
	}

	return db, nil
}

// Close closes every open store.
func (d *DB) Close() error {
	var first error
	if d.CH != nil {
		if err := d.CH.Close(); err != nil && first == nil {
			first = fmt.Errorf("clickhouse: %w", err)
		}
	}
	if d.Ledger != nil {
		if err := d.Ledger.Close(); err != nil && first == nil {
			first = fmt.Errorf("ledger: %w", err)
		}
	}
	if d.PG != nil {
		d.PG.Close()
	}
	return first
}

// CreateSchemas creates the schema in every open store.
func (d *DB) CreateSchemas(ctx context.Context) error {
	if err := d.PG.CreateSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	if d.CH != nil {
		if err := d.CH.CreateSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}
