// Package storage persists enriched arrival records: PostgreSQL/PostGIS
// for the spatially-indexed primary store, SQLite for append-only ledgers
// and ClickHouse for the analytics archive.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"rail_delays/internal/enrich"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ClickHouseDB wraps a ClickHouse connection for the arrivals history
// archive read by the delay-analytics consumers.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying connection for direct queries.
func (d *ClickHouseDB) Conn() driver.Conn {
	return d.conn
}

// CreateSchema creates the arrivals history table.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	err := d.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS arrivals_history (
			run_date            Date,
			service_id          LowCardinality(String),
			operator            LowCardinality(String),
			origin              LowCardinality(String),
			origin_crs          LowCardinality(String),
			destination         LowCardinality(String),
			destination_crs     LowCardinality(String),
			scheduled_arrival   DateTime,
			actual_arrival      DateTime,
			delay_minutes       Int32,
			is_passenger_train  Bool,
			stop_status         LowCardinality(String),
			loaded_at           DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(run_date)
		ORDER BY (operator, run_date, service_id)
		SETTINGS index_granularity = 8192
	`)
	if err != nil {
		return fmt.Errorf("create arrivals_history: %w", err)
	}
	return nil
}

// ArchiveBatch appends enriched arrivals to the history table. The archive
// is an analytics sink, not the source of truth; duplicates from
// re-ingested windows are tolerated and deduplicated at query time.
func (d *ClickHouseDB) ArchiveBatch(ctx context.Context, arrivals []enrich.Arrival) error {
	if len(arrivals) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO arrivals_history (run_date, service_id, operator, origin, origin_crs, destination, destination_crs, scheduled_arrival, actual_arrival, delay_minutes, is_passenger_train, stop_status)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range arrivals {
		err := batch.Append(
			a.RunDate, a.ServiceID, a.Operator,
			a.Origin, a.OriginCRS, a.Destination, a.DestinationCRS,
			a.Scheduled, a.Actual, int32(a.DelayMinutes),
			a.IsPassenger, a.StopStatus,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
