package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rail_delays/internal/enrich"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	Database string `yaml:"database" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
}

// PersistenceError wraps any batch-load failure. The original database
// error is always preserved; rollback failures are logged, never allowed
// to mask it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// PostgresDB wraps a PostgreSQL connection pool for the spatially-indexed
// arrivals store.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// CreateSchema creates the PostGIS extension, the arrivals relation and
// its indexes. Owned by the init-db command; LoadBatch only verifies.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS postgis`); err != nil {
		return fmt.Errorf("create postgis extension: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS arrivals_tracking (
		id                      BIGSERIAL PRIMARY KEY,
		run_date                DATE NOT NULL,
		service_id              TEXT NOT NULL,
		operator                TEXT NOT NULL,
		origin                  TEXT NOT NULL,
		origin_crs              TEXT NOT NULL,
		origin_latitude         DOUBLE PRECISION NOT NULL,
		origin_longitude        DOUBLE PRECISION NOT NULL,
		origin_geom             geometry(Point, 4326) NOT NULL,
		destination             TEXT NOT NULL,
		destination_crs         TEXT NOT NULL,
		destination_latitude    DOUBLE PRECISION NOT NULL,
		destination_longitude   DOUBLE PRECISION NOT NULL,
		destination_geom        geometry(Point, 4326) NOT NULL,
		scheduled_arrival       TIMESTAMPTZ NOT NULL,
		actual_arrival          TIMESTAMPTZ,
		is_actual               BOOLEAN NOT NULL DEFAULT FALSE,
		delay_minutes           INTEGER,
		is_passenger_train      BOOLEAN NOT NULL DEFAULT TRUE,
		was_scheduled_to_stop   BOOLEAN NOT NULL DEFAULT FALSE,
		stop_status             TEXT NOT NULL DEFAULT 'UNKNOWN',
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (service_id, run_date)
	);

	CREATE INDEX IF NOT EXISTS idx_arrivals_run_date ON arrivals_tracking(run_date);
	CREATE INDEX IF NOT EXISTS idx_arrivals_operator ON arrivals_tracking(operator);
	CREATE INDEX IF NOT EXISTS idx_arrivals_origin_geom ON arrivals_tracking USING gist(origin_geom);
	CREATE INDEX IF NOT EXISTS idx_arrivals_destination_geom ON arrivals_tracking USING gist(destination_geom);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// checkLoadPreconditions verifies the target relation and both spatial
// indexes exist. Loading without them would silently degrade every
// downstream spatial query to a full scan, so the loader fails fast.
func (d *PostgresDB) checkLoadPreconditions(ctx context.Context) error {
	var relation *string
	err := d.pool.QueryRow(ctx, `SELECT to_regclass('arrivals_tracking')::text`).Scan(&relation)
	if err != nil {
		return &PersistenceError{Op: "check relation", Err: err}
	}
	if relation == nil {
		return &PersistenceError{Op: "check relation", Err: fmt.Errorf("relation arrivals_tracking does not exist; run init-db first")}
	}

	rows, err := d.pool.Query(ctx, `
		SELECT indexname FROM pg_indexes
		WHERE tablename = 'arrivals_tracking'
		  AND indexname IN ('idx_arrivals_origin_geom', 'idx_arrivals_destination_geom')
	`)
	if err != nil {
		return &PersistenceError{Op: "check indexes", Err: err}
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return &PersistenceError{Op: "check indexes", Err: err}
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return &PersistenceError{Op: "check indexes", Err: err}
	}
	if found != 2 {
		return &PersistenceError{Op: "check indexes", Err: fmt.Errorf("spatial indexes missing on arrivals_tracking; run init-db first")}
	}
	return nil
}

const upsertArrivalSQL = `
	INSERT INTO arrivals_tracking (
		run_date, service_id, operator,
		origin, origin_crs, origin_latitude, origin_longitude, origin_geom,
		destination, destination_crs, destination_latitude, destination_longitude, destination_geom,
		scheduled_arrival, actual_arrival, is_actual, delay_minutes,
		is_passenger_train, was_scheduled_to_stop, stop_status
	)
	VALUES (
		$1, $2, $3,
		$4, $5, $6, $7, ST_SetSRID(ST_MakePoint($7, $6), 4326),
		$8, $9, $10, $11, ST_SetSRID(ST_MakePoint($11, $10), 4326),
		$12, $13, $14, $15,
		$16, $17, $18
	)
	ON CONFLICT (service_id, run_date) DO UPDATE SET
		operator = EXCLUDED.operator,
		origin = EXCLUDED.origin,
		origin_crs = EXCLUDED.origin_crs,
		origin_latitude = EXCLUDED.origin_latitude,
		origin_longitude = EXCLUDED.origin_longitude,
		origin_geom = EXCLUDED.origin_geom,
		destination = EXCLUDED.destination,
		destination_crs = EXCLUDED.destination_crs,
		destination_latitude = EXCLUDED.destination_latitude,
		destination_longitude = EXCLUDED.destination_longitude,
		destination_geom = EXCLUDED.destination_geom,
		scheduled_arrival = EXCLUDED.scheduled_arrival,
		actual_arrival = EXCLUDED.actual_arrival,
		is_actual = EXCLUDED.is_actual,
		delay_minutes = EXCLUDED.delay_minutes,
		is_passenger_train = EXCLUDED.is_passenger_train,
		was_scheduled_to_stop = EXCLUDED.was_scheduled_to_stop,
		stop_status = EXCLUDED.stop_status,
		updated_at = NOW()
`

// LoadBatch upserts the whole batch inside a single transaction, keyed by
// (service_id, run_date) so re-ingesting a window replaces rows instead of
// duplicating them. Any single-record failure rolls back the entire batch.
func (d *PostgresDB) LoadBatch(ctx context.Context, batch []enrich.Arrival) error {
	if len(batch) == 0 {
		return nil
	}

	if err := d.checkLoadPreconditions(ctx); err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin", Err: err}
	}

	rollback := func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Printf("rollback failed: %v", rbErr)
		}
	}

	for _, a := range batch {
		_, err := tx.Exec(ctx, upsertArrivalSQL,
			a.RunDate, a.ServiceID, a.Operator,
			a.Origin, a.OriginCRS, a.OriginLat, a.OriginLon,
			a.Destination, a.DestinationCRS, a.DestinationLat, a.DestinationLon,
			a.Scheduled, a.Actual, a.IsActual, a.DelayMinutes,
			a.IsPassenger, a.WasScheduledToStop, a.StopStatus,
		)
		if err != nil {
			rollback()
			return &PersistenceError{
				Op:  fmt.Sprintf("upsert %s %s", a.ServiceID, a.RunDate.Format("2006-01-02")),
				Err: err,
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		rollback()
		return &PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// CountArrivals reports rows for a (service_id, run_date) pair. Used by
// idempotence checks and diagnostics.
func (d *PostgresDB) CountArrivals(ctx context.Context, serviceID string, runDate time.Time) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM arrivals_tracking WHERE service_id = $1 AND run_date = $2
	`, serviceID, runDate).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
