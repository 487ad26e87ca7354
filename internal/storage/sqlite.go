package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"rail_delays/internal/normalize"
)

// LedgerDB is the append-only side-channel store: services still missing
// an actual arrival, and records dropped by validation or geocoding.
// Entries are only ever inserted; curation happens by reading, never by
// mutating.
type LedgerDB struct {
	db *sql.DB
}

// OpenLedger opens or creates the SQLite ledger database at the given
// path. An empty path or ":memory:" uses an in-memory database.
func OpenLedger(path string) (*LedgerDB, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &LedgerDB{db: db}, nil
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS missing_arrivals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_date TEXT NOT NULL,
	service_id TEXT NOT NULL,
	operator TEXT,
	scheduled_arrival TEXT,
	origin TEXT,
	destination TEXT,
	recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dropped_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reason TEXT NOT NULL,
	run_date TEXT,
	service_id TEXT,
	operator TEXT,
	scheduled_arrival TEXT,
	origin TEXT,
	destination TEXT,
	detail TEXT,
	recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_missing_service ON missing_arrivals(service_id, run_date);
CREATE INDEX IF NOT EXISTS idx_dropped_reason ON dropped_records(reason);
`

// Close closes the ledger database.
func (d *LedgerDB) Close() error {
	return d.db.Close()
}

// AppendMissing records services with no actual arrival yet.
func (d *LedgerDB) AppendMissing(ctx context.Context, entries []normalize.Rejection) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO missing_arrivals (run_date, service_id, operator, scheduled_arrival, origin, destination)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare missing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.RunDate, e.ServiceID, e.Operator, e.ScheduledArrival, e.Origin, e.Destination); err != nil {
			return fmt.Errorf("append missing arrival %s: %w", e.ServiceID, err)
		}
	}
	return tx.Commit()
}

// AppendDropped records quarantined and validation-rejected records with
// their reason codes.
func (d *LedgerDB) AppendDropped(ctx context.Context, entries []normalize.Rejection) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dropped_records (reason, run_date, service_id, operator, scheduled_arrival, origin, destination, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare dropped insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, string(e.Reason), e.RunDate, e.ServiceID, e.Operator, e.ScheduledArrival, e.Origin, e.Destination, e.Detail); err != nil {
			return fmt.Errorf("append dropped record %s: %w", e.ServiceID, err)
		}
	}
	return tx.Commit()
}

// MissingCount reports the number of missing-arrival entries.
func (d *LedgerDB) MissingCount(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM missing_arrivals`).Scan(&n)
	return n, err
}

// DroppedCount reports the number of dropped-record entries, optionally
// filtered by reason ("" counts all).
func (d *LedgerDB) DroppedCount(ctx context.Context, reason normalize.Reason) (int, error) {
	var n int
	var err error
	if reason == "" {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dropped_records`).Scan(&n)
	} else {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dropped_records WHERE reason = ?`, string(reason)).Scan(&n)
	}
	return n, err
}

// ListDropped returns the most recent dropped records, newest first.
func (d *LedgerDB) ListDropped(ctx context.Context, limit int) ([]normalize.Rejection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT reason, run_date, service_id, operator, scheduled_arrival, origin, destination, detail
		FROM dropped_records ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []normalize.Rejection
	for rows.Next() {
		var e normalize.Rejection
		var reason string
		if err := rows.Scan(&reason, &e.RunDate, &e.ServiceID, &e.Operator, &e.ScheduledArrival, &e.Origin, &e.Destination, &e.Detail); err != nil {
			return nil, err
		}
		e.Reason = normalize.Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}
