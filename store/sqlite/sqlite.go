/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.Store, engine.Seeder and engine.SequenceSetter on
  SQLite. The SQL itself lives in store/sqlstore; this package supplies the
  schema and the SQLite dialect.

SEQUENCES:
  SQLite has no standalone sequences, so each key space is a row in the
  sequences table. Ids are drawn from it inside the unit of work and
  inserted explicitly. A duplicate primary key means the row in sequences
  fell behind, which is exactly the drift the SequenceGuard repairs.

KEY TABLES:
  sales, sale_lines:              Receipts
  warehouse_layers, shelf_layers: Stock by cost and expiry
  shortages:                      Open promises
  procurements, procurement_lines, cost_records: Synthetic purchase orders
  shelf_entries:                  Shelf movement log
  sequences:                      Next id per key space

CONCURRENCY:
  One connection and a store-level mutex around each unit of work. SQLite
  allows a single writer anyway.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/pos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  eng := engine.New(st, engine.DefaultConfig(), logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/sqlstore: Shared SQL
  - store/postgres: PostgreSQL dialect
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/store/sqlstore"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*sqlstore.Store
}

// New creates a new SQLite store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Dialect{}, true)}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		reference_price TEXT,
		warehouse_threshold INTEGER,
		warehouse_average INTEGER,
		shelf_threshold INTEGER,
		shelf_average INTEGER
	);

	CREATE TABLE IF NOT EXISTS suppliers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS item_suppliers (
		item_id INTEGER NOT NULL,
		supplier_id INTEGER NOT NULL REFERENCES suppliers(id),
		PRIMARY KEY (item_id, supplier_id)
	);

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY,
		gross TEXT NOT NULL,
		discount_rate TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		final_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		operator TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		original_sale_id INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sale_lines (
		id INTEGER PRIMARY KEY,
		sale_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_lines_sale ON sale_lines(sale_id);

	CREATE TABLE IF NOT EXISTS warehouse_layers (
		id INTEGER PRIMARY KEY,
		item_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		expiration_date TEXT NOT NULL,
		cost_per_unit TEXT NOT NULL,
		storage_location TEXT,
		procurement_id INTEGER,
		cost_record_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_warehouse_layers_item ON warehouse_layers(item_id, expiration_date);

	CREATE TABLE IF NOT EXISTS shelf_layers (
		id INTEGER PRIMARY KEY,
		item_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		expiration_date TEXT NOT NULL,
		cost_per_unit TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		last_updated TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_shelf_layers_key
		ON shelf_layers(item_id, expiration_date, cost_per_unit, slot_id);

	CREATE TABLE IF NOT EXISTS shortages (
		id INTEGER PRIMARY KEY,
		sale_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		outstanding INTEGER NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolved_by TEXT,
		resolved_at TEXT,
		logged_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shortages_item ON shortages(item_id, logged_at);

	CREATE TABLE IF NOT EXISTS procurements (
		id INTEGER PRIMARY KEY,
		supplier_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		order_date TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		created_by TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS procurement_lines (
		id INTEGER PRIMARY KEY,
		procurement_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		ordered INTEGER NOT NULL,
		received INTEGER NOT NULL,
		estimated_price TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cost_records (
		id INTEGER PRIMARY KEY,
		procurement_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		cost_per_unit TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		cost_date TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_cost_records_procurement ON cost_records(procurement_id);

	CREATE TABLE IF NOT EXISTS shelf_entries (
		id INTEGER PRIMARY KEY,
		item_id INTEGER NOT NULL,
		expiration_date TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		next_value INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	for _, seq := range engine.AllSequences {
		if _, err := db.Exec(`INSERT OR IGNORE INTO sequences (name, next_value) VALUES (?, 1)`, string(seq)); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears all data (for testing/demos). Catalog rows are kept.
func (s *Store) Reset(ctx context.Context) error {
	db := s.DB()
	for _, seq := range engine.AllSequences {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+string(seq)); err != nil {
			return err
		}
	}
	_, err := db.ExecContext(ctx, "UPDATE sequences SET next_value = 1")
	return err
}

// =============================================================================
// DIALECT
// =============================================================================

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Rebind(query string) string { return query }

func (Dialect) NextID(ctx context.Context, q sqlstore.Querier, seq engine.Sequence) (int64, error) {
	var next int64
	err := q.QueryRowContext(ctx, "SELECT next_value FROM sequences WHERE name = ?", string(seq)).Scan(&next)
	if err != nil {
		return 0, err
	}
	if _, err := q.ExecContext(ctx, "UPDATE sequences SET next_value = ? WHERE name = ?", next+1, string(seq)); err != nil {
		return 0, err
	}
	return next, nil
}

func (Dialect) SyncSequence(ctx context.Context, q sqlstore.Querier, seq engine.Sequence) (int64, error) {
	var next int64
	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM "+string(seq)).Scan(&next)
	if err != nil {
		return 0, err
	}
	if _, err := q.ExecContext(ctx, "UPDATE sequences SET next_value = ? WHERE name = ?", next, string(seq)); err != nil {
		return 0, err
	}
	return next, nil
}

func (Dialect) SetSequence(ctx context.Context, q sqlstore.Querier, seq engine.Sequence, next int64) error {
	_, err := q.ExecContext(ctx, "UPDATE sequences SET next_value = ? WHERE name = ?", next, string(seq))
	return err
}

// Conflict recognises "UNIQUE constraint failed: <table>.id".
func (Dialect) Conflict(err error) (engine.Sequence, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return "", false
	}
	if se.ExtendedCode != sqlite3.ErrConstraintPrimaryKey && se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return "", false
	}
	_, cols, ok := strings.Cut(se.Error(), "constraint failed: ")
	if !ok {
		return "", false
	}
	table, col, ok := strings.Cut(cols, ".")
	if !ok || col != "id" {
		return "", false
	}
	return engine.SequenceForTable(table)
}

func (Dialect) LockClause() string { return "" }

func (Dialect) Time(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) }

func (Dialect) Date(t time.Time) any { return engine.Date(t).Format(engine.DateLayout) }
