/*
Package sqlstore implements engine.Store over database/sql.

PURPOSE:
  The SQL shared by the SQLite and PostgreSQL stores. Each backend supplies
  a Dialect for the handful of things that differ: placeholder syntax, how
  the next id of a sequence is drawn, how a duplicate key is recognised,
  row locking and how times are bound.

ID ASSIGNMENT:
  Every insert draws its id from the sequence first and inserts it
  explicitly. A duplicate primary key therefore always means the sequence
  fell behind the rows, and is reported as *engine.ConflictError for the
  SequenceGuard to repair.

MONEY:
  Amounts are written as decimal strings and scanned back through
  shopspring/decimal. Costs are written with four fixed places so shelf
  rows can be matched on (item, expiry, cost, slot) as text.

SORTING:
  Queries order rows, but layer and shortage ordering is re-applied in Go
  because SQLite compares decimal text lexically.

SEE ALSO:
  - store/sqlite: SQLite dialect and schema
  - store/postgres: PostgreSQL dialect and schema
  - engine/store.go: Interface definitions
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/engine"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures backend differences.
type Dialect interface {
	// Rebind converts ? placeholders to the backend's syntax.
	Rebind(query string) string
	// NextID draws the next value of seq inside q.
	NextID(ctx context.Context, q Querier, seq engine.Sequence) (int64, error)
	// SyncSequence realigns seq to max(id)+1 and returns the new next value.
	SyncSequence(ctx context.Context, q Querier, seq engine.Sequence) (int64, error)
	// SetSequence forces the next value of seq.
	SetSequence(ctx context.Context, q Querier, seq engine.Sequence, next int64) error
	// Conflict reports whether err is a duplicate primary key and on which
	// sequence-backed table.
	Conflict(err error) (engine.Sequence, bool)
	// LockClause is appended to reads of rows the unit of work will update.
	LockClause() string
	Time(t time.Time) any
	Date(t time.Time) any
}

// Store implements engine.Store, engine.Seeder and engine.SequenceSetter.
type Store struct {
	db      *sql.DB
	dialect Dialect

	// serial holds the lock across every unit of work. SQLite has a
	// single writer and one connection.
	serial bool
	mu     sync.Mutex
}

// New wraps an open database.
func New(db *sql.DB, d Dialect, serial bool) *Store {
	return &Store{db: db, dialect: d, serial: serial}
}

var (
	_ engine.Store          = (*Store)(nil)
	_ engine.Seeder         = (*Store)(nil)
	_ engine.SequenceSetter = (*Store)(nil)
)

// DB exposes the handle for migrations and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lock() func() {
	if !s.serial {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Tx) error) error {
	defer s.lock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, d: s.dialect}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// SyncSequence realigns seq to max(id)+1 in its own transaction.
func (s *Store) SyncSequence(ctx context.Context, seq engine.Sequence) (int64, error) {
	if _, ok := engine.SequenceForTable(string(seq)); !ok {
		return 0, fmt.Errorf("unknown sequence %q", seq)
	}
	defer s.lock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	next, err := s.dialect.SyncSequence(ctx, sqlTx, seq)
	if err != nil {
		return 0, fmt.Errorf("sync %s: %w", seq, err)
	}
	return next, sqlTx.Commit()
}

// SetSequence forces the next value of seq.
func (s *Store) SetSequence(ctx context.Context, seq engine.Sequence, next int64) error {
	if _, ok := engine.SequenceForTable(string(seq)); !ok {
		return fmt.Errorf("unknown sequence %q", seq)
	}
	defer s.lock()()
	return s.dialect.SetSequence(ctx, s.db, seq, next)
}

// =============================================================================
// SEEDER
// =============================================================================

func (s *Store) UpsertItem(ctx context.Context, it engine.Item) error {
	defer s.lock()()
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO items (id, name, reference_price, warehouse_threshold, warehouse_average, shelf_threshold, shelf_average)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			reference_price = excluded.reference_price,
			warehouse_threshold = excluded.warehouse_threshold,
			warehouse_average = excluded.warehouse_average,
			shelf_threshold = excluded.shelf_threshold,
			shelf_average = excluded.shelf_average`),
		it.ID, it.Name, nullDecimal(it.ReferencePrice),
		nullInt(it.WarehouseThreshold), nullInt(it.WarehouseAverage),
		nullInt(it.ShelfThreshold), nullInt(it.ShelfAverage),
	)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

func (s *Store) UpsertSupplier(ctx context.Context, sup engine.Supplier) error {
	defer s.lock()()
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO suppliers (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`),
		sup.ID, sup.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to save supplier: %w", err)
	}
	return nil
}

func (s *Store) LinkSupplier(ctx context.Context, item engine.ItemID, supplier engine.SupplierID) error {
	defer s.lock()()
	var found int
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind("SELECT COUNT(*) FROM suppliers WHERE id = ?"), supplier).Scan(&found)
	if err != nil {
		return err
	}
	if found == 0 {
		return fmt.Errorf("supplier %d: %w", supplier, engine.ErrNotFound)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO item_suppliers (item_id, supplier_id) VALUES (?, ?)
		ON CONFLICT (item_id, supplier_id) DO NOTHING`),
		item, supplier,
	)
	if err != nil {
		return fmt.Errorf("failed to link supplier: %w", err)
	}
	return nil
}

func (s *Store) Items(ctx context.Context) ([]engine.Item, error) {
	defer s.lock()()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, reference_price, warehouse_threshold, warehouse_average, shelf_threshold, shelf_average
		FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Item
	for rows.Next() {
		var it engine.Item
		var price decimal.NullDecimal
		var wt, wa, st, sa sql.NullInt64
		if err := rows.Scan(&it.ID, &it.Name, &price, &wt, &wa, &st, &sa); err != nil {
			return nil, err
		}
		it.ReferencePrice = decimalPtr(price)
		it.WarehouseThreshold, it.WarehouseAverage = intPtr(wt), intPtr(wa)
		it.ShelfThreshold, it.ShelfAverage = intPtr(st), intPtr(sa)
		out = append(out, it)
	}
	return out, rows.Err()
}

// =============================================================================
// INSPECTION (tests, CLI)
// =============================================================================

// AllLayers returns every layer at tier, including zero rows.
func (s *Store) AllLayers(ctx context.Context, tier engine.Tier) ([]engine.StockLayer, error) {
	defer s.lock()()
	t := &txStore{q: s.db, d: s.dialect}
	return t.layers(ctx, tier, "", nil)
}

// Procurements returns every procurement ordered by id.
func (s *Store) Procurements(ctx context.Context) ([]engine.Procurement, error) {
	defer s.lock()()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, status, order_date, total_cost, created_by, note
		FROM procurements ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Procurement
	for rows.Next() {
		var p engine.Procurement
		var at timeValue
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Status, &at, &p.TotalCost, &p.CreatedBy, &p.Note); err != nil {
			return nil, err
		}
		p.OrderDate = at.t
		out = append(out, p)
	}
	return out, rows.Err()
}

// ShelfEntries returns the shelf movement log ordered by id.
func (s *Store) ShelfEntries(ctx context.Context) ([]engine.ShelfEntry, error) {
	defer s.lock()()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, expiration_date, quantity, created_by, slot_id, created_at
		FROM shelf_entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ShelfEntry
	for rows.Next() {
		var e engine.ShelfEntry
		var exp, at timeValue
		if err := rows.Scan(&e.ID, &e.ItemID, &exp, &e.Quantity, &e.CreatedBy, &e.SlotID, &at); err != nil {
			return nil, err
		}
		e.ExpirationDate, e.CreatedAt = engine.Date(exp.t), at.t
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type txStore struct {
	q Querier
	d Dialect
}

func (t *txStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(ctx, t.d.Rebind(query), args...)
}

func (t *txStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(ctx, t.d.Rebind(query), args...)
}

// insert draws an id from seq and runs query with it as the first argument.
func (t *txStore) insert(ctx context.Context, seq engine.Sequence, query string, args ...any) (int64, error) {
	id, err := t.d.NextID(ctx, t.q, seq)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", seq, err)
	}
	if _, err := t.exec(ctx, query, append([]any{id}, args...)...); err != nil {
		if conflict, ok := t.d.Conflict(err); ok {
			return 0, &engine.ConflictError{Sequence: conflict, Err: err}
		}
		return 0, fmt.Errorf("insert into %s: %w", seq, err)
	}
	return id, nil
}

func mustAffect(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, engine.ErrNotFound)
	}
	return nil
}

// --- Sales ---

func (t *txStore) InsertSale(ctx context.Context, s *engine.Sale) error {
	var orig any
	if s.OriginalSaleID != nil {
		orig = int64(*s.OriginalSaleID)
	}
	id, err := t.insert(ctx, engine.SeqSales, `
		INSERT INTO sales (id, gross, discount_rate, discount_amount, final_amount,
			payment_method, operator, note, original_sale_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Gross.String(), s.DiscountRate.String(), s.DiscountAmount.String(), s.FinalAmount.String(),
		s.PaymentMethod, s.Operator, s.Note, orig, t.d.Time(s.CreatedAt),
	)
	if err != nil {
		return err
	}
	s.ID = engine.SaleID(id)
	return nil
}

func (t *txStore) UpdateSaleTotals(ctx context.Context, id engine.SaleID, tot engine.Totals) error {
	res, err := t.exec(ctx, `
		UPDATE sales SET gross = ?, discount_rate = ?, discount_amount = ?, final_amount = ?
		WHERE id = ?`,
		tot.Gross.String(), tot.Rate.String(), tot.Discount.String(), tot.Final.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale totals: %w", err)
	}
	return mustAffect(res, "sale", int64(id))
}

func (t *txStore) InsertSaleLines(ctx context.Context, lines []engine.SaleLine) error {
	for i := range lines {
		l := &lines[i]
		id, err := t.insert(ctx, engine.SeqSaleLines, `
			INSERT INTO sale_lines (id, sale_id, item_id, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.SaleID, l.ItemID, l.Quantity, l.UnitPrice.String(), l.LineTotal.String(),
		)
		if err != nil {
			return err
		}
		l.ID = id
	}
	return nil
}

func (t *txStore) GetSale(ctx context.Context, id engine.SaleID) (*engine.Sale, error) {
	row := t.q.QueryRowContext(ctx, t.d.Rebind(`
		SELECT id, gross, discount_rate, discount_amount, final_amount,
			payment_method, operator, note, original_sale_id, created_at
		FROM sales WHERE id = ?`), id)

	var s engine.Sale
	var orig sql.NullInt64
	var at timeValue
	err := row.Scan(&s.ID, &s.Gross, &s.DiscountRate, &s.DiscountAmount, &s.FinalAmount,
		&s.PaymentMethod, &s.Operator, &s.Note, &orig, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %d: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if orig.Valid {
		o := engine.SaleID(orig.Int64)
		s.OriginalSaleID = &o
	}
	s.CreatedAt = at.t
	return &s, nil
}

func (t *txStore) SaleLines(ctx context.Context, id engine.SaleID) ([]engine.SaleLine, error) {
	rows, err := t.query(ctx, `
		SELECT id, sale_id, item_id, quantity, unit_price, line_total
		FROM sale_lines WHERE sale_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.SaleLine
	for rows.Next() {
		var l engine.SaleLine
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ItemID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Layers ---

func layerTable(tier engine.Tier) (string, engine.Sequence, error) {
	switch tier {
	case engine.TierWarehouse:
		return "warehouse_layers", engine.SeqWarehouseLayers, nil
	case engine.TierShelf:
		return "shelf_layers", engine.SeqShelfLayers, nil
	}
	return "", "", fmt.Errorf("%w: %q", engine.ErrUnknownTier, tier)
}

// layers loads layers at tier. where filters with args; lock appends the
// dialect's row lock.
func (t *txStore) layers(ctx context.Context, tier engine.Tier, where string, args []any, lock ...bool) ([]engine.StockLayer, error) {
	var query string
	switch tier {
	case engine.TierWarehouse:
		query = `SELECT id, item_id, quantity, expiration_date, cost_per_unit,
			storage_location, procurement_id, cost_record_id FROM warehouse_layers`
	case engine.TierShelf:
		query = `SELECT id, item_id, quantity, expiration_date, cost_per_unit,
			slot_id, last_updated FROM shelf_layers`
	default:
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownTier, tier)
	}
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY expiration_date, id"
	if len(lock) > 0 && lock[0] {
		query += t.d.LockClause()
	}

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.StockLayer
	for rows.Next() {
		l := engine.StockLayer{Tier: tier}
		var exp timeValue
		if tier == engine.TierWarehouse {
			var loc sql.NullString
			var proc, cost sql.NullInt64
			if err := rows.Scan(&l.ID, &l.ItemID, &l.Quantity, &exp, &l.CostPerUnit, &loc, &proc, &cost); err != nil {
				return nil, err
			}
			l.StorageLocation = loc.String
			if proc.Valid {
				p := engine.ProcurementID(proc.Int64)
				l.ProcurementID = &p
			}
			if cost.Valid {
				c := engine.CostRecordID(cost.Int64)
				l.CostRecordID = &c
			}
		} else {
			var updated timeValue
			if err := rows.Scan(&l.ID, &l.ItemID, &l.Quantity, &exp, &l.CostPerUnit, &l.SlotID, &updated); err != nil {
				return nil, err
			}
			if updated.valid {
				u := updated.t
				l.LastUpdated = &u
			}
		}
		l.ExpirationDate = engine.Date(exp.t)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	engine.SortLayers(out)
	return out, nil
}

func (t *txStore) Layers(ctx context.Context, item engine.ItemID, tier engine.Tier) ([]engine.StockLayer, error) {
	return t.layers(ctx, tier, "item_id = ? AND quantity > 0", []any{item}, true)
}

func (t *txStore) DeleteLayer(ctx context.Context, tier engine.Tier, id engine.LayerID) error {
	table, _, err := layerTable(tier)
	if err != nil {
		return err
	}
	res, err := t.exec(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete layer: %w", err)
	}
	return mustAffect(res, string(tier)+" layer", int64(id))
}

func (t *txStore) SetLayerQuantity(ctx context.Context, tier engine.Tier, id engine.LayerID, qty int, at time.Time) error {
	var res sql.Result
	var err error
	switch tier {
	case engine.TierWarehouse:
		res, err = t.exec(ctx, "UPDATE warehouse_layers SET quantity = ? WHERE id = ?", qty, id)
	case engine.TierShelf:
		res, err = t.exec(ctx, "UPDATE shelf_layers SET quantity = ?, last_updated = ? WHERE id = ?", qty, t.d.Time(at), id)
	default:
		return fmt.Errorf("%w: %q", engine.ErrUnknownTier, tier)
	}
	if err != nil {
		return fmt.Errorf("failed to update layer: %w", err)
	}
	return mustAffect(res, string(tier)+" layer", int64(id))
}

func (t *txStore) InsertLayer(ctx context.Context, l *engine.StockLayer) error {
	l.ExpirationDate = engine.Date(l.ExpirationDate)
	cost := costText(l.CostPerUnit)

	if l.Tier == engine.TierWarehouse {
		id, err := t.insert(ctx, engine.SeqWarehouseLayers, `
			INSERT INTO warehouse_layers (id, item_id, quantity, expiration_date, cost_per_unit,
				storage_location, procurement_id, cost_record_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ItemID, l.Quantity, t.d.Date(l.ExpirationDate), cost,
			nullString(l.StorageLocation), nullID(l.ProcurementID), nullID(l.CostRecordID),
		)
		if err != nil {
			return err
		}
		l.ID = engine.LayerID(id)
		return nil
	}
	if l.Tier != engine.TierShelf {
		return fmt.Errorf("%w: %q", engine.ErrUnknownTier, l.Tier)
	}

	var updated any
	if l.LastUpdated != nil {
		updated = t.d.Time(*l.LastUpdated)
	}

	var existing int64
	err := t.q.QueryRowContext(ctx, t.d.Rebind(`
		SELECT id FROM shelf_layers
		WHERE item_id = ? AND expiration_date = ? AND cost_per_unit = ? AND slot_id = ?`),
		l.ItemID, t.d.Date(l.ExpirationDate), cost, l.SlotID,
	).Scan(&existing)
	switch {
	case err == nil:
		if _, err := t.exec(ctx, `
			UPDATE shelf_layers SET quantity = quantity + ?, last_updated = ? WHERE id = ?`,
			l.Quantity, updated, existing); err != nil {
			return fmt.Errorf("failed to top up shelf layer: %w", err)
		}
		l.ID = engine.LayerID(existing)
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to find shelf layer: %w", err)
	}

	id, err := t.insert(ctx, engine.SeqShelfLayers, `
		INSERT INTO shelf_layers (id, item_id, quantity, expiration_date, cost_per_unit, slot_id, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ItemID, l.Quantity, t.d.Date(l.ExpirationDate), cost, l.SlotID, updated,
	)
	if err != nil {
		return err
	}
	l.ID = engine.LayerID(id)
	return nil
}

func (t *txStore) PruneShelf(ctx context.Context) (int, error) {
	res, err := t.exec(ctx, "DELETE FROM shelf_layers WHERE quantity <= 0")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *txStore) InsertShelfEntry(ctx context.Context, e *engine.ShelfEntry) error {
	id, err := t.insert(ctx, engine.SeqShelfEntries, `
		INSERT INTO shelf_entries (id, item_id, expiration_date, quantity, created_by, slot_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ItemID, t.d.Date(e.ExpirationDate), e.Quantity, e.CreatedBy, e.SlotID, t.d.Time(e.CreatedAt),
	)
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// --- Snapshots ---

func (t *txStore) StockLevels(ctx context.Context, tier engine.Tier) ([]engine.ItemStock, error) {
	table, _, err := layerTable(tier)
	if err != nil {
		return nil, err
	}
	levels := "warehouse_threshold, warehouse_average"
	if tier == engine.TierShelf {
		levels = "shelf_threshold, shelf_average"
	}

	rows, err := t.query(ctx, "SELECT id, name, reference_price, "+levels+" FROM items ORDER BY id")
	if err != nil {
		return nil, err
	}
	byItem := make(map[engine.ItemID]*engine.ItemStock)
	var order []engine.ItemID
	for rows.Next() {
		var s engine.ItemStock
		var price decimal.NullDecimal
		var th, avg sql.NullInt64
		if err := rows.Scan(&s.ItemID, &s.Name, &price, &th, &avg); err != nil {
			rows.Close()
			return nil, err
		}
		s.ReferencePrice = decimalPtr(price)
		s.Threshold, s.Average = intPtr(th), intPtr(avg)
		byItem[s.ItemID] = &s
		order = append(order, s.ItemID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = t.query(ctx, "SELECT item_id, COALESCE(SUM(quantity), 0) FROM "+table+" GROUP BY item_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item engine.ItemID
		var qty int64
		if err := rows.Scan(&item, &qty); err != nil {
			return nil, err
		}
		s, ok := byItem[item]
		if !ok {
			s = &engine.ItemStock{ItemID: item}
			byItem[item] = s
			order = append(order, item)
		}
		s.Current = int(qty)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]engine.ItemStock, 0, len(order))
	for _, id := range order {
		out = append(out, *byItem[id])
	}
	return out, nil
}

func (t *txStore) SupplierFor(ctx context.Context, item engine.ItemID) (engine.SupplierID, bool, error) {
	var sup engine.SupplierID
	err := t.q.QueryRowContext(ctx, t.d.Rebind(`
		SELECT supplier_id FROM item_suppliers WHERE item_id = ?
		ORDER BY supplier_id LIMIT 1`), item).Scan(&sup)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return sup, true, nil
}

// --- Shortages ---

func (t *txStore) shortages(ctx context.Context, where string, args []any, lock bool) ([]engine.Shortage, error) {
	query := `SELECT id, sale_id, item_id, outstanding, resolved, resolved_by, resolved_at, logged_at
		FROM shortages WHERE outstanding > 0`
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY logged_at, id"
	if lock {
		query += t.d.LockClause()
	}

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Shortage
	for rows.Next() {
		var s engine.Shortage
		var by sql.NullString
		var resolvedAt, loggedAt timeValue
		if err := rows.Scan(&s.ID, &s.SaleID, &s.ItemID, &s.Outstanding, &s.Resolved, &by, &resolvedAt, &loggedAt); err != nil {
			return nil, err
		}
		s.ResolvedBy = by.String
		if resolvedAt.valid {
			r := resolvedAt.t
			s.ResolvedAt = &r
		}
		s.LoggedAt = loggedAt.t
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LoggedAt.Equal(out[j].LoggedAt) {
			return out[i].LoggedAt.Before(out[j].LoggedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *txStore) OpenShortages(ctx context.Context, item engine.ItemID) ([]engine.Shortage, error) {
	return t.shortages(ctx, "item_id = ?", []any{item}, true)
}

func (t *txStore) AllShortages(ctx context.Context) ([]engine.Shortage, error) {
	return t.shortages(ctx, "", nil, false)
}

func (t *txStore) InsertShortage(ctx context.Context, s *engine.Shortage) error {
	id, err := t.insert(ctx, engine.SeqShortages, `
		INSERT INTO shortages (id, sale_id, item_id, outstanding, resolved, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.SaleID, s.ItemID, s.Outstanding, s.Resolved, t.d.Time(s.LoggedAt),
	)
	if err != nil {
		return err
	}
	s.ID = engine.ShortageID(id)
	return nil
}

func (t *txStore) DeleteShortage(ctx context.Context, id engine.ShortageID) error {
	res, err := t.exec(ctx, "DELETE FROM shortages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete shortage: %w", err)
	}
	return mustAffect(res, "shortage", int64(id))
}

func (t *txStore) ReduceShortage(ctx context.Context, id engine.ShortageID, qty int, resolver string, at time.Time) error {
	res, err := t.exec(ctx, `
		UPDATE shortages
		SET outstanding = outstanding - ?, resolved = resolved + ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?`,
		qty, qty, resolver, t.d.Time(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reduce shortage: %w", err)
	}
	return mustAffect(res, "shortage", int64(id))
}

// --- Procurement ---

func (t *txStore) InsertProcurement(ctx context.Context, p *engine.Procurement) error {
	id, err := t.insert(ctx, engine.SeqProcurements, `
		INSERT INTO procurements (id, supplier_id, status, order_date, total_cost, created_by, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.SupplierID, p.Status, t.d.Time(p.OrderDate), p.TotalCost.String(), p.CreatedBy, p.Note,
	)
	if err != nil {
		return err
	}
	p.ID = engine.ProcurementID(id)
	return nil
}

func (t *txStore) InsertProcurementLine(ctx context.Context, l *engine.ProcurementLine) error {
	id, err := t.insert(ctx, engine.SeqProcurementLines, `
		INSERT INTO procurement_lines (id, procurement_id, item_id, ordered, received, estimated_price)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ProcurementID, l.ItemID, l.Ordered, l.Received, l.EstimatedPrice.String(),
	)
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

func (t *txStore) InsertCostRecord(ctx context.Context, c *engine.CostRecord) error {
	id, err := t.insert(ctx, engine.SeqCostRecords, `
		INSERT INTO cost_records (id, procurement_id, item_id, cost_per_unit, quantity, cost_date, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ProcurementID, c.ItemID, costText(c.CostPerUnit), c.Quantity, t.d.Time(c.CostDate), c.Note,
	)
	if err != nil {
		return err
	}
	c.ID = engine.CostRecordID(id)
	return nil
}

func (t *txStore) RefreshProcurementTotal(ctx context.Context, id engine.ProcurementID) (decimal.Decimal, error) {
	rows, err := t.query(ctx, "SELECT cost_per_unit, quantity FROM cost_records WHERE procurement_id = ?", id)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for rows.Next() {
		var cost decimal.Decimal
		var qty int64
		if err := rows.Scan(&cost, &qty); err != nil {
			rows.Close()
			return decimal.Zero, err
		}
		total = total.Add(cost.Mul(decimal.NewFromInt(qty)))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}

	res, err := t.exec(ctx, "UPDATE procurements SET total_cost = ? WHERE id = ?", total.String(), id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to refresh procurement total: %w", err)
	}
	return total, mustAffect(res, "procurement", int64(id))
}

// =============================================================================
// HELPERS
// =============================================================================

// Rebind rewrites ? placeholders as $1, $2, ...
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func costText(d decimal.Decimal) string {
	return d.StringFixed(4)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullID[T ~int64](id *T) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}

// timeValue scans timestamps stored natively or as text.
type timeValue struct {
	t     time.Time
	valid bool
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05", engine.DateLayout}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		*v = timeValue{}
		return nil
	case time.Time:
		*v = timeValue{t: x.UTC(), valid: true}
		return nil
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (v *timeValue) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*v = timeValue{t: t.UTC(), valid: true}
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}
