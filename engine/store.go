/*
store.go - Unit of work and persistence contracts

PURPOSE:
  Defines the boundary between the engine and the database. Every public
  engine operation runs inside exactly one unit of work obtained from
  Store.WithTx; the Tx handle is passed down explicitly to every helper.

KEY INTERFACES:
  Store:  Opens units of work and repairs sequences
  Tx:     All reads and writes available inside one unit of work
  Seeder: Catalog writes used by tests, the CLI and the simulator

UNIT OF WORK:
  WithTx commits when fn returns nil and rolls back otherwise. Helpers that
  receive a Tx never open a transaction of their own, so nesting cannot
  happen: there is no way to reach the Store from inside fn.

SEQUENCES:
  Ids are assigned by the store from per-table sequences. When a sequence
  falls behind the rows it guards (stale counters, writers that insert
  explicit ids) an insert reports *ConflictError. SyncSequence realigns the
  counter to max(id)+1; the SequenceGuard decides when to call it.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory, snapshot rollback
  - store/sqlstore: Shared SQL for the database stores
  - store/sqlite/sqlite.go: SQLite with emulated sequences
  - store/postgres/postgres.go: PostgreSQL serial sequences

SEE ALSO:
  - sequence.go: Retry policy
  - engine.go: Operations that open units of work
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SEQUENCES
// =============================================================================

// Sequence names an auto-incrementing key space. The value is the table name.
type Sequence string

const (
	SeqSales            Sequence = "sales"
	SeqSaleLines        Sequence = "sale_lines"
	SeqShortages        Sequence = "shortages"
	SeqWarehouseLayers  Sequence = "warehouse_layers"
	SeqShelfLayers      Sequence = "shelf_layers"
	SeqProcurements     Sequence = "procurements"
	SeqProcurementLines Sequence = "procurement_lines"
	SeqCostRecords      Sequence = "cost_records"
	SeqShelfEntries     Sequence = "shelf_entries"
)

// AllSequences lists every key space in dependency order.
var AllSequences = []Sequence{
	SeqSales,
	SeqSaleLines,
	SeqShortages,
	SeqWarehouseLayers,
	SeqShelfLayers,
	SeqProcurements,
	SeqProcurementLines,
	SeqCostRecords,
	SeqShelfEntries,
}

// SequenceForTable maps a table name reported by a driver to its sequence.
func SequenceForTable(table string) (Sequence, bool) {
	for _, s := range AllSequences {
		if string(s) == table {
			return s, true
		}
	}
	return "", false
}

// =============================================================================
// STORE
// =============================================================================

// Store opens units of work.
type Store interface {
	// WithTx executes fn within one atomic unit of work.
	// If fn returns error, everything it wrote is rolled back.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// SyncSequence realigns seq to max(id)+1 and returns the new next value.
	// It runs in its own short transaction and must not be called from fn.
	SyncSequence(ctx context.Context, seq Sequence) (int64, error)
}

// Tx is the set of operations available inside one unit of work.
type Tx interface {
	// Sales
	InsertSale(ctx context.Context, s *Sale) error
	UpdateSaleTotals(ctx context.Context, id SaleID, t Totals) error
	InsertSaleLines(ctx context.Context, lines []SaleLine) error
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	SaleLines(ctx context.Context, id SaleID) ([]SaleLine, error)

	// Layers returns layers with quantity > 0 ordered by expiration date,
	// cost per unit, id. Implementations lock the rows where supported.
	Layers(ctx context.Context, item ItemID, tier Tier) ([]StockLayer, error)
	DeleteLayer(ctx context.Context, tier Tier, id LayerID) error
	SetLayerQuantity(ctx context.Context, tier Tier, id LayerID, qty int, at time.Time) error
	// InsertLayer appends a warehouse layer, or adds to the shelf layer that
	// shares (item, expiry, cost, slot). l.ID is set to the affected row.
	InsertLayer(ctx context.Context, l *StockLayer) error
	PruneShelf(ctx context.Context) (int, error)
	InsertShelfEntry(ctx context.Context, e *ShelfEntry) error

	// StockLevels returns one row per catalog item, including items with no
	// stock at tier, ordered by item id.
	StockLevels(ctx context.Context, tier Tier) ([]ItemStock, error)
	SupplierFor(ctx context.Context, item ItemID) (SupplierID, bool, error)

	// Shortages, oldest first by logged_at then id
	OpenShortages(ctx context.Context, item ItemID) ([]Shortage, error)
	AllShortages(ctx context.Context) ([]Shortage, error)
	InsertShortage(ctx context.Context, s *Shortage) error
	DeleteShortage(ctx context.Context, id ShortageID) error
	ReduceShortage(ctx context.Context, id ShortageID, qty int, resolver string, at time.Time) error

	// Procurement
	InsertProcurement(ctx context.Context, p *Procurement) error
	InsertProcurementLine(ctx context.Context, l *ProcurementLine) error
	InsertCostRecord(ctx context.Context, c *CostRecord) error
	RefreshProcurementTotal(ctx context.Context, id ProcurementID) (decimal.Decimal, error)
}

// Seeder writes catalog rows. Catalog management is outside the engine; this
// exists so tests and the simulator can prepare a store.
type Seeder interface {
	UpsertItem(ctx context.Context, it Item) error
	UpsertSupplier(ctx context.Context, s Supplier) error
	LinkSupplier(ctx context.Context, item ItemID, supplier SupplierID) error
	Items(ctx context.Context) ([]Item, error)
}

// SequenceSetter lets tests force a sequence out of line with its rows.
type SequenceSetter interface {
	SetSequence(ctx context.Context, seq Sequence, next int64) error
}
