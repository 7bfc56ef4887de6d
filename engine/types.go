/*
Package engine provides the transactional stock-and-sale core.

PURPOSE:
  Commits sales against layered stock, replenishes depleted stock from an
  upstream tier and keeps primary-key sequences consistent when several
  writers race on the same store. Everything else in the repository (HTTP,
  CLI, simulator) calls into this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tier: warehouse (back-store) or shelf (selling area)
  - StockLayer: quantity of one item at one cost and one expiry
  - Sale / SaleLine: a committed receipt, always at requested quantity
  - Shortage: a resolvable promise for units not delivered at commit time
  - Procurement: one synthetic purchase order per supplier per cycle

OWNERSHIP:
  Sale engine owns Sale/SaleLine. Depletion only decrements layers on behalf
  of a caller. Replenishment owns Procurement and the layers it creates.
  The shortage ledger owns Shortage rows end-to-end.

SEE ALSO:
  - store.go: Unit of work contract
  - depletion.go: Layer consumption order
  - sale.go: Sale commit algorithm
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID int64
type SaleID int64
type LayerID int64
type ShortageID int64
type SupplierID int64
type ProcurementID int64
type CostRecordID int64

// SystemOrigin is the sale id recorded on shortages raised by background
// refills rather than by a customer sale.
const SystemOrigin SaleID = 0

// =============================================================================
// TIER
// =============================================================================

// Tier identifies which stock pool a layer lives in.
type Tier string

const (
	TierWarehouse Tier = "warehouse"
	TierShelf     Tier = "shelf"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierWarehouse || t == TierShelf
}

// ParseTier converts user input to a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// =============================================================================
// STOCK
// =============================================================================

// StockLayer is a quantity of one item carrying one cost and one expiry.
// Cost and expiry never change after insert; only Quantity does.
type StockLayer struct {
	ID             LayerID
	ItemID         ItemID
	Tier           Tier
	Quantity       int
	ExpirationDate time.Time
	CostPerUnit    decimal.Decimal

	// Warehouse only
	StorageLocation string
	ProcurementID   *ProcurementID
	CostRecordID    *CostRecordID

	// Shelf only
	SlotID      string
	LastUpdated *time.Time
}

// ShelfEntry is the movement log written whenever stock lands on the shelf.
type ShelfEntry struct {
	ID             int64
	ItemID         ItemID
	ExpirationDate time.Time
	Quantity       int
	CreatedBy      string
	SlotID         string
	CreatedAt      time.Time
}

// ItemStock is one row of a stock snapshot: current quantity at a tier plus
// the item's configured levels for that tier.
type ItemStock struct {
	ItemID         ItemID
	Name           string
	Current        int
	Threshold      *int
	Average        *int
	ReferencePrice *decimal.Decimal
}

// =============================================================================
// CATALOG (read-only for the engine)
// =============================================================================

type Item struct {
	ID                 ItemID
	Name               string
	ReferencePrice     *decimal.Decimal
	WarehouseThreshold *int
	WarehouseAverage   *int
	ShelfThreshold     *int
	ShelfAverage       *int
}

type Supplier struct {
	ID   SupplierID
	Name string
}

// =============================================================================
// SALES
// =============================================================================

// Sale is the receipt header. Totals start at zero and are backfilled once
// every line has been processed.
type Sale struct {
	ID             SaleID
	Gross          decimal.Decimal
	DiscountRate   decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	PaymentMethod  string
	Operator       string
	Note           string
	OriginalSaleID *SaleID
	CreatedAt      time.Time
}

// SaleLine always records the requested quantity, not the fulfilled one.
type SaleLine struct {
	ID        int64
	SaleID    SaleID
	ItemID    ItemID
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Totals are the backfilled header amounts.
type Totals struct {
	Gross    decimal.Decimal
	Rate     decimal.Decimal
	Discount decimal.Decimal
	Final    decimal.Decimal
}

// =============================================================================
// SHORTAGES
// =============================================================================

// Shortage is an open promise of Outstanding units of ItemID. Rows are
// deleted once fully resolved, so every stored row has Outstanding > 0.
// ResolvedAt stamps the most recent partial resolution.
type Shortage struct {
	ID          ShortageID
	SaleID      SaleID
	ItemID      ItemID
	Outstanding int
	Resolved    int
	ResolvedBy  string
	ResolvedAt  *time.Time
	LoggedAt    time.Time
}

// IsSystem reports whether the shortage came from a background refill.
func (s Shortage) IsSystem() bool { return s.SaleID == SystemOrigin }

// =============================================================================
// PROCUREMENT
// =============================================================================

const ProcurementCompleted = "completed"

type Procurement struct {
	ID         ProcurementID
	SupplierID SupplierID
	Status     string
	OrderDate  time.Time
	TotalCost  decimal.Decimal
	CreatedBy  string
	Note       string
}

type ProcurementLine struct {
	ID             int64
	ProcurementID  ProcurementID
	ItemID         ItemID
	Ordered        int
	Received       int
	EstimatedPrice decimal.Decimal
}

type CostRecord struct {
	ID            CostRecordID
	ProcurementID ProcurementID
	ItemID        ItemID
	CostPerUnit   decimal.Decimal
	Quantity      int
	CostDate      time.Time
	Note          string
}

// =============================================================================
// DATES
// =============================================================================

// Date truncates t to a UTC calendar day. Expiration dates are days.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a UTC calendar day.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the persisted form of expiration dates.
const DateLayout = "2006-01-02"

func intPtr(v int) *int { return &v }
