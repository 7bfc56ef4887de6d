package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is passed explicitly into the engine. Nothing in this package reads
// process-wide state.
type Config struct {
	// SaleTier is the tier sales deplete. POS sells from the shelf.
	SaleTier    Tier
	ShelfPolicy ShelfPolicy

	// CostFraction × reference price is the simulated unit cost of
	// replenished stock.
	CostFraction decimal.Decimal

	// New warehouse layers expire ShelfLifeDays after the cycle date.
	ShelfLifeDays   int
	StorageLocation string

	// ShelfSlot receives stock moved by RefillShelf.
	ShelfSlot string

	// Fallbacks for items without configured warehouse levels.
	DefaultThreshold int
	DefaultAverage   int

	ProcurementNote string
	ReplenishUser   string
	RefillUser      string

	RetryDelay time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig mirrors the simulation defaults.
func DefaultConfig() Config {
	return Config{
		SaleTier:         TierShelf,
		ShelfPolicy:      RetainEmptyShelf,
		CostFraction:     decimal.RequireFromString("0.75"),
		ShelfLifeDays:    365,
		StorageLocation:  "AUTO",
		ShelfSlot:        "AUTO",
		DefaultThreshold: 50,
		DefaultAverage:   100,
		ProcurementNote:  "AUTO-INVENTORY REFILL",
		ReplenishUser:    "AUTO-INV",
		RefillUser:       "AUTOSIM",
		RetryDelay:       50 * time.Millisecond,
		Now:              time.Now,
	}
}

func (c Config) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// UnitCost prices replenished stock from the item's reference price.
func (c Config) UnitCost(ref *decimal.Decimal) decimal.Decimal {
	if ref == nil || ref.IsNegative() {
		return decimal.Zero
	}
	return Round2(ref.Mul(c.CostFraction))
}
