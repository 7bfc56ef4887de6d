/*
depletion.go - Layer consumption in freshness order

ORDER (invariant):
  Layers are consumed strictly by ascending expiration date, then cost per
  unit, then layer id. This decides which cost basis flows into margin
  reporting, so it is enforced here even though stores already sort.

LAYER POLICY:
  Warehouse: a layer consumed to zero is deleted.
  Shelf:     a layer is decremented and stamped with the update time. With
             RetainEmptyShelf (the default) a row consumed to zero stays for
             audit until PruneShelf removes it; DeleteEmptyShelf removes it
             immediately.

SHORTFALL:
  Running out of layers is not an error. The result carries Fulfilled and
  the caller decides whether the remainder becomes a Shortage row or waits
  for the next replenishment cycle.
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LayerTake records how much was taken from one layer.
type LayerTake struct {
	LayerID        LayerID
	Taken          int
	Remaining      int
	CostPerUnit    decimal.Decimal
	ExpirationDate time.Time
	Removed        bool
}

// DepletionResult is the outcome of one Deplete call.
type DepletionResult struct {
	ItemID    ItemID
	Tier      Tier
	Requested int
	Fulfilled int
	Touched   []LayerTake
}

// Shortfall is the portion of Requested not covered by layers.
func (r DepletionResult) Shortfall() int {
	return r.Requested - r.Fulfilled
}

// Cost is the cost basis of the consumed units.
func (r DepletionResult) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Touched {
		total = total.Add(t.CostPerUnit.Mul(decimal.NewFromInt(int64(t.Taken))))
	}
	return total
}

// SortLayers orders layers by (expiration date, cost per unit, id).
func SortLayers(layers []StockLayer) {
	sort.SliceStable(layers, func(i, j int) bool {
		return layerLess(layers[i], layers[j])
	})
}

func layerLess(a, b StockLayer) bool {
	if !a.ExpirationDate.Equal(b.ExpirationDate) {
		return a.ExpirationDate.Before(b.ExpirationDate)
	}
	if c := a.CostPerUnit.Cmp(b.CostPerUnit); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// ShelfPolicy decides what happens to a shelf layer consumed to zero.
type ShelfPolicy int

const (
	RetainEmptyShelf ShelfPolicy = iota
	DeleteEmptyShelf
)

// ParseShelfPolicy accepts "retain" or "delete".
func ParseShelfPolicy(s string) (ShelfPolicy, error) {
	switch s {
	case "", "retain":
		return RetainEmptyShelf, nil
	case "delete":
		return DeleteEmptyShelf, nil
	}
	return RetainEmptyShelf, fmt.Errorf("unknown shelf policy %q", s)
}

func (p ShelfPolicy) String() string {
	if p == DeleteEmptyShelf {
		return "delete"
	}
	return "retain"
}

func (p ShelfPolicy) deletes(tier Tier) bool {
	return tier == TierWarehouse || p == DeleteEmptyShelf
}

// Deplete consumes up to qty units of item from tier inside tx.
func Deplete(ctx context.Context, tx Tx, item ItemID, tier Tier, qty int, policy ShelfPolicy, now time.Time) (DepletionResult, error) {
	res := DepletionResult{ItemID: item, Tier: tier, Requested: qty}
	if !tier.Valid() {
		return res, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if qty < 0 {
		return res, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if qty == 0 {
		return res, nil
	}

	layers, err := tx.Layers(ctx, item, tier)
	if err != nil {
		return res, fmt.Errorf("load %s layers for item %d: %w", tier, item, err)
	}
	SortLayers(layers)

	remain := qty
	for _, l := range layers {
		if remain == 0 {
			break
		}
		if l.Quantity <= 0 {
			continue
		}
		take := min(remain, l.Quantity)
		left := l.Quantity - take

		removed := false
		if left == 0 && policy.deletes(tier) {
			if err := tx.DeleteLayer(ctx, tier, l.ID); err != nil {
				return res, fmt.Errorf("delete layer %d: %w", l.ID, err)
			}
			removed = true
		} else if err := tx.SetLayerQuantity(ctx, tier, l.ID, left, now); err != nil {
			return res, fmt.Errorf("decrement layer %d: %w", l.ID, err)
		}

		res.Touched = append(res.Touched, LayerTake{
			LayerID:        l.ID,
			Taken:          take,
			Remaining:      left,
			CostPerUnit:    l.CostPerUnit,
			ExpirationDate: l.ExpirationDate,
			Removed:        removed,
		})
		res.Fulfilled += take
		remain -= take
	}
	return res, nil
}
