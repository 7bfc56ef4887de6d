/*
replenish.go - Warehouse replenishment cycle

PURPOSE:
  Turns unmet demand into procurement records and fresh warehouse layers.

CYCLE (one unit of work):
  1. For each item with a need (sorted by id), look up its first supplier.
     Items without one produce a MissingConfigError result; the rest of the
     cycle proceeds.
  2. Ordered = need + outstanding shortages for the item.
  3. Per supplier: one completed Procurement. Per item: one procurement
     line (ordered == received) and one cost record.
  4. The shortage ledger absorbs the ordered quantity first; what remains
     becomes one new warehouse layer.
  5. Procurement total = sum of cost × quantity over its cost records.

PLANNING:
  PlanWarehouse applies the reorder rule: when current < threshold,
  need = target - current where target is the average level or, if unset,
  the threshold. Items without levels use the configured fallbacks.
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ReplenishResult reports what one item received in a cycle.
type ReplenishResult struct {
	ItemID        ItemID          `json:"item_id"`
	SupplierID    SupplierID      `json:"supplier_id,omitempty"`
	Need          int             `json:"need"`
	Ordered       int             `json:"ordered"`
	Resolved      int             `json:"resolved"`
	Added         int             `json:"added_qty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	ProcurementID ProcurementID   `json:"procurement_id,omitempty"`
	LayerID       LayerID         `json:"layer_id,omitempty"`
	Err           error           `json:"-"`
}

// ReplenishEngine holds the cost model and defaults for a cycle.
type ReplenishEngine struct {
	Config Config
}

// Plan computes the warehouse need map from a stock snapshot.
func (e ReplenishEngine) Plan(ctx context.Context, tx Tx) (map[ItemID]int, error) {
	levels, err := tx.StockLevels(ctx, TierWarehouse)
	if err != nil {
		return nil, fmt.Errorf("warehouse snapshot: %w", err)
	}
	needs := make(map[ItemID]int)
	for _, s := range levels {
		threshold, target := e.warehouseLevels(s)
		if s.Current < threshold && target > s.Current {
			needs[s.ItemID] = target - s.Current
		}
	}
	return needs, nil
}

// warehouseLevels resolves (threshold, target) for one snapshot row. Unset
// levels fall back to the configured defaults; an item with a threshold but
// no average is filled to its threshold.
func (e ReplenishEngine) warehouseLevels(s ItemStock) (int, int) {
	threshold := e.Config.DefaultThreshold
	if s.Threshold != nil {
		threshold = *s.Threshold
	}
	switch {
	case s.Average != nil:
		return threshold, *s.Average
	case s.Threshold != nil:
		return threshold, *s.Threshold
	}
	return threshold, e.Config.DefaultAverage
}

type pendingItem struct {
	item    ItemID
	need    int
	ordered int
	cost    decimal.Decimal
}

// Replenish runs one cycle for needs inside tx.
func (e ReplenishEngine) Replenish(ctx context.Context, tx Tx, needs map[ItemID]int) ([]ReplenishResult, error) {
	if err := ValidateNeeds(needs); err != nil {
		return nil, err
	}
	now := e.Config.now()
	today := Date(now)

	prices, err := e.referencePrices(ctx, tx)
	if err != nil {
		return nil, err
	}

	items := make([]ItemID, 0, len(needs))
	for id := range needs {
		items = append(items, id)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })

	var results []ReplenishResult
	groups := make(map[SupplierID][]pendingItem)
	var suppliers []SupplierID

	for _, id := range items {
		outstanding, err := OutstandingFor(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("outstanding for item %d: %w", id, err)
		}
		ordered := needs[id] + outstanding
		if ordered == 0 {
			continue
		}

		sup, ok, err := tx.SupplierFor(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("supplier for item %d: %w", id, err)
		}
		if !ok {
			results = append(results, ReplenishResult{
				ItemID: id,
				Need:   needs[id],
				Err:    &MissingConfigError{ItemID: id, What: ErrMissingSupplier},
			})
			continue
		}
		if _, seen := groups[sup]; !seen {
			suppliers = append(suppliers, sup)
		}
		groups[sup] = append(groups[sup], pendingItem{
			item:    id,
			need:    needs[id],
			ordered: ordered,
			cost:    e.Config.UnitCost(prices[id]),
		})
	}

	sort.Slice(suppliers, func(i, j int) bool { return suppliers[i] < suppliers[j] })
	for _, sup := range suppliers {
		proc := Procurement{
			SupplierID: sup,
			Status:     ProcurementCompleted,
			OrderDate:  now,
			TotalCost:  decimal.Zero,
			CreatedBy:  e.Config.ReplenishUser,
			Note:       e.Config.ProcurementNote,
		}
		if err := tx.InsertProcurement(ctx, &proc); err != nil {
			return nil, fmt.Errorf("procurement for supplier %d: %w", sup, err)
		}

		for _, p := range groups[sup] {
			res, err := e.receive(ctx, tx, proc, p, today)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}

		if _, err := tx.RefreshProcurementTotal(ctx, proc.ID); err != nil {
			return nil, fmt.Errorf("refresh procurement %d total: %w", proc.ID, err)
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].ItemID < results[j].ItemID })
	return results, nil
}

func (e ReplenishEngine) receive(ctx context.Context, tx Tx, proc Procurement, p pendingItem, today time.Time) (ReplenishResult, error) {
	res := ReplenishResult{
		ItemID:        p.item,
		SupplierID:    proc.SupplierID,
		Need:          p.need,
		Ordered:       p.ordered,
		UnitCost:      p.cost,
		ProcurementID: proc.ID,
	}

	line := ProcurementLine{
		ProcurementID:  proc.ID,
		ItemID:         p.item,
		Ordered:        p.ordered,
		Received:       p.ordered,
		EstimatedPrice: p.cost,
	}
	if err := tx.InsertProcurementLine(ctx, &line); err != nil {
		return res, fmt.Errorf("procurement line for item %d: %w", p.item, err)
	}

	cr := CostRecord{
		ProcurementID: proc.ID,
		ItemID:        p.item,
		CostPerUnit:   p.cost,
		Quantity:      p.ordered,
		CostDate:      proc.OrderDate,
		Note:          e.Config.ProcurementNote,
	}
	if err := tx.InsertCostRecord(ctx, &cr); err != nil {
		return res, fmt.Errorf("cost record for item %d: %w", p.item, err)
	}

	left, _, err := ResolveShortages(ctx, tx, p.item, p.ordered, e.Config.ReplenishUser, proc.OrderDate)
	if err != nil {
		return res, err
	}
	res.Resolved = p.ordered - left
	if left == 0 {
		return res, nil
	}

	procID, crID := proc.ID, cr.ID
	layer := StockLayer{
		ItemID:          p.item,
		Tier:            TierWarehouse,
		Quantity:        left,
		ExpirationDate:  today.AddDate(0, 0, e.Config.ShelfLifeDays),
		CostPerUnit:     p.cost,
		StorageLocation: e.Config.StorageLocation,
		ProcurementID:   &procID,
		CostRecordID:    &crID,
	}
	if err := tx.InsertLayer(ctx, &layer); err != nil {
		return res, fmt.Errorf("warehouse layer for item %d: %w", p.item, err)
	}
	res.Added = left
	res.LayerID = layer.ID
	return res, nil
}

func (e ReplenishEngine) referencePrices(ctx context.Context, tx Tx) (map[ItemID]*decimal.Decimal, error) {
	levels, err := tx.StockLevels(ctx, TierWarehouse)
	if err != nil {
		return nil, fmt.Errorf("reference prices: %w", err)
	}
	out := make(map[ItemID]*decimal.Decimal, len(levels))
	for _, s := range levels {
		out[s.ItemID] = s.ReferencePrice
	}
	return out, nil
}
