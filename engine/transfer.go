/*
transfer.go - Moving stock from the warehouse to the shelf

TRANSFER:
  Warehouse layers are depleted in the usual freshness order. Every
  touched warehouse layer lands on the shelf as a layer with the same cost
  and expiry, merged into an existing shelf row when (item, expiry, cost,
  slot) already exists. Each landing writes one ShelfEntry.

REFILL RULE (per item):
  threshold = shelf threshold, or 0
  target    = shelf average, or threshold
  When current < threshold:
    need = max(target - current, threshold - current)
    need is offered to open shortages first; only the remainder is moved.
    A remainder the warehouse cannot cover is logged as a system-origin
    shortage (sale id 0).
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// TransferResult reports one warehouse-to-shelf move.
type TransferResult struct {
	ItemID      ItemID    `json:"item_id"`
	Requested   int       `json:"requested"`
	Moved       int       `json:"moved"`
	ShelfLayers []LayerID `json:"shelf_layers"`
}

// Shortfall is the part of Requested the warehouse could not cover.
func (r TransferResult) Shortfall() int { return r.Requested - r.Moved }

// RefillResult reports one item considered by RefillShelf.
type RefillResult struct {
	ItemID    ItemID    `json:"item_id"`
	Current   int       `json:"current"`
	Threshold int       `json:"threshold"`
	Target    int       `json:"target"`
	Need      int       `json:"need"`
	Resolved  int       `json:"resolved"`
	Moved     int       `json:"moved"`
	Shortage  *Shortage `json:"shortage,omitempty"`
	Skipped   bool      `json:"skipped"`
}

// TransferToShelf moves up to qty units of item from the warehouse into slot.
func TransferToShelf(ctx context.Context, tx Tx, item ItemID, qty int, slot, user string, now time.Time) (TransferResult, error) {
	res := TransferResult{ItemID: item, Requested: qty}
	if slot == "" {
		return res, &MissingConfigError{ItemID: item, What: ErrMissingSlot}
	}
	if qty < 0 {
		return res, fmt.Errorf("%w: transfer of %d", ErrInvalidQuantity, qty)
	}

	dep, err := Deplete(ctx, tx, item, TierWarehouse, qty, RetainEmptyShelf, now)
	if err != nil {
		return res, err
	}

	for _, t := range dep.Touched {
		touched := now
		layer := StockLayer{
			ItemID:         item,
			Tier:           TierShelf,
			Quantity:       t.Taken,
			ExpirationDate: t.ExpirationDate,
			CostPerUnit:    t.CostPerUnit,
			SlotID:         slot,
			LastUpdated:    &touched,
		}
		if err := tx.InsertLayer(ctx, &layer); err != nil {
			return res, fmt.Errorf("shelf layer for item %d: %w", item, err)
		}
		entry := ShelfEntry{
			ItemID:         item,
			ExpirationDate: t.ExpirationDate,
			Quantity:       t.Taken,
			CreatedBy:      user,
			SlotID:         slot,
			CreatedAt:      now,
		}
		if err := tx.InsertShelfEntry(ctx, &entry); err != nil {
			return res, fmt.Errorf("shelf entry for item %d: %w", item, err)
		}
		res.ShelfLayers = append(res.ShelfLayers, layer.ID)
		res.Moved += t.Taken
	}
	return res, nil
}

// ShelfLevels resolves (threshold, target) for a shelf snapshot row.
func ShelfLevels(s ItemStock) (int, int) {
	threshold := 0
	if s.Threshold != nil {
		threshold = *s.Threshold
	}
	target := threshold
	if s.Average != nil && *s.Average > 0 {
		target = *s.Average
	}
	return threshold, target
}

// RefillShelf tops up the shelf for items (every catalog item when empty).
func RefillShelf(ctx context.Context, tx Tx, cfg Config, items []ItemID, user string) ([]RefillResult, error) {
	if user == "" {
		user = cfg.RefillUser
	}
	now := cfg.now()

	levels, err := tx.StockLevels(ctx, TierShelf)
	if err != nil {
		return nil, fmt.Errorf("shelf snapshot: %w", err)
	}
	byItem := make(map[ItemID]ItemStock, len(levels))
	for _, s := range levels {
		byItem[s.ItemID] = s
	}
	if len(items) == 0 {
		for _, s := range levels {
			items = append(items, s.ItemID)
		}
	}

	seen := make(map[ItemID]bool, len(items))
	out := make([]RefillResult, 0, len(items))
	for _, id := range items {
		if seen[id] {
			continue
		}
		seen[id] = true

		snap, ok := byItem[id]
		if !ok {
			snap = ItemStock{ItemID: id}
		}
		res, err := refillItem(ctx, tx, cfg, snap, user, now)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func refillItem(ctx context.Context, tx Tx, cfg Config, snap ItemStock, user string, now time.Time) (RefillResult, error) {
	threshold, target := ShelfLevels(snap)
	res := RefillResult{
		ItemID:    snap.ItemID,
		Current:   snap.Current,
		Threshold: threshold,
		Target:    target,
	}
	if snap.Current >= threshold {
		res.Skipped = true
		return res, nil
	}

	res.Need = max(target-snap.Current, threshold-snap.Current)
	need, _, err := ResolveShortages(ctx, tx, snap.ItemID, res.Need, user, now)
	if err != nil {
		return res, err
	}
	res.Resolved = res.Need - need
	if need == 0 {
		return res, nil
	}

	moved, err := TransferToShelf(ctx, tx, snap.ItemID, need, cfg.ShelfSlot, user, now)
	if err != nil {
		return res, err
	}
	res.Moved = moved.Moved

	if short := moved.Shortfall(); short > 0 {
		s, err := RecordShortage(ctx, tx, SystemOrigin, snap.ItemID, short, now)
		if err != nil {
			return res, err
		}
		res.Shortage = &s
	}
	return res, nil
}

// PruneShelf deletes shelf rows left at zero quantity.
func PruneShelf(ctx context.Context, tx Tx) (int, error) {
	n, err := tx.PruneShelf(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune shelf: %w", err)
	}
	return n, nil
}
