/*
shortage.go - Ledger of units promised but not yet delivered

INVARIANT:
  Outstanding summed per item equals the units promised to customers (or
  to the shelf, for system-origin rows) that have not been delivered.

RESOLUTION:
  Open rows for an item are consumed oldest first (logged_at, then id).
  A row fully absorbed is deleted. A row partially absorbed loses the
  absorbed units from Outstanding, gains them in Resolved, and is stamped
  with the resolver and time. Whatever is left of the offered quantity is
  returned to the caller as fresh demand.

  Shortages are resolved before any new stock builds buffer: replenishment
  and shelf refill both call ResolveShortages before placing layers.
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Resolution describes what happened to one shortage row.
type Resolution struct {
	ShortageID ShortageID
	SaleID     SaleID
	Taken      int
	Deleted    bool
}

// RecordShortage logs qty outstanding units of item against sale.
func RecordShortage(ctx context.Context, tx Tx, sale SaleID, item ItemID, qty int, now time.Time) (Shortage, error) {
	s := Shortage{SaleID: sale, ItemID: item, Outstanding: qty, LoggedAt: now}
	if qty <= 0 {
		return s, fmt.Errorf("%w: shortage of %d", ErrInvalidQuantity, qty)
	}
	if err := tx.InsertShortage(ctx, &s); err != nil {
		return s, fmt.Errorf("insert shortage for item %d: %w", item, err)
	}
	return s, nil
}

// ResolveShortages offers available units of item to its open shortages and
// returns the units no shortage absorbed.
func ResolveShortages(ctx context.Context, tx Tx, item ItemID, available int, resolver string, now time.Time) (int, []Resolution, error) {
	if available < 0 {
		return 0, nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, available)
	}
	if available == 0 {
		return 0, nil, nil
	}

	open, err := tx.OpenShortages(ctx, item)
	if err != nil {
		return available, nil, fmt.Errorf("load shortages for item %d: %w", item, err)
	}
	sortShortages(open)

	var out []Resolution
	remaining := available
	for _, s := range open {
		if remaining == 0 {
			break
		}
		if s.Outstanding <= 0 {
			continue
		}
		take := min(remaining, s.Outstanding)
		if take == s.Outstanding {
			if err := tx.DeleteShortage(ctx, s.ID); err != nil {
				return remaining, out, fmt.Errorf("delete shortage %d: %w", s.ID, err)
			}
		} else if err := tx.ReduceShortage(ctx, s.ID, take, resolver, now); err != nil {
			return remaining, out, fmt.Errorf("reduce shortage %d: %w", s.ID, err)
		}
		out = append(out, Resolution{
			ShortageID: s.ID,
			SaleID:     s.SaleID,
			Taken:      take,
			Deleted:    take == s.Outstanding,
		})
		remaining -= take
	}
	return remaining, out, nil
}

// OutstandingFor sums open shortage units of item.
func OutstandingFor(ctx context.Context, tx Tx, item ItemID) (int, error) {
	open, err := tx.OpenShortages(ctx, item)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, s := range open {
		total += s.Outstanding
	}
	return total, nil
}

func sortShortages(s []Shortage) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].LoggedAt.Equal(s[j].LoggedAt) {
			return s[i].LoggedAt.Before(s[j].LoggedAt)
		}
		return s[i].ID < s[j].ID
	})
}
