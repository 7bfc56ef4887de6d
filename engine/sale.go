/*
sale.go - Commit a sale against layered stock

ALGORITHM (per sale):
  1. Insert the header with zeroed totals.
  2. Deplete each cart line, in cart order, from the sale tier.
  3. Record the line at the REQUESTED quantity and price: the receipt
     reflects what the customer was charged. Any unfulfilled remainder
     becomes a Shortage tied to the sale.
  4. Backfill gross, discount and final on the header.
  All of it happens inside the caller's unit of work.

BATCH:
  CommitBatch inserts every header first, capturing ids, then processes
  each cart. The whole batch is one unit of work.

SHORTFALL IS SOFT:
  A cart that finds no stock at all still commits, with lines at the
  requested quantity and shortages for the full amount.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// CartLine is one requested (item, quantity, unit price) tuple.
type CartLine struct {
	ItemID    ItemID          `json:"item_id" validate:"gt=0"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SaleRequest is everything needed to commit one sale.
type SaleRequest struct {
	Cart           []CartLine      `json:"cart" validate:"required,dive"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
	PaymentMethod  string          `json:"payment_method" validate:"required,max=32"`
	Operator       string          `json:"operator" validate:"max=64"`
	Note           string          `json:"note" validate:"max=512"`
	OriginalSaleID *SaleID         `json:"original_sale_id,omitempty"`

	// Tier overrides Config.SaleTier when set.
	Tier Tier `json:"tier,omitempty"`
}

// SaleResult is the committed sale and its unresolved shortages.
type SaleResult struct {
	Sale       Sale
	Lines      []SaleLine
	Shortages  []Shortage
	Depletions []DepletionResult
}

// DebugEntry is the per-sale summary returned by a batch commit.
type DebugEntry struct {
	SaleID    SaleID          `json:"sale_id"`
	Operator  string          `json:"operator"`
	Timestamp time.Time       `json:"timestamp"`
	Items     []DebugItem     `json:"items"`
	Shortages []DebugShortage `json:"shortages"`
	Error     string          `json:"error,omitempty"`
}

type DebugItem struct {
	ItemID    ItemID          `json:"item_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

type DebugShortage struct {
	ItemID   ItemID `json:"item_id"`
	Name     string `json:"name,omitempty"`
	Quantity int    `json:"qty"`
}

// =============================================================================
// SALE ENGINE
// =============================================================================

// SaleEngine builds headers and lines and drives depletion. It holds no
// store: every call receives the unit of work it runs in.
type SaleEngine struct {
	Config Config
}

func (e SaleEngine) tier(req SaleRequest) Tier {
	if req.Tier != "" {
		return req.Tier
	}
	if e.Config.SaleTier != "" {
		return e.Config.SaleTier
	}
	return TierShelf
}

func newHeader(req SaleRequest, now time.Time) Sale {
	return Sale{
		Gross:          decimal.Zero,
		DiscountRate:   req.DiscountRate,
		DiscountAmount: decimal.Zero,
		FinalAmount:    decimal.Zero,
		PaymentMethod:  req.PaymentMethod,
		Operator:       req.Operator,
		Note:           req.Note,
		OriginalSaleID: req.OriginalSaleID,
		CreatedAt:      now,
	}
}

// Commit runs the sale algorithm inside tx. req must already be validated.
func (e SaleEngine) Commit(ctx context.Context, tx Tx, req SaleRequest) (SaleResult, error) {
	now := e.Config.now()
	sale := newHeader(req, now)
	if err := tx.InsertSale(ctx, &sale); err != nil {
		return SaleResult{}, fmt.Errorf("insert sale header: %w", err)
	}
	return e.fill(ctx, tx, sale, req, now)
}

// fill processes the cart of an already inserted header.
func (e SaleEngine) fill(ctx context.Context, tx Tx, sale Sale, req SaleRequest, now time.Time) (SaleResult, error) {
	res := SaleResult{Sale: sale}
	tier := e.tier(req)

	lines := make([]SaleLine, 0, len(req.Cart))
	for _, it := range req.Cart {
		dep, err := Deplete(ctx, tx, it.ItemID, tier, it.Quantity, e.Config.ShelfPolicy, now)
		if err != nil {
			return SaleResult{}, fmt.Errorf("sale %d item %d: %w", sale.ID, it.ItemID, err)
		}
		res.Depletions = append(res.Depletions, dep)

		lines = append(lines, SaleLine{
			SaleID:    sale.ID,
			ItemID:    it.ItemID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: LineTotal(it.Quantity, it.UnitPrice),
		})

		if short := dep.Shortfall(); short > 0 {
			s, err := RecordShortage(ctx, tx, sale.ID, it.ItemID, short, now)
			if err != nil {
				return SaleResult{}, fmt.Errorf("sale %d: %w", sale.ID, err)
			}
			res.Shortages = append(res.Shortages, s)
		}
	}

	if err := tx.InsertSaleLines(ctx, lines); err != nil {
		return SaleResult{}, fmt.Errorf("insert lines for sale %d: %w", sale.ID, err)
	}

	totals := ComputeTotals(CartGross(req.Cart), req.DiscountRate)
	if err := tx.UpdateSaleTotals(ctx, sale.ID, totals); err != nil {
		return SaleResult{}, fmt.Errorf("backfill totals for sale %d: %w", sale.ID, err)
	}
	res.Sale.Gross = totals.Gross
	res.Sale.DiscountAmount = totals.Discount
	res.Sale.FinalAmount = totals.Final
	res.Lines = lines
	return res, nil
}

// CommitBatch inserts all headers first, then fills each cart in order.
// reqs must already be validated.
func (e SaleEngine) CommitBatch(ctx context.Context, tx Tx, reqs []SaleRequest) ([]SaleResult, error) {
	now := e.Config.now()
	headers := make([]Sale, len(reqs))
	for i, req := range reqs {
		headers[i] = newHeader(req, now)
		if err := tx.InsertSale(ctx, &headers[i]); err != nil {
			return nil, fmt.Errorf("insert sale header %d of %d: %w", i+1, len(reqs), err)
		}
	}

	out := make([]SaleResult, 0, len(reqs))
	for i, req := range reqs {
		res, err := e.fill(ctx, tx, headers[i], req, now)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Debug renders a committed sale in the batch report shape.
func (r SaleResult) Debug(names map[ItemID]string) DebugEntry {
	entry := DebugEntry{
		SaleID:    r.Sale.ID,
		Operator:  r.Sale.Operator,
		Timestamp: r.Sale.CreatedAt,
		Items:     make([]DebugItem, 0, len(r.Lines)),
		Shortages: make([]DebugShortage, 0, len(r.Shortages)),
	}
	for _, l := range r.Lines {
		entry.Items = append(entry.Items, DebugItem{
			ItemID:    l.ItemID,
			Name:      names[l.ItemID],
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     l.LineTotal,
		})
	}
	for _, s := range r.Shortages {
		entry.Shortages = append(entry.Shortages, DebugShortage{
			ItemID:   s.ItemID,
			Name:     names[s.ItemID],
			Quantity: s.Outstanding,
		})
	}
	return entry
}
