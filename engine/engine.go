/*
engine.go - Public operations of the stock engine

PURPOSE:
  Engine is what the HTTP layer, the CLI and the simulator call. Every
  method is one guarded unit of work:

    guard.Do(ctx, func(ctx) error {
        return store.WithTx(ctx, func(tx Tx) error {
            ... engine helpers receive tx ...
        })
    })

  Validation happens before the unit of work opens, so a rejected request
  never writes.

LOGGING:
  Each operation logs once at Info on success with module/op fields, and
  at Error on failure. Shortfalls are Info: they are data, not failures.
*/
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Engine binds a store, a config and a logger.
type Engine struct {
	store Store
	cfg   Config
	guard *SequenceGuard
	log   logrus.FieldLogger

	sales     SaleEngine
	replenish ReplenishEngine
}

// New creates an engine. A nil log discards output.
func New(store Store, cfg Config, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = discardLogger()
	}
	log = log.WithField("module", "engine")
	return &Engine{
		store:     store,
		cfg:       cfg,
		guard:     NewSequenceGuard(store, cfg.RetryDelay, log),
		log:       log,
		sales:     SaleEngine{Config: cfg},
		replenish: ReplenishEngine{Config: cfg},
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// unit runs fn as one guarded unit of work.
func (e *Engine) unit(ctx context.Context, fn func(tx Tx) error) error {
	return e.guard.Do(ctx, func(ctx context.Context) error {
		return e.store.WithTx(ctx, fn)
	})
}

// =============================================================================
// SALES
// =============================================================================

// CommitSale validates req and commits it atomically.
func (e *Engine) CommitSale(ctx context.Context, req SaleRequest) (SaleResult, error) {
	if err := ValidateSale(req); err != nil {
		return SaleResult{}, err
	}

	var res SaleResult
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		res, err = e.sales.Commit(ctx, tx, req)
		return err
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": "commit_sale", "operator": req.Operator}).WithError(err).Error("sale failed")
		return SaleResult{}, err
	}

	e.log.WithFields(logrus.Fields{
		"op":        "commit_sale",
		"sale_id":   res.Sale.ID,
		"lines":     len(res.Lines),
		"shortages": len(res.Shortages),
		"final":     res.Sale.FinalAmount.StringFixed(2),
	}).Info("sale committed")
	return res, nil
}

// CommitSaleBatch commits every valid cart in one unit of work and returns
// one DebugEntry per request, in request order. Invalid carts are reported
// with Error set and never written.
func (e *Engine) CommitSaleBatch(ctx context.Context, reqs []SaleRequest) ([]DebugEntry, error) {
	entries := make([]DebugEntry, len(reqs))
	var valid []SaleRequest
	var slots []int
	names := make(map[ItemID]string)

	for i, req := range reqs {
		for _, l := range req.Cart {
			if l.Name != "" {
				names[l.ItemID] = l.Name
			}
		}
		if err := ValidateSale(req); err != nil {
			entries[i] = DebugEntry{
				Operator:  req.Operator,
				Timestamp: e.cfg.now(),
				Items:     []DebugItem{},
				Shortages: []DebugShortage{},
				Error:     err.Error(),
			}
			continue
		}
		valid = append(valid, req)
		slots = append(slots, i)
	}
	if len(valid) == 0 {
		return entries, nil
	}

	var results []SaleResult
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		results, err = e.sales.CommitBatch(ctx, tx, valid)
		return err
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": "commit_batch", "carts": len(valid)}).WithError(err).Error("batch failed")
		return nil, err
	}

	for i, res := range results {
		entries[slots[i]] = res.Debug(names)
	}
	e.log.WithFields(logrus.Fields{
		"op":       "commit_batch",
		"carts":    len(reqs),
		"accepted": len(valid),
	}).Info("batch committed")
	return entries, nil
}

// Sale loads a committed sale and its lines.
func (e *Engine) Sale(ctx context.Context, id SaleID) (*Sale, []SaleLine, error) {
	var sale *Sale
	var lines []SaleLine
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if sale, err = tx.GetSale(ctx, id); err != nil {
			return err
		}
		lines, err = tx.SaleLines(ctx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return sale, lines, nil
}

// =============================================================================
// STOCK
// =============================================================================

// Deplete consumes up to qty units of item from tier. Any shortfall is
// returned in the result and is not recorded as a Shortage.
func (e *Engine) Deplete(ctx context.Context, item ItemID, tier Tier, qty int) (DepletionResult, error) {
	var res DepletionResult
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		res, err = Deplete(ctx, tx, item, tier, qty, e.cfg.ShelfPolicy, e.cfg.now())
		return err
	})
	if err != nil {
		return DepletionResult{}, err
	}
	e.log.WithFields(logrus.Fields{
		"op":        "deplete",
		"item_id":   item,
		"tier":      tier,
		"fulfilled": res.Fulfilled,
		"shortfall": res.Shortfall(),
	}).Info("stock depleted")
	return res, nil
}

// StockLevels returns the per-item snapshot for tier.
func (e *Engine) StockLevels(ctx context.Context, tier Tier) ([]ItemStock, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	var out []ItemStock
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.StockLevels(ctx, tier)
		return err
	})
	return out, err
}

// Layers lists the live layers of item at tier in consumption order.
func (e *Engine) Layers(ctx context.Context, item ItemID, tier Tier) ([]StockLayer, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	var out []StockLayer
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Layers(ctx, item, tier)
		return err
	})
	SortLayers(out)
	return out, err
}

// TransferToShelf moves qty units of item from the warehouse into slot.
// An empty slot uses the configured shelf slot.
func (e *Engine) TransferToShelf(ctx context.Context, item ItemID, qty int, slot, user string) (TransferResult, error) {
	if slot == "" {
		slot = e.cfg.ShelfSlot
	}
	if user == "" {
		user = e.cfg.RefillUser
	}
	var res TransferResult
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		res, err = TransferToShelf(ctx, tx, item, qty, slot, user, e.cfg.now())
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	e.log.WithFields(logrus.Fields{
		"op":      "transfer",
		"item_id": item,
		"moved":   res.Moved,
	}).Info("stock moved to shelf")
	return res, nil
}

// RefillShelf tops up the shelf for items, or for every item when empty.
func (e *Engine) RefillShelf(ctx context.Context, items []ItemID, user string) ([]RefillResult, error) {
	var out []RefillResult
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		out, err = RefillShelf(ctx, tx, e.cfg, items, user)
		return err
	})
	if err != nil {
		e.log.WithField("op", "refill_shelf").WithError(err).Error("shelf refill failed")
		return nil, err
	}
	moved := 0
	for _, r := range out {
		moved += r.Moved
	}
	e.log.WithFields(logrus.Fields{"op": "refill_shelf", "items": len(out), "moved": moved}).Info("shelf refilled")
	return out, nil
}

// PruneShelf deletes zero-quantity shelf rows.
func (e *Engine) PruneShelf(ctx context.Context) (int, error) {
	var n int
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		n, err = PruneShelf(ctx, tx)
		return err
	})
	if err == nil {
		e.log.WithFields(logrus.Fields{"op": "prune_shelf", "deleted": n}).Info("shelf pruned")
	}
	return n, err
}

// =============================================================================
// SHORTAGES
// =============================================================================

// ResolveShortage offers available units of item to its open shortages and
// returns the units left unabsorbed.
func (e *Engine) ResolveShortage(ctx context.Context, item ItemID, available int, resolver string) (int, []Resolution, error) {
	var unmet int
	var res []Resolution
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		unmet, res, err = ResolveShortages(ctx, tx, item, available, resolver, e.cfg.now())
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	e.log.WithFields(logrus.Fields{
		"op":       "resolve_shortage",
		"item_id":  item,
		"resolved": available - unmet,
		"rows":     len(res),
	}).Info("shortages resolved")
	return unmet, res, nil
}

// Shortages lists open shortages for item, or every open shortage when
// item is zero.
func (e *Engine) Shortages(ctx context.Context, item ItemID) ([]Shortage, error) {
	var out []Shortage
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if item == 0 {
			out, err = tx.AllShortages(ctx)
		} else {
			out, err = tx.OpenShortages(ctx, item)
		}
		return err
	})
	sortShortages(out)
	return out, err
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

// Replenish sources needs from upstream suppliers. Items without a supplier
// are returned with Err set; the rest of the cycle commits.
func (e *Engine) Replenish(ctx context.Context, needs map[ItemID]int) ([]ReplenishResult, error) {
	var out []ReplenishResult
	err := e.unit(ctx, func(tx Tx) error {
		var err error
		out, err = e.replenish.Replenish(ctx, tx, needs)
		return err
	})
	if err != nil {
		e.log.WithField("op", "replenish").WithError(err).Error("replenishment failed")
		return nil, err
	}
	e.logReplenish(out)
	return out, nil
}

// PlanWarehouse computes the warehouse need map without writing.
func (e *Engine) PlanWarehouse(ctx context.Context) (map[ItemID]int, error) {
	var needs map[ItemID]int
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		needs, err = e.replenish.Plan(ctx, tx)
		return err
	})
	return needs, err
}

// RunWarehouseCycle plans and replenishes in one unit of work.
func (e *Engine) RunWarehouseCycle(ctx context.Context) ([]ReplenishResult, error) {
	var out []ReplenishResult
	err := e.unit(ctx, func(tx Tx) error {
		needs, err := e.replenish.Plan(ctx, tx)
		if err != nil {
			return err
		}
		out, err = e.replenish.Replenish(ctx, tx, needs)
		return err
	})
	if err != nil {
		e.log.WithField("op", "warehouse_cycle").WithError(err).Error("warehouse cycle failed")
		return nil, err
	}
	e.logReplenish(out)
	return out, nil
}

func (e *Engine) logReplenish(out []ReplenishResult) {
	for _, r := range out {
		fields := logrus.Fields{
			"op":             "replenish",
			"item_id":        r.ItemID,
			"ordered":        r.Ordered,
			"resolved":       r.Resolved,
			"added":          r.Added,
			"procurement_id": r.ProcurementID,
		}
		if r.Err != nil {
			e.log.WithFields(fields).WithError(r.Err).Warn("item skipped")
			continue
		}
		e.log.WithFields(fields).Info("item replenished")
	}
}

// =============================================================================
// SEQUENCES
// =============================================================================

// SyncSequences realigns every sequence to max(id)+1.
func (e *Engine) SyncSequences(ctx context.Context) (map[Sequence]int64, error) {
	start := time.Now()
	out, err := e.guard.SyncAll(ctx)
	if err != nil {
		return out, err
	}
	e.log.WithFields(logrus.Fields{
		"op":       "sync_sequences",
		"count":    len(out),
		"duration": time.Since(start).String(),
	}).Info("sequences synced")
	return out, nil
}
