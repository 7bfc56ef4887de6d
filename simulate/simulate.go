/*
Package simulate generates synthetic sales against an engine.

PURPOSE:
  Bulk QA traffic: random carts drawn from the catalog, committed by N
  concurrent cashiers, optionally followed by a shelf refill for every item
  that was sold. Each run gets a uuid that is written into the note of
  every sale it commits so runs can be told apart in the database.

ALGORITHM:
 1. Snapshot the shelf (one row per catalog item with its reference price)
 2. Build all carts up front from a seeded rand.Rand, so a seed always
    yields the same carts whatever the interleaving
 3. Feed carts to Cashiers goroutines (errgroup); each commits single
    sales or batches of BatchSize through CommitSaleBatch
 4. Refill the shelf for touched items

FAILURES:
  A rejected or failed sale is counted and reported; it does not stop the
  run. Context cancellation does.

SEE ALSO:
  - scenarios.go: Demo catalogs
  - engine/engine.go: CommitSale, CommitSaleBatch, RefillShelf
*/
package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-engine/engine"
)

// Options shape one run.
type Options struct {
	Sales          int             `json:"sales" validate:"gte=0,lte=100000"`
	Cashiers       int             `json:"cashiers" validate:"gte=0,lte=64"`
	MaxLines       int             `json:"max_lines" validate:"gte=0,lte=50"`
	MaxQuantity    int             `json:"max_quantity" validate:"gte=0,lte=1000"`
	BatchSize      int             `json:"batch_size" validate:"gte=0,lte=1000"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
	PaymentMethods []string        `json:"payment_methods,omitempty"`
	Operator       string          `json:"operator,omitempty"`
	RefillShelf    bool            `json:"refill_shelf"`
	Seed           int64           `json:"seed"`
}

func (o Options) withDefaults() Options {
	if o.Cashiers <= 0 {
		o.Cashiers = 1
	}
	if o.MaxLines <= 0 {
		o.MaxLines = 5
	}
	if o.MaxQuantity <= 0 {
		o.MaxQuantity = 10
	}
	if len(o.PaymentMethods) == 0 {
		o.PaymentMethods = []string{"cash", "card"}
	}
	if o.Operator == "" {
		o.Operator = "SIM"
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// Report summarises a run.
type Report struct {
	RunID         uuid.UUID             `json:"run_id"`
	Seed          int64                 `json:"seed"`
	Requested     int                   `json:"requested"`
	Committed     int                   `json:"committed"`
	Failed        int                   `json:"failed"`
	Lines         int                   `json:"lines"`
	ShortageUnits int                   `json:"shortage_units"`
	Gross         decimal.Decimal       `json:"gross"`
	Refills       []engine.RefillResult `json:"refills,omitempty"`
	Errors        []string              `json:"errors,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
}

// Runner drives simulated cashiers.
type Runner struct {
	eng *engine.Engine
	log logrus.FieldLogger
}

// NewRunner creates a runner. A nil log discards output.
func NewRunner(eng *engine.Engine, log logrus.FieldLogger) *Runner {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Runner{eng: eng, log: log.WithField("module", "simulate")}
}

// maxReportedErrors caps Report.Errors.
const maxReportedErrors = 20

// Run executes one simulation.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	opts = opts.withDefaults()
	rep := Report{
		RunID:     uuid.New(),
		Seed:      opts.Seed,
		Requested: opts.Sales,
		Gross:     decimal.Zero,
		StartedAt: time.Now().UTC(),
	}
	log := r.log.WithField("run_id", rep.RunID)

	stock, err := r.eng.StockLevels(ctx, engine.TierShelf)
	if err != nil {
		return rep, fmt.Errorf("load catalog: %w", err)
	}
	carts := BuildCarts(stock, opts, rep.RunID)
	if len(carts) == 0 && opts.Sales > 0 {
		return rep, errors.New("catalog has no priced items")
	}

	var mu sync.Mutex
	touched := make(map[engine.ItemID]struct{})
	record := func(lines int, shortages int, gross decimal.Decimal, items []engine.ItemID) {
		mu.Lock()
		defer mu.Unlock()
		rep.Committed++
		rep.Lines += lines
		rep.ShortageUnits += shortages
		rep.Gross = rep.Gross.Add(gross)
		for _, id := range items {
			touched[id] = struct{}{}
		}
	}
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		rep.Failed++
		if len(rep.Errors) < maxReportedErrors {
			rep.Errors = append(rep.Errors, err.Error())
		}
	}

	work := make(chan []engine.SaleRequest)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, chunk := range chunks(carts, opts.BatchSize) {
			select {
			case work <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < opts.Cashiers; i++ {
		till := fmt.Sprintf("till-%d", i+1)
		g.Go(func() error {
			for chunk := range work {
				for j := range chunk {
					chunk[j].Operator = opts.Operator + "/" + till
				}
				if err := r.commit(gctx, chunk, record, fail); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rep.FinishedAt = time.Now().UTC()
		return rep, err
	}

	if opts.RefillShelf && len(touched) > 0 {
		items := make([]engine.ItemID, 0, len(touched))
		for id := range touched {
			items = append(items, id)
		}
		sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
		refills, err := r.eng.RefillShelf(ctx, items, "")
		if err != nil {
			rep.FinishedAt = time.Now().UTC()
			return rep, fmt.Errorf("refill shelf: %w", err)
		}
		rep.Refills = refills
	}

	rep.FinishedAt = time.Now().UTC()
	log.WithFields(logrus.Fields{
		"committed":      rep.Committed,
		"failed":         rep.Failed,
		"shortage_units": rep.ShortageUnits,
		"gross":          rep.Gross.StringFixed(2),
	}).Info("simulation finished")
	return rep, nil
}

// commit sends one chunk. Only context errors are returned.
func (r *Runner) commit(ctx context.Context, chunk []engine.SaleRequest,
	record func(int, int, decimal.Decimal, []engine.ItemID), fail func(error)) error {

	if len(chunk) == 1 {
		res, err := r.eng.CommitSale(ctx, chunk[0])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fail(err)
			return nil
		}
		units := 0
		for _, s := range res.Shortages {
			units += s.Outstanding
		}
		record(len(res.Lines), units, res.Sale.Gross, itemsOf(chunk[0]))
		return nil
	}

	entries, err := r.eng.CommitSaleBatch(ctx, chunk)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for range chunk {
			fail(err)
		}
		return nil
	}
	for i, e := range entries {
		if e.Error != "" {
			fail(errors.New(e.Error))
			continue
		}
		gross := decimal.Zero
		for _, it := range e.Items {
			gross = gross.Add(it.Total)
		}
		units := 0
		for _, s := range e.Shortages {
			units += s.Quantity
		}
		record(len(e.Items), units, gross, itemsOf(chunk[i]))
	}
	return nil
}

// BuildCarts draws opts.Sales carts from the priced items in stock.
// The same stock and seed always produce the same carts.
func BuildCarts(stock []engine.ItemStock, opts Options, run uuid.UUID) []engine.SaleRequest {
	opts = opts.withDefaults()
	var priced []engine.ItemStock
	for _, s := range stock {
		if s.ReferencePrice != nil && s.ReferencePrice.IsPositive() {
			priced = append(priced, s)
		}
	}
	if len(priced) == 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	note := "sim:" + run.String()
	carts := make([]engine.SaleRequest, 0, opts.Sales)
	for i := 0; i < opts.Sales; i++ {
		n := 1 + rng.Intn(min(opts.MaxLines, len(priced)))
		picks := rng.Perm(len(priced))[:n]
		cart := make([]engine.CartLine, 0, n)
		for _, p := range picks {
			it := priced[p]
			cart = append(cart, engine.CartLine{
				ItemID:    it.ItemID,
				Name:      it.Name,
				Quantity:  1 + rng.Intn(opts.MaxQuantity),
				UnitPrice: engine.Round2(*it.ReferencePrice),
			})
		}
		carts = append(carts, engine.SaleRequest{
			Cart:          cart,
			DiscountRate:  opts.DiscountRate,
			PaymentMethod: opts.PaymentMethods[rng.Intn(len(opts.PaymentMethods))],
			Operator:      opts.Operator,
			Note:          note,
		})
	}
	return carts
}

func chunks(carts []engine.SaleRequest, size int) [][]engine.SaleRequest {
	if size <= 1 {
		size = 1
	}
	var out [][]engine.SaleRequest
	for len(carts) > 0 {
		n := min(size, len(carts))
		out = append(out, carts[:n:n])
		carts = carts[n:]
	}
	return out
}

func itemsOf(req engine.SaleRequest) []engine.ItemID {
	out := make([]engine.ItemID, len(req.Cart))
	for i, l := range req.Cart {
		out[i] = l.ItemID
	}
	return out
}
