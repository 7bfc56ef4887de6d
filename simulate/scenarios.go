/*
scenarios.go - Demo catalogs for simulation runs

PURPOSE:
  Pre-built catalogs that seed a store with items, suppliers and opening
  stock so a simulation has something to sell. Each scenario stresses a
  different path through the engine.

AVAILABLE SCENARIOS:
  corner-shop:   Well-stocked shelf and warehouse, every item supplied
  thin-shelf:    Shelf nearly empty, warehouse full; exercises refills
  stockout:      No stock anywhere; every sale leaves shortages
  orphan-items:  Some items without a supplier; replenishment reports them

HOW SCENARIOS WORK:
 1. Upsert suppliers and items (catalog rows are idempotent)
 2. Link items to suppliers
 3. Insert opening layers in one unit of work

Scenarios only add rows; run them against a fresh store.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "thin-shelf"}

SEE ALSO:
  - simulate.go: Sale generation
*/
package simulate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/engine"
)

// Target is a store that can also be seeded.
type Target interface {
	engine.Store
	engine.Seeder
}

// Scenario is a named demo catalog.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	build func(today time.Time) seed
}

type seed struct {
	suppliers []engine.Supplier
	items     []engine.Item
	links     map[engine.ItemID]engine.SupplierID
	layers    []engine.StockLayer
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []Scenario{
	{
		ID:          "corner-shop",
		Name:        "Corner Shop",
		Description: "Six items with shelf and warehouse stock and a supplier each",
		build:       cornerShop,
	},
	{
		ID:          "thin-shelf",
		Name:        "Thin Shelf",
		Description: "Two units per item on the shelf, a full warehouse behind it",
		build:       thinShelf,
	},
	{
		ID:          "stockout",
		Name:        "Stockout",
		Description: "Catalog with no stock; every sale records shortages",
		build:       stockout,
	},
	{
		ID:          "orphan-items",
		Name:        "Orphan Items",
		Description: "Half the catalog has no supplier",
		build:       orphanItems,
	},
}

// Scenarios lists the available demo catalogs.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// LoadScenario seeds st with the scenario named id. Expiry dates are
// relative to today.
func LoadScenario(ctx context.Context, st Target, id string, today time.Time) error {
	for _, sc := range scenarios {
		if sc.ID == id {
			return apply(ctx, st, sc.build(engine.Date(today)))
		}
	}
	return fmt.Errorf("scenario %q: %w", id, engine.ErrNotFound)
}

func apply(ctx context.Context, st Target, s seed) error {
	for _, sup := range s.suppliers {
		if err := st.UpsertSupplier(ctx, sup); err != nil {
			return err
		}
	}
	for _, it := range s.items {
		if err := st.UpsertItem(ctx, it); err != nil {
			return err
		}
	}
	for item, sup := range s.links {
		if err := st.LinkSupplier(ctx, item, sup); err != nil {
			return err
		}
	}
	if len(s.layers) == 0 {
		return nil
	}
	return st.WithTx(ctx, func(tx engine.Tx) error {
		for i := range s.layers {
			if err := tx.InsertLayer(ctx, &s.layers[i]); err != nil {
				return fmt.Errorf("seed layer for item %d: %w", s.layers[i].ItemID, err)
			}
		}
		return nil
	})
}

// =============================================================================
// CATALOGS
// =============================================================================

type product struct {
	id    engine.ItemID
	name  string
	price string
}

var groceries = []product{
	{101, "Milk 1L", "1.29"},
	{102, "Sourdough Loaf", "3.50"},
	{103, "Free Range Eggs (6)", "2.75"},
	{104, "Cheddar 200g", "2.99"},
	{105, "Bananas (bunch)", "1.10"},
	{106, "Ground Coffee 250g", "4.80"},
}

var (
	dairyCo  = engine.Supplier{ID: 1, Name: "Valley Dairy"}
	bakeryCo = engine.Supplier{ID: 2, Name: "Stone Oven Bakery"}
	grocerCo = engine.Supplier{ID: 3, Name: "Metro Wholesale"}
)

func catalog(shelfTh, shelfAvg, whTh, whAvg int) []engine.Item {
	out := make([]engine.Item, 0, len(groceries))
	for _, p := range groceries {
		price := decimal.RequireFromString(p.price)
		out = append(out, engine.Item{
			ID:                 p.id,
			Name:               p.name,
			ReferencePrice:     &price,
			ShelfThreshold:     &shelfTh,
			ShelfAverage:       &shelfAvg,
			WarehouseThreshold: &whTh,
			WarehouseAverage:   &whAvg,
		})
	}
	return out
}

func allSupplied() map[engine.ItemID]engine.SupplierID {
	return map[engine.ItemID]engine.SupplierID{
		101: dairyCo.ID, 103: dairyCo.ID, 104: dairyCo.ID,
		102: bakeryCo.ID,
		105: grocerCo.ID, 106: grocerCo.ID,
	}
}

// layersFor gives every grocery item one layer at tier priced at 75% of its
// reference price.
func layersFor(tier engine.Tier, qty int, expiry time.Time) []engine.StockLayer {
	out := make([]engine.StockLayer, 0, len(groceries))
	for _, p := range groceries {
		l := engine.StockLayer{
			ItemID:         p.id,
			Tier:           tier,
			Quantity:       qty,
			ExpirationDate: expiry,
			CostPerUnit:    engine.Round2(decimal.RequireFromString(p.price).Mul(decimal.RequireFromString("0.75"))),
		}
		if tier == engine.TierShelf {
			l.SlotID = "A1"
		} else {
			l.StorageLocation = "BACK"
		}
		out = append(out, l)
	}
	return out
}

func cornerShop(today time.Time) seed {
	layers := layersFor(engine.TierShelf, 20, today.AddDate(0, 0, 14))
	layers = append(layers, layersFor(engine.TierWarehouse, 60, today.AddDate(0, 1, 0))...)
	return seed{
		suppliers: []engine.Supplier{dairyCo, bakeryCo, grocerCo},
		items:     catalog(10, 25, 30, 80),
		links:     allSupplied(),
		layers:    layers,
	}
}

func thinShelf(today time.Time) seed {
	layers := layersFor(engine.TierShelf, 2, today.AddDate(0, 0, 7))
	layers = append(layers, layersFor(engine.TierWarehouse, 100, today.AddDate(0, 2, 0))...)
	return seed{
		suppliers: []engine.Supplier{dairyCo, bakeryCo, grocerCo},
		items:     catalog(12, 30, 20, 100),
		links:     allSupplied(),
		layers:    layers,
	}
}

func stockout(time.Time) seed {
	return seed{
		suppliers: []engine.Supplier{dairyCo, bakeryCo, grocerCo},
		items:     catalog(5, 10, 10, 40),
		links:     allSupplied(),
	}
}

func orphanItems(today time.Time) seed {
	links := allSupplied()
	for _, id := range []engine.ItemID{102, 104, 106} {
		delete(links, id)
	}
	return seed{
		suppliers: []engine.Supplier{dairyCo, grocerCo},
		items:     catalog(5, 10, 10, 40),
		links:     links,
		layers:    layersFor(engine.TierShelf, 5, today.AddDate(0, 0, 10)),
	}
}
