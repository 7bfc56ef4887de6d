package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	milk   engine.ItemID     = 7
	bread  engine.ItemID     = 8
	orphan engine.ItemID     = 9
	dairy  engine.SupplierID = 1
)

var clock = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func moneyPtr(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func intp(v int) *int { return &v }

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.RetryDelay = 0
	cfg.Now = func() time.Time { return clock }
	return cfg
}

// newFixture returns an engine over a memory store seeded with milk and
// bread (both supplied by dairy) and an item with no supplier.
func newFixture(t *testing.T, opts ...func(*engine.Config)) (*engine.Engine, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.UpsertSupplier(ctx, engine.Supplier{ID: dairy, Name: "Dairy Co"}))
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: milk, Name: "Milk", ReferencePrice: moneyPtr("2.00")}))
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: bread, Name: "Bread", ReferencePrice: moneyPtr("1.20")}))
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: orphan, Name: "Loose Tea"}))
	require.NoError(t, mem.LinkSupplier(ctx, milk, dairy))
	require.NoError(t, mem.LinkSupplier(ctx, bread, dairy))

	cfg := testConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return engine.New(mem, cfg, nil), mem
}

func deleteEmptyShelf(c *engine.Config) { c.ShelfPolicy = engine.DeleteEmptyShelf }

func shelfLayer(item engine.ItemID, qty int, cost, exp string) engine.StockLayer {
	return engine.StockLayer{
		ItemID:         item,
		Tier:           engine.TierShelf,
		Quantity:       qty,
		CostPerUnit:    money(cost),
		ExpirationDate: mustDate(exp),
		SlotID:         "A1",
	}
}

func warehouseLayer(item engine.ItemID, qty int, cost, exp string) engine.StockLayer {
	return engine.StockLayer{
		ItemID:          item,
		Tier:            engine.TierWarehouse,
		Quantity:        qty,
		CostPerUnit:     money(cost),
		ExpirationDate:  mustDate(exp),
		StorageLocation: "BACK",
	}
}

func mustDate(s string) time.Time {
	d, err := time.Parse(engine.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

// seedLayers inserts layers and returns their ids in order.
func seedLayers(t *testing.T, s engine.Store, layers ...engine.StockLayer) []engine.LayerID {
	t.Helper()
	ids := make([]engine.LayerID, 0, len(layers))
	err := s.WithTx(context.Background(), func(tx engine.Tx) error {
		for i := range layers {
			if err := tx.InsertLayer(context.Background(), &layers[i]); err != nil {
				return err
			}
			ids = append(ids, layers[i].ID)
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func cart(lines ...engine.CartLine) engine.SaleRequest {
	return engine.SaleRequest{
		Cart:          lines,
		DiscountRate:  decimal.Zero,
		PaymentMethod: "cash",
		Operator:      "till-1",
	}
}

func line(item engine.ItemID, qty int, price string) engine.CartLine {
	return engine.CartLine{ItemID: item, Quantity: qty, UnitPrice: money(price)}
}

func totalAt(t *testing.T, e *engine.Engine, item engine.ItemID, tier engine.Tier) int {
	t.Helper()
	layers, err := e.Layers(context.Background(), item, tier)
	require.NoError(t, err)
	total := 0
	for _, l := range layers {
		total += l.Quantity
	}
	return total
}
