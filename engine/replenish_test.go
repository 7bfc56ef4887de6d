package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/engine"
)

func TestReplenish_ResolvesShortageAndAddsLayer(t *testing.T) {
	// GIVEN: A sale left a shortage of 4 milk
	// WHEN: Replenishing with need {milk: 4}
	// THEN: One procurement, one new warehouse layer of 4, shortage deleted

	ctx := context.Background()
	eng, mem := newFixture(t)
	seedLayers(t, mem, shelfLayer(milk, 6, "1.50", "2025-01-01"))
	sale, err := eng.CommitSale(ctx, cart(line(milk, 10, "2.00")))
	require.NoError(t, err)
	require.Len(t, sale.Shortages, 1)

	results, err := eng.Replenish(ctx, map[engine.ItemID]int{milk: 4})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, dairy, r.SupplierID)
	assert.Equal(t, 8, r.Ordered)
	assert.Equal(t, 4, r.Resolved)
	assert.Equal(t, 4, r.Added)
	assert.True(t, r.UnitCost.Equal(money("1.50")), "0.75 × 2.00, got %s", r.UnitCost)
	assert.NotZero(t, r.ProcurementID)

	procs, err := mem.Procurements(ctx)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, engine.ProcurementCompleted, procs[0].Status)
	assert.True(t, procs[0].TotalCost.Equal(money("12.00")), "total %s", procs[0].TotalCost)

	layers, err := eng.Layers(ctx, milk, engine.TierWarehouse)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, 4, layers[0].Quantity)
	assert.Equal(t, "AUTO", layers[0].StorageLocation)
	assert.True(t, layers[0].ExpirationDate.Equal(engine.Date(clock).AddDate(0, 0, 365)))
	require.NotNil(t, layers[0].ProcurementID)
	assert.Equal(t, r.ProcurementID, *layers[0].ProcurementID)
	require.NotNil(t, layers[0].CostRecordID)

	open, err := eng.Shortages(ctx, milk)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestReplenish_OneProcurementPerSupplier(t *testing.T) {
	ctx := context.Background()
	eng, mem := newFixture(t)

	results, err := eng.Replenish(ctx, map[engine.ItemID]int{milk: 10, bread: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].ProcurementID, results[1].ProcurementID)

	procs, err := mem.Procurements(ctx)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	// 10 × 1.50 + 5 × 0.90
	assert.True(t, procs[0].TotalCost.Equal(money("19.50")), "total %s", procs[0].TotalCost)
}

func TestReplenish_MissingSupplierDoesNotAbortSiblings(t *testing.T) {
	// GIVEN: An item with no supplier next to one with a supplier
	// WHEN: Replenishing both
	// THEN: The orphan reports MissingConfigError, the other item is stocked

	ctx := context.Background()
	eng, _ := newFixture(t)

	results, err := eng.Replenish(ctx, map[engine.ItemID]int{orphan: 3, milk: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, milk, results[0].ItemID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Added)

	assert.Equal(t, orphan, results[1].ItemID)
	var missing *engine.MissingConfigError
	require.True(t, errors.As(results[1].Err, &missing))
	assert.Equal(t, orphan, missing.ItemID)
	assert.ErrorIs(t, results[1].Err, engine.ErrMissingSupplier)
	assert.True(t, engine.IsMissingConfig(results[1].Err))

	assert.Equal(t, 2, totalAt(t, eng, milk, engine.TierWarehouse))
}

func TestReplenish_ZeroCostWithoutReferencePrice(t *testing.T) {
	ctx := context.Background()
	eng, mem := newFixture(t)
	require.NoError(t, mem.LinkSupplier(ctx, orphan, dairy))

	results, err := eng.Replenish(ctx, map[engine.ItemID]int{orphan: 3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].UnitCost.IsZero())
}

func TestReplenish_RejectsNegativeNeed(t *testing.T) {
	eng, _ := newFixture(t)
	_, err := eng.Replenish(context.Background(), map[engine.ItemID]int{milk: -1})
	assert.True(t, engine.IsClientError(err))
}

func TestPlanWarehouse_UsesLevelsAndFallbacks(t *testing.T) {
	// GIVEN: milk threshold 10 / average 30 with 4 in stock,
	//        bread threshold 5 (no average) with 2 in stock,
	//        loose tea with no levels and no stock
	// WHEN: Planning
	// THEN: milk 26, bread 3, tea filled to the fallback average

	ctx := context.Background()
	eng, mem := newFixture(t)
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: milk, Name: "Milk", ReferencePrice: moneyPtr("2.00"),
		WarehouseThreshold: intp(10), WarehouseAverage: intp(30)}))
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: bread, Name: "Bread", ReferencePrice: moneyPtr("1.20"),
		WarehouseThreshold: intp(5)}))
	seedLayers(t, mem,
		warehouseLayer(milk, 4, "1.50", "2025-06-01"),
		warehouseLayer(bread, 2, "0.90", "2025-06-01"),
	)

	needs, err := eng.PlanWarehouse(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[engine.ItemID]int{milk: 26, bread: 3, orphan: 100}, needs)
}

func TestRunWarehouseCycle_PlansAndReplenishes(t *testing.T) {
	ctx := context.Background()
	eng, mem := newFixture(t)
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: milk, Name: "Milk", ReferencePrice: moneyPtr("2.00"),
		WarehouseThreshold: intp(10), WarehouseAverage: intp(20)}))
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: bread, Name: "Bread", ReferencePrice: moneyPtr("1.20"),
		WarehouseThreshold: intp(1), WarehouseAverage: intp(5)}))
	require.NoError(t, mem.UpsertItem(ctx, engine.Item{ID: orphan, Name: "Loose Tea",
		WarehouseThreshold: intp(0)}))
	seedLayers(t, mem, warehouseLayer(bread, 3, "0.90", "2025-06-01"))

	results, err := eng.RunWarehouseCycle(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1, "only milk is under its threshold")
	assert.Equal(t, 20, results[0].Added)
	assert.Equal(t, 20, totalAt(t, eng, milk, engine.TierWarehouse))
}
