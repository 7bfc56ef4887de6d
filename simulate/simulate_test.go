package simulate_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/engine/store"
	"github.com/warp/stock-engine/simulate"
)

var today = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T, scenario string) (*engine.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, simulate.LoadScenario(context.Background(), mem, scenario, today))

	cfg := engine.DefaultConfig()
	cfg.RetryDelay = 0
	cfg.Now = func() time.Time { return today }
	return engine.New(mem, cfg, nil), mem
}

func TestLoadScenario_SeedsCatalogAndStock(t *testing.T) {
	ctx := context.Background()
	eng, mem := setup(t, "corner-shop")

	items, err := mem.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 6)

	shelf, err := eng.StockLevels(ctx, engine.TierShelf)
	require.NoError(t, err)
	for _, s := range shelf {
		assert.Equal(t, 20, s.Current, "item %d", s.ItemID)
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	err := simulate.LoadScenario(context.Background(), store.NewMemory(), "nope", today)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestBuildCarts_DeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, "corner-shop")
	stock, err := eng.StockLevels(ctx, engine.TierShelf)
	require.NoError(t, err)

	opts := simulate.Options{Sales: 25, MaxLines: 3, MaxQuantity: 4, Seed: 42}
	run := uuid.New()
	a := simulate.BuildCarts(stock, opts, run)
	b := simulate.BuildCarts(stock, opts, run)
	require.Len(t, a, 25)
	assert.Equal(t, a, b)

	for _, c := range a {
		assert.NotEmpty(t, c.Cart)
		assert.LessOrEqual(t, len(c.Cart), 3)
		assert.Equal(t, "sim:"+run.String(), c.Note)
		for _, l := range c.Cart {
			assert.GreaterOrEqual(t, l.Quantity, 1)
			assert.LessOrEqual(t, l.Quantity, 4)
		}
	}
}

func TestRun_ConcurrentCashiersCommitEverySale(t *testing.T) {
	// GIVEN: The thin-shelf catalog and four cashiers
	// WHEN: Simulating 40 sales in batches of 5, then refilling
	// THEN: Every sale commits, shortages are counted, refills ran

	ctx := context.Background()
	eng, _ := setup(t, "thin-shelf")
	runner := simulate.NewRunner(eng, nil)

	rep, err := runner.Run(ctx, simulate.Options{
		Sales: 40, Cashiers: 4, MaxLines: 3, MaxQuantity: 5, BatchSize: 5,
		DiscountRate: decimal.RequireFromString("5"), RefillShelf: true, Seed: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 40, rep.Committed)
	assert.Zero(t, rep.Failed)
	assert.Positive(t, rep.ShortageUnits, "2 units per item cannot cover 40 carts")
	assert.True(t, rep.Gross.IsPositive())
	assert.NotEmpty(t, rep.Refills)

	open, err := eng.Shortages(ctx, 0)
	require.NoError(t, err)
	for _, s := range open {
		assert.Positive(t, s.Outstanding)
	}
}

func TestRun_SingleSalesTagOperatorWithTill(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, "corner-shop")

	rep, err := simulate.NewRunner(eng, nil).Run(ctx, simulate.Options{Sales: 3, Cashiers: 1, Seed: 1, Operator: "QA"})
	require.NoError(t, err)
	require.Equal(t, 3, rep.Committed)

	sale, _, err := eng.Sale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "QA/till-1", sale.Operator)
	assert.True(t, strings.HasPrefix(sale.Note, "sim:"))
}

func TestRun_EmptyCatalog(t *testing.T) {
	eng := engine.New(store.NewMemory(), engine.DefaultConfig(), nil)
	_, err := simulate.NewRunner(eng, nil).Run(context.Background(), simulate.Options{Sales: 1})
	assert.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	eng, _ := setup(t, "corner-shop")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := simulate.NewRunner(eng, nil).Run(ctx, simulate.Options{Sales: 10, Seed: 3})
	assert.ErrorIs(t, err, context.Canceled)
}
