/*
handlers_test.go - HTTP tests for the API handlers

Tests drive the full router over an in-memory store seeded with the
corner-shop scenario: 6 items, 20 units each on the shelf, 60 in the
warehouse.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/engine/store"
	"github.com/warp/stock-engine/simulate"
)

var today = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, scenario string) (http.Handler, *engine.Engine) {
	t.Helper()
	mem := store.NewMemory()
	if scenario != "" {
		require.NoError(t, simulate.LoadScenario(context.Background(), mem, scenario, today))
	}
	cfg := engine.DefaultConfig()
	cfg.RetryDelay = 0
	cfg.Now = func() time.Time { return today }

	log := logrus.New()
	log.SetOutput(io.Discard)
	eng := engine.New(mem, cfg, log)
	return NewRouter(NewHandler(eng, log), nil), eng
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func milkSale(qty int) engine.SaleRequest {
	return engine.SaleRequest{
		Cart:          []engine.CartLine{{ItemID: 101, Quantity: qty, UnitPrice: decimal.RequireFromString("1.29")}},
		PaymentMethod: "cash",
		Operator:      "till-1",
	}
}

// =============================================================================
// SALES
// =============================================================================

func TestCommitSale_Created(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/sales", milkSale(3))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[SaleResponse](t, rec)
	assert.Equal(t, engine.SaleID(1), resp.Sale.ID)
	assert.Equal(t, "3.87", resp.Sale.Gross.StringFixed(2))
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, 3, resp.Lines[0].Quantity)
	assert.Empty(t, resp.Shortages)
}

func TestCommitSale_OversellReturnsShortage(t *testing.T) {
	// GIVEN: 20 units of milk on the shelf
	// WHEN: Selling 25
	// THEN: The sale commits and a shortage of 5 is reported

	h, eng := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/sales", milkSale(25))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[SaleResponse](t, rec)
	require.Len(t, resp.Shortages, 1)
	assert.Equal(t, 5, resp.Shortages[0].Outstanding)
	assert.Equal(t, resp.Sale.ID, resp.Shortages[0].SaleID)

	layers, err := eng.Layers(context.Background(), 101, engine.TierShelf)
	require.NoError(t, err)
	for _, l := range layers {
		assert.Zero(t, l.Quantity)
	}
}

func TestCommitSale_Validation(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")

	tests := []struct {
		name string
		body any
	}{
		{"empty cart", engine.SaleRequest{PaymentMethod: "cash"}},
		{"zero quantity", milkSale(0)},
		{"missing payment method", engine.SaleRequest{Cart: milkSale(1).Cart}},
		{"unknown field", `{"cart":[],"payment":"cash"}`},
		{"malformed", `{"cart":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/sales", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCommitSale_ValidationDetailsUseJSONPaths(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/sales", milkSale(0))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Code    string          `json:"code"`
		Details []FieldErrorDTO `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Code)
	require.NotEmpty(t, resp.Details)
	assert.Equal(t, "cart[0].quantity", resp.Details[0].Field)
}

func TestCommitSaleBatch(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/sales/batch", BatchRequest{
		Sales: []engine.SaleRequest{milkSale(2), milkSale(30)},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[BatchResponse](t, rec)
	require.Len(t, resp.Entries, 2)
	assert.Empty(t, resp.Entries[0].Shortages)
	require.Len(t, resp.Entries[1].Shortages, 1)
	assert.Equal(t, 12, resp.Entries[1].Shortages[0].Quantity)
}

func TestCommitSaleBatch_Empty(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")
	rec := do(t, h, http.MethodPost, "/api/sales/batch", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSale(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/sales", milkSale(4)).Code)

	rec := do(t, h, http.MethodGet, "/api/sales/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SaleResponse](t, rec)
	assert.Equal(t, "till-1", resp.Sale.Operator)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "5.16", resp.Lines[0].LineTotal.StringFixed(2))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/sales/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/sales/abc", nil).Code)
}

// =============================================================================
// STOCK
// =============================================================================

func TestStockLevels(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodGet, "/api/stock/warehouse", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	levels := decodeBody[[]StockLevelDTO](t, rec)
	require.Len(t, levels, 6)
	for _, l := range levels {
		assert.Equal(t, 60, l.Current)
	}

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/stock/attic", nil).Code)
}

func TestDeplete_ReportsShortfallWithoutLedger(t *testing.T) {
	h, eng := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/stock/deplete", DepleteRequest{ItemID: 102, Tier: engine.TierShelf, Quantity: 23})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DepleteResponse](t, rec)
	assert.Equal(t, 20, resp.Fulfilled)
	assert.Equal(t, 3, resp.Shortfall)
	require.Len(t, resp.Takes, 1)
	assert.Equal(t, 20, resp.Takes[0].Taken)

	open, err := eng.Shortages(context.Background(), 102)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDeplete_BadTier(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")
	rec := do(t, h, http.MethodPost, "/api/stock/deplete", DepleteRequest{ItemID: 102, Tier: "basement", Quantity: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransfer(t *testing.T) {
	h, eng := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/stock/transfer", TransferRequest{ItemID: 105, Quantity: 15, SlotID: "B2", User: "ana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[TransferResponse](t, rec)
	assert.Equal(t, 15, resp.Moved)
	assert.Zero(t, resp.Shortfall)

	levels, err := eng.StockLevels(context.Background(), engine.TierShelf)
	require.NoError(t, err)
	for _, l := range levels {
		if l.ItemID == 105 {
			assert.Equal(t, 35, l.Current)
		}
	}
}

func TestPruneShelf(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/stock/deplete",
		DepleteRequest{ItemID: 103, Tier: engine.TierShelf, Quantity: 20}).Code)

	rec := do(t, h, http.MethodPost, "/api/stock/shelf/prune", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[PruneResponse](t, rec).Deleted)
}

// =============================================================================
// SHORTAGES
// =============================================================================

func TestShortages_ListAndResolve(t *testing.T) {
	// GIVEN: Two oversold sales of milk (shortages 5 and 10)
	// WHEN: Resolving with 8 units available
	// THEN: The first is deleted, the second keeps 7 outstanding

	h, _ := newTestServer(t, "stockout")
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/sales", milkSale(5)).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/sales", milkSale(10)).Code)

	rec := do(t, h, http.MethodGet, "/api/shortages?item_id=101", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decodeBody[[]ShortageDTO](t, rec)
	require.Len(t, open, 2)
	assert.Equal(t, engine.SaleID(1), open[0].SaleID)

	rec = do(t, h, http.MethodPost, "/api/shortages/resolve", ResolveRequest{ItemID: 101, Available: 8, Resolver: "ana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ResolveResponse](t, rec)
	assert.Zero(t, resp.Unmet)
	require.Len(t, resp.Resolutions, 2)
	assert.True(t, resp.Resolutions[0].Deleted)
	assert.Equal(t, 3, resp.Resolutions[1].Taken)

	open = decodeBody[[]ShortageDTO](t, do(t, h, http.MethodGet, "/api/shortages", nil))
	require.Len(t, open, 1)
	assert.Equal(t, 7, open[0].Outstanding)
	assert.Equal(t, "ana", open[0].ResolvedBy)
}

func TestShortages_BadQuery(t *testing.T) {
	h, _ := newTestServer(t, "stockout")
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/shortages?item_id=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/shortages/resolve",
		ResolveRequest{ItemID: 101, Available: 1}).Code)
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

func TestReplenishWarehouse(t *testing.T) {
	h, eng := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/replenish/warehouse", ReplenishRequest{Needs: []NeedDTO{{ItemID: 101, Quantity: 10}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ReplenishResponse](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 10, resp.Results[0].Added)
	assert.Empty(t, resp.Results[0].Error)

	levels, err := eng.StockLevels(context.Background(), engine.TierWarehouse)
	require.NoError(t, err)
	for _, l := range levels {
		if l.ItemID == 101 {
			assert.Equal(t, 70, l.Current)
		}
	}
}

func TestReplenishWarehouse_MissingSupplierReportedPerItem(t *testing.T) {
	h, _ := newTestServer(t, "orphan-items")

	rec := do(t, h, http.MethodPost, "/api/replenish/warehouse", ReplenishRequest{Needs: []NeedDTO{
		{ItemID: 101, Quantity: 4},
		{ItemID: 102, Quantity: 4},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	byItem := map[engine.ItemID]ReplenishResultDTO{}
	for _, r := range decodeBody[ReplenishResponse](t, rec).Results {
		byItem[r.ItemID] = r
	}
	assert.Empty(t, byItem[101].Error)
	assert.NotEmpty(t, byItem[102].Error)
}

func TestReplenishWarehouse_NoNeeds(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/replenish/warehouse", ReplenishRequest{}).Code)
}

func TestAutoReplenishWarehouse(t *testing.T) {
	// Stockout items sit at 0 against a threshold of 10.
	h, _ := newTestServer(t, "stockout")

	rec := do(t, h, http.MethodPost, "/api/replenish/warehouse/auto", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ReplenishResponse](t, rec)
	assert.Len(t, resp.Results, 6)
}

func TestRefillShelf_NoBody(t *testing.T) {
	h, _ := newTestServer(t, "thin-shelf")

	rec := do(t, h, http.MethodPost, "/api/replenish/shelf", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[RefillResponse](t, rec)
	require.Len(t, resp.Results, 6)
	for _, r := range resp.Results {
		assert.Positive(t, r.Moved, "item %d", r.ItemID)
	}
}

// =============================================================================
// ADMIN
// =============================================================================

func TestSyncSequences(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/sales", milkSale(1)).Code)

	rec := do(t, h, http.MethodPost, "/api/admin/sequences/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SequencesResponse](t, rec)
	assert.Equal(t, int64(2), resp.Next[engine.SeqSales])
}

func TestSimulate(t *testing.T) {
	h, _ := newTestServer(t, "corner-shop")

	rec := do(t, h, http.MethodPost, "/api/simulate", simulate.Options{Sales: 6, Cashiers: 2, Seed: 11})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[simulate.Report](t, rec)
	assert.Equal(t, 6, rep.Committed)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/simulate", simulate.Options{Cashiers: 1000}).Code)
}

func TestScenarios(t *testing.T) {
	h, _ := newTestServer(t, "")

	rec := do(t, h, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]simulate.Scenario](t, rec), 4)

	rec = do(t, h, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "thin-shelf"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	levels := decodeBody[[]StockLevelDTO](t, do(t, h, http.MethodGet, "/api/stock/shelf", nil))
	require.Len(t, levels, 6)
	assert.Equal(t, 2, levels[0].Current)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "mall"}).Code)
}
