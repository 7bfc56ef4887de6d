/*
handlers.go - HTTP API handlers for the stock engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to engine.Engine.

ENDPOINTS:
  Sales:
    POST   /api/sales                     Commit one sale
    POST   /api/sales/batch               Commit carts in one unit of work
    GET    /api/sales/{id}                Sale header and lines

  Stock:
    POST   /api/stock/deplete             Deplete a tier directly
    GET    /api/stock/{tier}              Stock snapshot per item
    POST   /api/stock/transfer            Move warehouse stock to a shelf slot
    POST   /api/stock/shelf/prune         Delete empty shelf rows

  Shortages:
    GET    /api/shortages?item_id=        Open shortages, oldest first
    POST   /api/shortages/resolve         Resolve against available units

  Replenishment:
    POST   /api/replenish/warehouse       Replenish explicit needs
    POST   /api/replenish/warehouse/auto  Plan from levels and replenish
    POST   /api/replenish/shelf           Refill shelf from warehouse

  Admin:
    POST   /api/admin/sequences/sync      Realign every sequence
    POST   /api/simulate                  Run a simulation
    GET    /api/scenarios                 List demo catalogs
    POST   /api/scenarios/load            Seed a demo catalog

REQUEST FLOW:
  1. Decode JSON (unknown fields rejected)
  2. Validate tags
  3. Call the engine
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Sequence conflict that survived its repair
  - 422: Missing supplier or slot configuration
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/simulate"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	// Target is the engine's store when it can be seeded. Scenario
	// endpoints answer 501 without it.
	Target simulate.Target
	Runner *simulate.Runner
	Log    logrus.FieldLogger
}

// NewHandler creates a handler around eng. The store is used for scenario
// loading when it implements engine.Seeder.
func NewHandler(eng *engine.Engine, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	h := &Handler{
		Engine: eng,
		Runner: simulate.NewRunner(eng, log),
		Log:    log.WithField("module", "api"),
	}
	if t, ok := eng.Store().(simulate.Target); ok {
		h.Target = t
	}
	return h
}

// =============================================================================
// SALES
// =============================================================================

// CommitSale commits one sale.
// POST /api/sales
func (h *Handler) CommitSale(w http.ResponseWriter, r *http.Request) {
	var req engine.SaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.CommitSale(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleResponse(res.Sale, res.Lines, res.Shortages))
}

// CommitSaleBatch commits several carts atomically.
// POST /api/sales/batch
func (h *Handler) CommitSaleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	entries, err := h.Engine.CommitSaleBatch(r.Context(), req.Sales)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, BatchResponse{Entries: entries})
}

// GetSale returns a sale and its lines.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid sale id", err)
		return
	}
	sale, lines, err := h.Engine.Sale(r.Context(), engine.SaleID(id))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleResponse(*sale, lines, nil))
}

// =============================================================================
// STOCK
// =============================================================================

// Deplete consumes stock without recording shortages.
// POST /api/stock/deplete
func (h *Handler) Deplete(w http.ResponseWriter, r *http.Request) {
	var req DepleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Deplete(r.Context(), req.ItemID, req.Tier, req.Quantity)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := DepleteResponse{
		ItemID:    res.ItemID,
		Requested: res.Requested,
		Fulfilled: res.Fulfilled,
		Shortfall: res.Shortfall(),
		Cost:      res.Cost(),
		Takes:     make([]LayerTakeDTO, 0, len(res.Touched)),
	}
	for _, t := range res.Touched {
		resp.Takes = append(resp.Takes, LayerTakeDTO{
			LayerID: t.LayerID, Taken: t.Taken, CostPerUnit: t.CostPerUnit, Deleted: t.Removed,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// StockLevels returns the snapshot for one tier.
// GET /api/stock/{tier}
func (h *Handler) StockLevels(w http.ResponseWriter, r *http.Request) {
	tier, err := engine.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		h.fail(w, err)
		return
	}
	levels, err := h.Engine.StockLevels(r.Context(), tier)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]StockLevelDTO, 0, len(levels))
	for _, s := range levels {
		out = append(out, StockLevelDTO{
			ItemID: s.ItemID, Name: s.Name, Current: s.Current, Threshold: s.Threshold, Average: s.Average,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Transfer moves warehouse stock onto the shelf.
// POST /api/stock/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.TransferToShelf(r.Context(), req.ItemID, req.Quantity, req.SlotID, req.User)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{
		ItemID:      res.ItemID,
		Requested:   res.Requested,
		Moved:       res.Moved,
		Shortfall:   res.Shortfall(),
		ShelfLayers: res.ShelfLayers,
	})
}

// PruneShelf deletes zero-quantity shelf rows.
// POST /api/stock/shelf/prune
func (h *Handler) PruneShelf(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.PruneShelf(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Deleted: n})
}

// =============================================================================
// SHORTAGES
// =============================================================================

// ListShortages returns open shortages, optionally for one item.
// GET /api/shortages
func (h *Handler) ListShortages(w http.ResponseWriter, r *http.Request) {
	var item engine.ItemID
	if v := r.URL.Query().Get("item_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid item_id", err)
			return
		}
		item = engine.ItemID(id)
	}
	open, err := h.Engine.Shortages(r.Context(), item)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]ShortageDTO, 0, len(open))
	for _, s := range open {
		out = append(out, toShortageDTO(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// ResolveShortages applies available units to open shortages.
// POST /api/shortages/resolve
func (h *Handler) ResolveShortages(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	unmet, res, err := h.Engine.ResolveShortage(r.Context(), req.ItemID, req.Available, req.Resolver)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := ResolveResponse{Unmet: unmet, Resolutions: make([]ResolutionDTO, 0, len(res))}
	for _, x := range res {
		resp.Resolutions = append(resp.Resolutions, ResolutionDTO{
			ShortageID: x.ShortageID, SaleID: x.SaleID, Taken: x.Taken, Deleted: x.Deleted,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

// ReplenishWarehouse replenishes explicit needs.
// POST /api/replenish/warehouse
func (h *Handler) ReplenishWarehouse(w http.ResponseWriter, r *http.Request) {
	var req ReplenishRequest
	if !h.decode(w, r, &req) {
		return
	}
	needs := make(map[engine.ItemID]int, len(req.Needs))
	for _, n := range req.Needs {
		needs[n.ItemID] += n.Quantity
	}
	results, err := h.Engine.Replenish(r.Context(), needs)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReplenishResponse(results))
}

// AutoReplenishWarehouse plans needs from stock levels and replenishes.
// POST /api/replenish/warehouse/auto
func (h *Handler) AutoReplenishWarehouse(w http.ResponseWriter, r *http.Request) {
	results, err := h.Engine.RunWarehouseCycle(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReplenishResponse(results))
}

func toReplenishResponse(results []engine.ReplenishResult) ReplenishResponse {
	resp := ReplenishResponse{Results: make([]ReplenishResultDTO, 0, len(results))}
	for _, res := range results {
		dto := ReplenishResultDTO{ReplenishResult: res}
		if res.Err != nil {
			dto.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, dto)
	}
	return resp
}

// RefillShelf moves warehouse stock to the shelf for items below threshold.
// POST /api/replenish/shelf
func (h *Handler) RefillShelf(w http.ResponseWriter, r *http.Request) {
	var req RefillRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	results, err := h.Engine.RefillShelf(r.Context(), req.Items, req.User)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefillResponse{Results: results})
}

// =============================================================================
// ADMIN
// =============================================================================

// SyncSequences realigns every sequence to max(id)+1.
// POST /api/admin/sequences/sync
func (h *Handler) SyncSequences(w http.ResponseWriter, r *http.Request) {
	next, err := h.Engine.SyncSequences(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SequencesResponse{Next: next})
}

// Simulate runs a bulk simulation synchronously.
// POST /api/simulate
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var opts simulate.Options
	if !h.decode(w, r, &opts) {
		return
	}
	rep, err := h.Runner.Run(r.Context(), opts)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListScenarios returns the demo catalogs.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list := simulate.Scenarios()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, list)
}

// LoadScenario seeds a demo catalog.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Target == nil {
		writeError(w, http.StatusNotImplemented, "Store cannot be seeded", nil)
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	now := time.Now
	if clock := h.Engine.Config().Now; clock != nil {
		now = clock
	}
	if err := simulate.LoadScenario(r.Context(), h.Target, req.ScenarioID, now()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := engine.ValidateStruct(dst); err != nil {
		h.fail(w, err)
		return false
	}
	return true
}

// fail maps engine errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]FieldErrorDTO, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, FieldErrorDTO{Field: f.Field, Message: f.Message})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "invalid_request", Details: fields})
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, engine.ErrSequenceExhausted):
		writeError(w, http.StatusConflict, "Sequence conflict persisted after repair", err)
	case engine.IsMissingConfig(err):
		writeError(w, http.StatusUnprocessableEntity, "Missing configuration", err)
	default:
		h.Log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
