/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's structs from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry validator/v10 tags checked in decode(). Sale carts
  are checked again by the engine, which owns the money rules.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/sale.go: SaleRequest is accepted as-is
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/engine"
)

// =============================================================================
// SALES
// =============================================================================

// SaleDTO is a committed sale header.
type SaleDTO struct {
	ID             engine.SaleID   `json:"id"`
	Gross          decimal.Decimal `json:"gross"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	PaymentMethod  string          `json:"payment_method"`
	Operator       string          `json:"operator,omitempty"`
	Note           string          `json:"note,omitempty"`
	OriginalSaleID *engine.SaleID  `json:"original_sale_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SaleLineDTO struct {
	ID        int64           `json:"id"`
	ItemID    engine.ItemID   `json:"item_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// SaleResponse is returned by POST /api/sales and GET /api/sales/{id}.
type SaleResponse struct {
	Sale      SaleDTO       `json:"sale"`
	Lines     []SaleLineDTO `json:"lines"`
	Shortages []ShortageDTO `json:"shortages,omitempty"`
}

type BatchRequest struct {
	Sales []engine.SaleRequest `json:"sales" validate:"required,min=1,max=500"`
}

type BatchResponse struct {
	Entries []engine.DebugEntry `json:"entries"`
}

// =============================================================================
// STOCK
// =============================================================================

type DepleteRequest struct {
	ItemID   engine.ItemID `json:"item_id" validate:"gt=0"`
	Tier     engine.Tier   `json:"tier" validate:"required,oneof=warehouse shelf"`
	Quantity int           `json:"quantity" validate:"gt=0"`
}

type LayerTakeDTO struct {
	LayerID     engine.LayerID  `json:"layer_id"`
	Taken       int             `json:"taken"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	Deleted     bool            `json:"deleted"`
}

type DepleteResponse struct {
	ItemID    engine.ItemID   `json:"item_id"`
	Requested int             `json:"requested"`
	Fulfilled int             `json:"fulfilled"`
	Shortfall int             `json:"shortfall"`
	Cost      decimal.Decimal `json:"cost"`
	Takes     []LayerTakeDTO  `json:"takes"`
}

type StockLevelDTO struct {
	ItemID    engine.ItemID `json:"item_id"`
	Name      string        `json:"name,omitempty"`
	Current   int           `json:"current"`
	Threshold *int          `json:"threshold,omitempty"`
	Average   *int          `json:"average,omitempty"`
}

type TransferRequest struct {
	ItemID   engine.ItemID `json:"item_id" validate:"gt=0"`
	Quantity int           `json:"quantity" validate:"gt=0"`
	SlotID   string        `json:"slot_id" validate:"max=32"`
	User     string        `json:"user" validate:"max=64"`
}

type TransferResponse struct {
	ItemID      engine.ItemID    `json:"item_id"`
	Requested   int              `json:"requested"`
	Moved       int              `json:"moved"`
	Shortfall   int              `json:"shortfall"`
	ShelfLayers []engine.LayerID `json:"shelf_layers"`
}

type PruneResponse struct {
	Deleted int `json:"deleted"`
}

// =============================================================================
// SHORTAGES
// =============================================================================

type ShortageDTO struct {
	ID          engine.ShortageID `json:"id"`
	SaleID      engine.SaleID     `json:"sale_id"`
	ItemID      engine.ItemID     `json:"item_id"`
	Outstanding int               `json:"outstanding"`
	Resolved    int               `json:"resolved"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	LoggedAt    time.Time         `json:"logged_at"`
	System      bool              `json:"system"`
}

type ResolveRequest struct {
	ItemID    engine.ItemID `json:"item_id" validate:"gt=0"`
	Available int           `json:"available" validate:"gte=0"`
	Resolver  string        `json:"resolver" validate:"required,max=64"`
}

type ResolutionDTO struct {
	ShortageID engine.ShortageID `json:"shortage_id"`
	SaleID     engine.SaleID     `json:"sale_id"`
	Taken      int               `json:"taken"`
	Deleted    bool              `json:"deleted"`
}

type ResolveResponse struct {
	Unmet       int             `json:"unmet"`
	Resolutions []ResolutionDTO `json:"resolutions"`
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

type NeedDTO struct {
	ItemID   engine.ItemID `json:"item_id" validate:"gt=0"`
	Quantity int           `json:"quantity" validate:"gte=0"`
}

type ReplenishRequest struct {
	Needs []NeedDTO `json:"needs" validate:"required,min=1,dive"`
}

type ReplenishResultDTO struct {
	engine.ReplenishResult
	Error string `json:"error,omitempty"`
}

type ReplenishResponse struct {
	Results []ReplenishResultDTO `json:"results"`
}

type RefillRequest struct {
	Items []engine.ItemID `json:"items"`
	User  string          `json:"user" validate:"max=64"`
}

type RefillResponse struct {
	Results []engine.RefillResult `json:"results"`
}

type SequencesResponse struct {
	Next map[engine.Sequence]int64 `json:"next"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSaleDTO(s engine.Sale) SaleDTO {
	return SaleDTO{
		ID:             s.ID,
		Gross:          s.Gross,
		DiscountRate:   s.DiscountRate,
		DiscountAmount: s.DiscountAmount,
		FinalAmount:    s.FinalAmount,
		PaymentMethod:  s.PaymentMethod,
		Operator:       s.Operator,
		Note:           s.Note,
		OriginalSaleID: s.OriginalSaleID,
		CreatedAt:      s.CreatedAt,
	}
}

func toSaleResponse(s engine.Sale, lines []engine.SaleLine, shortages []engine.Shortage) SaleResponse {
	resp := SaleResponse{Sale: toSaleDTO(s), Lines: make([]SaleLineDTO, 0, len(lines))}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, SaleLineDTO{
			ID:        l.ID,
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}
	for _, sh := range shortages {
		resp.Shortages = append(resp.Shortages, toShortageDTO(sh))
	}
	return resp
}

func toShortageDTO(s engine.Shortage) ShortageDTO {
	return ShortageDTO{
		ID:          s.ID,
		SaleID:      s.SaleID,
		ItemID:      s.ItemID,
		Outstanding: s.Outstanding,
		Resolved:    s.Resolved,
		ResolvedBy:  s.ResolvedBy,
		ResolvedAt:  s.ResolvedAt,
		LoggedAt:    s.LoggedAt,
		System:      s.IsSystem(),
	}
}
