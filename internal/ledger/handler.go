package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/stockbook/stockbook/internal/catalog"
	"github.com/stockbook/stockbook/internal/platform/cache"
	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/shared"
)

// Handler wires the JSON endpoints for the inventory ledger.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	repo     *Repository
	cache    *cache.JSONCache
	validate *validator.Validate
	flight   singleflight.Group
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, engine *Engine, repo *Repository, jsonCache *cache.JSONCache) *Handler {
	return &Handler{
		logger:   logger,
		engine:   engine,
		repo:     repo,
		cache:    jsonCache,
		validate: validator.New(),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleRecordMovement)
	r.Post("/movements/reverse", h.handleReverse)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/adjustments", h.handleAdjust)
	r.Get("/stock", h.handleListStock)
	r.Get("/stock/{itemType}/{itemID}", h.handleStockByItem)
	r.Get("/movements", h.handleMovementHistory)
}

type movementRequest struct {
	ItemType     string      `json:"item_type" validate:"required"`
	ItemID       int64       `json:"item_id" validate:"required,gt=0"`
	MovementType string      `json:"movement_type" validate:"required"`
	Qty          string      `json:"qty" validate:"required"`
	LocationFrom string      `json:"location_from"`
	LocationTo   string      `json:"location_to"`
	UnitCost     *string     `json:"unit_cost"`
	SupplierID   *int64      `json:"supplier_id"`
	ClientID     *int64      `json:"client_id"`
	Quality      QualityMeta `json:"quality"`
	RefID        string      `json:"ref_id"`
	OrderRef     string      `json:"order_ref"`
	ActorID      int64       `json:"actor_id"`
	Note         string      `json:"note"`
	OccurredAt   *time.Time  `json:"occurred_at"`
}

type movementResponse struct {
	Movement movementView `json:"movement"`
	Cost     *costView    `json:"cost,omitempty"`
}

type movementView struct {
	ID            int64          `json:"id"`
	Item          ItemRef        `json:"item"`
	Type          MovementType   `json:"type"`
	Qty           string         `json:"qty"`
	UnitMeasure   string         `json:"unit_measure"`
	LocationFrom  Location       `json:"location_from,omitempty"`
	LocationTo    Location       `json:"location_to,omitempty"`
	BalanceBefore string         `json:"balance_before"`
	BalanceAfter  string         `json:"balance_after"`
	UnitCost      string         `json:"unit_cost"`
	LineCost      string         `json:"line_cost"`
	Breakdown     []CostFragment `json:"cost_breakdown,omitempty"`
	SupplierName  string         `json:"supplier_name,omitempty"`
	ClientName    string         `json:"client_name,omitempty"`
	RefID         string         `json:"ref_id,omitempty"`
	TransferGroup string         `json:"transfer_group,omitempty"`
	Note          string         `json:"note,omitempty"`
	Status        MovementStatus `json:"status"`
	OccurredAt    string         `json:"occurred_at"`
}

type costView struct {
	UnitCost  string         `json:"unit_cost"`
	LineCost  string         `json:"line_cost"`
	Breakdown []CostFragment `json:"breakdown"`
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a valid number")
		return
	}
	input := MovementInput{
		Item:         ItemRef{Type: catalog.ItemType(req.ItemType), ID: req.ItemID},
		Type:         MovementType(req.MovementType),
		Qty:          qty,
		LocationFrom: Location(req.LocationFrom),
		LocationTo:   Location(req.LocationTo),
		SupplierID:   req.SupplierID,
		ClientID:     req.ClientID,
		Quality:      req.Quality,
		RefID:        req.RefID,
		OrderRef:     req.OrderRef,
		ActorID:      req.ActorID,
		Note:         req.Note,
	}
	if req.OccurredAt != nil {
		input.OccurredAt = *req.OccurredAt
	}
	if req.UnitCost != nil {
		cost, err := decimal.NewFromString(*req.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is not a valid number")
			return
		}
		input.UnitCost = &cost
	}

	movement, costInfo, err := h.engine.RecordMovement(r.Context(), input)
	if err != nil {
		h.respondError(w, "record movement", err)
		return
	}
	h.invalidateStockCache(r)

	resp := movementResponse{Movement: viewOf(movement)}
	if costInfo != nil {
		resp.Cost = &costView{
			UnitCost:  costInfo.UnitCost.String(),
			LineCost:  costInfo.LineCost.String(),
			Breakdown: costInfo.Breakdown,
		}
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

type reverseRequest struct {
	RefID   string `json:"ref_id" validate:"required"`
	ActorID int64  `json:"actor_id"`
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.engine.ReverseByReference(r.Context(), req.RefID, req.ActorID); err != nil {
		h.respondError(w, "reverse movements", err)
		return
	}
	h.invalidateStockCache(r)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "reversed"})
}

type transferRequest struct {
	ItemType string `json:"item_type" validate:"required"`
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	BatchID  string `json:"batch_id" validate:"required"`
	Qty      string `json:"qty" validate:"required"`
	From     string `json:"from" validate:"required"`
	To       string `json:"to" validate:"required"`
	ActorID  int64  `json:"actor_id"`
	Note     string `json:"note"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a valid number")
		return
	}
	err = h.engine.Transfer(r.Context(), TransferInput{
		Item:    ItemRef{Type: catalog.ItemType(req.ItemType), ID: req.ItemID},
		BatchID: req.BatchID,
		Qty:     qty,
		From:    Location(req.From),
		To:      Location(req.To),
		ActorID: req.ActorID,
		Note:    req.Note,
	})
	if err != nil {
		h.respondError(w, "transfer stock", err)
		return
	}
	h.invalidateStockCache(r)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

type adjustRequest struct {
	ItemType  string  `json:"item_type" validate:"required"`
	ItemID    int64   `json:"item_id" validate:"required,gt=0"`
	Location  string  `json:"location" validate:"required"`
	Direction string  `json:"direction" validate:"required,oneof=INCREASE DECREASE"`
	Qty       string  `json:"qty" validate:"required"`
	BatchID   string  `json:"batch_id"`
	UnitCost  *string `json:"unit_cost"`
	Reason    string  `json:"reason" validate:"required"`
	ActorID   int64   `json:"actor_id"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a valid number")
		return
	}
	input := AdjustInput{
		Item:      ItemRef{Type: catalog.ItemType(req.ItemType), ID: req.ItemID},
		Location:  Location(req.Location),
		Direction: AdjustDirection(req.Direction),
		Qty:       qty,
		BatchID:   req.BatchID,
		Reason:    req.Reason,
		ActorID:   req.ActorID,
	}
	if req.UnitCost != nil {
		cost, err := decimal.NewFromString(*req.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is not a valid number")
			return
		}
		input.UnitCost = &cost
	}
	if err := h.engine.Adjust(r.Context(), input); err != nil {
		h.respondError(w, "adjust stock", err)
		return
	}
	h.invalidateStockCache(r)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "adjusted"})
}

type stockListResponse struct {
	Items      []StockSummary    `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockFilter{
		Location: Location(q.Get("location")),
		Search:   q.Get("search"),
		Page:     atoiDefault(q.Get("page"), 1),
		PerPage:  atoiDefault(q.Get("per_page"), 20),
	}

	cacheKey := fmt.Sprintf("list:%s:%s:%d:%d", filter.Location, filter.Search, filter.Page, filter.PerPage)
	var resp stockListResponse
	if err := h.cache.Get(r.Context(), cacheKey, &resp); err == nil {
		httpx.JSON(w, http.StatusOK, resp)
		return
	}

	// Concurrent misses on the same listing share one database query.
	result, err, _ := h.flight.Do(cacheKey, func() (any, error) {
		items, page, err := h.repo.ListStock(r.Context(), filter)
		if err != nil {
			return nil, err
		}
		fresh := stockListResponse{Items: items, Pagination: page}
		if err := h.cache.Set(r.Context(), cacheKey, fresh); err != nil {
			h.logger.Warn("cache stock listing", slog.Any("error", err))
		}
		return fresh, nil
	})
	if err != nil {
		h.respondError(w, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result.(stockListResponse))
}

func (h *Handler) handleStockByItem(w http.ResponseWriter, r *http.Request) {
	itemType := catalog.ItemType(chi.URLParam(r, "itemType"))
	if !itemType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown item type")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	summaries, err := h.repo.StockByItem(r.Context(), ItemRef{Type: itemType, ID: itemID})
	if err != nil {
		h.respondError(w, "stock by item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": summaries})
}

func (h *Handler) handleMovementHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemType := catalog.ItemType(q.Get("item_type"))
	if !itemType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown item type")
		return
	}
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	filter := HistoryFilter{
		Item:     ItemRef{Type: itemType, ID: itemID},
		Location: Location(q.Get("location")),
		Page:     atoiDefault(q.Get("page"), 1),
		PerPage:  atoiDefault(q.Get("per_page"), 50),
	}
	movements, page, err := h.repo.MovementHistory(r.Context(), filter)
	if err != nil {
		h.respondError(w, "movement history", err)
		return
	}
	views := make([]movementView, 0, len(movements))
	for _, m := range movements {
		views = append(views, viewOf(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": views, "pagination": page})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *InsufficientError
	switch {
	case errors.Is(err, ErrUnknownMovementType),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrMissingLocation),
		errors.Is(err, ErrMissingUnitCost),
		errors.Is(err, ErrBatchRequired),
		errors.Is(err, ErrSameLocation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Quantity", err.Error())
	case errors.Is(err, ErrBatchConsumed):
		httpx.Problem(w, http.StatusConflict, "Reversal Blocked", err.Error())
	case errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrBatchNotFound),
		errors.Is(err, ErrNothingToReverse):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) invalidateStockCache(r *http.Request) {
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Warn("invalidate stock cache", slog.Any("error", err))
	}
}

func viewOf(m Movement) movementView {
	return movementView{
		ID:            m.ID,
		Item:          m.Item,
		Type:          m.Type,
		Qty:           m.Qty.String(),
		UnitMeasure:   m.UnitMeasure,
		LocationFrom:  m.LocationFrom,
		LocationTo:    m.LocationTo,
		BalanceBefore: m.BalanceBefore.String(),
		BalanceAfter:  m.BalanceAfter.String(),
		UnitCost:      m.UnitCost.String(),
		LineCost:      m.LineCost.String(),
		Breakdown:     m.Breakdown,
		SupplierName:  m.SupplierName,
		ClientName:    m.ClientName,
		RefID:         m.RefID,
		TransferGroup: m.TransferGroup,
		Note:          m.Note,
		Status:        m.Status,
		OccurredAt:    m.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func atoiDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
